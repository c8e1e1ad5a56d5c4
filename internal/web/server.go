// Package web exposes a read-only status endpoint over the auction
// journal plus the Prometheus exposition handler.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/DEFCONPRO/protocol/internal/metrics"
	"github.com/DEFCONPRO/protocol/internal/storage/auctions"
)

const journalPollInterval = 2 * time.Second

type auctionJournal interface {
	EventsAfter(index uint64) ([]auctions.Event, error)
}

// Server exposes HTTP endpoints serving auction state and an SSE stream.
type Server struct {
	Addr    string
	Journal auctionJournal
}

// NewServer creates a new status server instance.
func NewServer(addr string, journal auctionJournal) *Server {
	return &Server{Addr: addr, Journal: journal}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auctions", s.handleAuctions)
	mux.HandleFunc("/auctions/stream", s.handleAuctionStream)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAuctions(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "auction journal not available")
		return
	}

	events, err := s.Journal.EventsAfter(0)
	if err != nil {
		http.Error(w, "failed to load auction events", http.StatusInternalServerError)
		log.Printf("auctions load: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		log.Printf("auctions encode: %v", err)
	}
}

func (s *Server) handleAuctionStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "auction journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendEvents := func() error {
		events, err := s.Journal.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: auction\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = ev.Index
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load auction events", http.StatusInternalServerError)
		log.Printf("auction stream initial load: %v", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				log.Printf("auction stream poll err: %v", err)
			}
		}
	}
}
