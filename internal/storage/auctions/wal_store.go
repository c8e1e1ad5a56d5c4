// Package auctions persists auction lifecycle events in a WAL so the
// open-auction set survives restarts and feeds the status server.
package auctions

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

const (
	// DefaultDir default WAL location.
	DefaultDir   = "./wal/auctions"
	segmentLimit = 1000
	maxSegments  = 100

	openedKeyPrefix  = "auction_opened_"
	settledKeyPrefix = "auction_settled_"
)

// Event is one persisted auction lifecycle record.
type Event struct {
	Index   uint64          `json:"index"`
	Auction domain.Auction  `json:"auction"`
	Sold    decimal.Decimal `json:"sold"`
	Bought  decimal.Decimal `json:"bought"`
	At      time.Time       `json:"at"`
}

// WALStore is a gowal-backed auction journal.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes the journal at dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "auction_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init auction WAL")
	}

	return &WALStore{wal: wal}, nil
}

// RecordOpened writes an opened-auction event.
func (s *WALStore) RecordOpened(a domain.Auction) error {
	return s.write(fmt.Sprintf("%s%s", openedKeyPrefix, a.ID), Event{Auction: a, At: a.StartTime})
}

// RecordSettled writes a terminal event for the auction.
func (s *WALStore) RecordSettled(a domain.Auction, sold, bought decimal.Decimal) error {
	return s.write(fmt.Sprintf("%s%s", settledKeyPrefix, a.ID), Event{
		Auction: a,
		Sold:    sold,
		Bought:  bought,
		At:      time.Now(),
	})
}

func (s *WALStore) write(key string, ev Event) error {
	if s == nil || s.wal == nil {
		return errors.New("auction store is not initialized")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal auction event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// OpenAuctions replays the journal and returns auctions that were opened
// but never settled, keyed by kind. Used to repopulate the registry on
// start.
func (s *WALStore) OpenAuctions() (map[domain.TradeKind]*domain.Auction, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("auction store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make(map[domain.TradeKind]*domain.Auction)
	for msg := range s.wal.Iterator() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return nil, errors.Wrap(err, "decode auction event")
		}
		switch {
		case strings.HasPrefix(msg.Key, openedKeyPrefix):
			a := ev.Auction
			open[a.Kind] = &a
		case strings.HasPrefix(msg.Key, settledKeyPrefix):
			if cur := open[ev.Auction.Kind]; cur != nil && cur.ID == ev.Auction.ID {
				delete(open, ev.Auction.Kind)
			}
		}
	}
	return open, nil
}

// EventsAfter returns all journal events written after the WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Event, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("auction store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	events := make([]Event, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, errors.Wrap(err, "decode auction event")
		}
		ev.Index = idx
		events = append(events, ev)
	}
	return events, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("auction store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
