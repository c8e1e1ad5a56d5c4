// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts rebalance cycles executed.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recol_cycles_total",
		Help: "Total number of rebalance cycles executed",
	})

	// AuctionsOpened counts auctions opened, partitioned by kind.
	AuctionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recol_auctions_opened_total",
		Help: "Auctions opened by the rebalancer",
	}, []string{"kind"})

	// AuctionsSettled counts settled auctions by kind and outcome.
	AuctionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recol_auctions_settled_total",
		Help: "Auctions settled, by kind and status",
	}, []string{"kind", "status"})

	// HaircutsTotal counts basket-unit target reductions.
	HaircutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recol_haircuts_total",
		Help: "Haircuts applied when no trade could close the shortfall",
	})

	// BasketRangeBottom is the last computed pessimistic basket-unit count.
	BasketRangeBottom = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recol_basket_range_bottom",
		Help: "Achievable basket units, pessimistic bound",
	})

	// BasketRangeTop is the last computed optimistic basket-unit count.
	BasketRangeTop = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recol_basket_range_top",
		Help: "Achievable basket units, optimistic bound",
	})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
