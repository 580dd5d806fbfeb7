package calendar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fablab_calendar",
			Name:      "cache_lookups_total",
			Help:      "Formation cache lookups by result (hit, miss, expired).",
		},
		[]string{"result"},
	)

	backendFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fablab_calendar",
			Name:      "backend_fetches_total",
			Help:      "Formation list fetches by result (ok, error).",
		},
		[]string{"result"},
	)

	refreshOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fablab_calendar",
			Name:      "refresh_outcomes_total",
			Help:      "Completed refresh cycles by outcome.",
		},
		[]string{"outcome"},
	)

	publishedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fablab_calendar",
			Name:      "published_events",
			Help:      "Number of events in the last published list, static events included.",
		},
	)
)
