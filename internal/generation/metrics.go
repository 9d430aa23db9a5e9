package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skkn_stage_actions_total",
		Help: "Upstream actions run by sessions, by action and outcome.",
	}, []string{"action", "status"})

	sectionReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skkn_section_reviews_total",
		Help: "Review decisions on solution sections.",
	}, []string{"decision"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skkn_active_sessions",
		Help: "Sessions held in the registry.",
	})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skkn_session_events_dropped_total",
		Help: "Events not delivered to a slow subscriber.",
	})
)
