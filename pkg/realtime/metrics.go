package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuschat_events_published_total",
		Help: "Events handed to the broadcast queue, by type.",
	}, []string{"type"})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_events_dropped_total",
		Help: "Events lost to a full broadcast queue.",
	})
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campuschat_sessions_active",
		Help: "Currently attached realtime sessions.",
	})
)
