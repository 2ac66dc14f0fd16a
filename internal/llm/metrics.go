package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bard_story_requests_total",
			Help: "Story generation requests by provider and outcome.",
		},
		[]string{"provider", "status"},
	)
	storyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bard_story_request_duration_seconds",
			Help:    "Latency of story generation requests.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

func observe(provider string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	storyRequestsTotal.WithLabelValues(provider, status).Inc()
	storyRequestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
