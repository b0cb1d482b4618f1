package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verba_turns_total",
		Help: "Completed turns by outcome.",
	}, []string{"result"})

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verba_segments_total",
		Help: "Speech segments received from the segmenter.",
	})

	bargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verba_barge_ins_total",
		Help: "Playbacks interrupted by new speech.",
	})

	modeFlipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verba_mode_flips_total",
		Help: "Backend mode switches by target mode.",
	}, []string{"mode"})

	sessionResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verba_session_resets_total",
		Help: "Conversation resets caused by the session timeout.",
	})

	stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "verba_stage_seconds",
		Help:    "Stage latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"stage", "backend"})
)
