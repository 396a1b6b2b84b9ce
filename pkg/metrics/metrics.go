// Package metrics exposes Prometheus collectors for highlight extraction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highlight_extractions_total",
		Help: "Total number of extractions, by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "highlight_stage_duration_seconds",
		Help:    "Duration of extraction stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highlight_frames_scanned_total",
		Help: "Total number of frames run through a detector, by pass",
	}, []string{"pass"})

	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "highlight_triggers_total",
		Help: "Total number of selected trigger frames, by detector kind",
	}, []string{"kind"})

	FramesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "highlight_frames_written_total",
		Help: "Total number of frames written to output segments",
	})

	BufferedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "highlight_buffered_bytes",
		Help: "Bytes of decoded frames currently held for the face pass",
	})

	ActiveExtractions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "highlight_active_extractions",
		Help: "Number of extractions in progress",
	})
)
