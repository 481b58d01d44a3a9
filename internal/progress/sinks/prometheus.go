package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// PrometheusSink exports progress as Prometheus collectors.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	manifestLines *prometheus.CounterVec
	itemDuration  prometheus.Histogram
	batchUnits    *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_events_total",
			Help: "Progress events partitioned by stage.",
		}, []string{"stage"}),
		manifestLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_manifest_lines_written_total",
			Help: "Manifest lines written partitioned by category.",
		}, []string{"category"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_item_duration_seconds",
			Help:    "Wall time spent extracting and writing one item's manifests.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		batchUnits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compact_batch_units",
			Help:    "Archive units per compaction batch.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.manifestLines,
		s.itemDuration,
		s.batchUnits,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case progress.StageManifestLine:
			s.manifestLines.WithLabelValues(evt.Category).Inc()
		case progress.StageItemDone:
			if evt.Dur > 0 {
				s.itemDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageBatchArchived:
			s.batchUnits.WithLabelValues("success").Observe(float64(evt.Count))
		case progress.StageBatchFailed:
			s.batchUnits.WithLabelValues("error").Observe(float64(evt.Count))
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
