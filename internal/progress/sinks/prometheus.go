package sinks

import (
	"context"

	"github.com/crawlkit/catalog-crawler/internal/metrics"
	"github.com/crawlkit/catalog-crawler/internal/progress"
)

// PrometheusSink translates crawl progress events into the Prometheus
// collectors owned by the metrics package. metrics.Init must be called
// before the first batch is consumed.
type PrometheusSink struct{}

// NewPrometheusSink returns a sink backed by the process-wide collectors.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume updates the collectors from the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePageDone:
		metrics.ObservePage("success")
		if evt.Items > 0 {
			metrics.ObserveItemsExtracted(evt.Items)
		}
	case progress.StagePageError:
		metrics.ObservePage("failed")
	case progress.StageItemDone:
		metrics.ObserveItemProcessed("success")
	case progress.StageItemError:
		metrics.ObserveItemProcessed("failed")
	case progress.StageJobDone:
		metrics.ObserveJob("completed")
	case progress.StageJobFailed:
		metrics.ObserveJob("failed")
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
