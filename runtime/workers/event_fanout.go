package workers

import (
	"context"
	"log/slog"
	"time"

	"lan-chat/contract"
	"lan-chat/domain/event"
)

const drainTimeout = time.Second

// EventFanout delivers queued domain events to every sink.
//
// It is the single execution context of the sinks: Consume is never called
// concurrently, so collaborators need not be reentrant-safe. Events are handed
// over in publication order. A slow sink is bounded by sinkTimeout and only
// logged, it never blocks the network loops that produced the event.
type EventFanout struct {
	log         *slog.Logger
	source      contract.EventSource
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, source contract.EventSource, sinks []contract.EventSink,
	sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{log: log, source: source, sinks: sinks, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-w.source.Ready():
			for _, evt := range w.source.FlushEvents() {
				w.Fanout(ctx, evt)
			}
		case <-ctx.Done():
			// Last disconnects published during shutdown still reach the sinks
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			for _, evt := range w.source.FlushEvents() {
				w.Fanout(drainCtx, evt)
			}
			cancel()
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Fanout One sink for each event
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Warn("Sink failed to consume event", "kind", evt.Kind(), "error", err)
		}
		cancel()
	}
}
