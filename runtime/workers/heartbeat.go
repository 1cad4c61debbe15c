package workers

import (
	"context"
	"log/slog"
	"time"

	"lan-chat/contract"
	"lan-chat/observability"

	"github.com/benbjohnson/clock"
)

// HeartbeatWorker announces the local user and its TCP port on the multicast group.
// The payload is rebuilt on every tick so a rename is announced under the new name.
type HeartbeatWorker struct {
	log       *slog.Logger
	clock     clock.Clock
	multicast contract.Multicast
	interval  time.Duration
	payload   func() []byte
	stats     *observability.NetworkStats
}

func NewHeartbeatWorker(log *slog.Logger, clk clock.Clock, multicast contract.Multicast,
	interval time.Duration, payload func() []byte, stats *observability.NetworkStats) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:       log,
		clock:     clk,
		multicast: multicast,
		interval:  interval,
		payload:   payload,
		stats:     stats,
	}
}

// Run sends a heartbeat right away, then every interval. Send failures are
// logged and retried on the next tick.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	w.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *HeartbeatWorker) beat(ctx context.Context) {
	if err := w.multicast.Send(ctx, w.payload()); err != nil {
		if ctx.Err() == nil {
			w.log.Warn("Failed to send heartbeat", "error", err)
		}
		return
	}
	w.stats.IncrDatagramsOut()
}
