package workers

import (
	"context"
	"log/slog"
	"time"

	"lan-chat/contract"
	"lan-chat/observability"

	"github.com/benbjohnson/clock"
)

// ReaperWorker periodically evicts peers whose heartbeat went stale and prunes
// the deduplication windows. The local user is never reaped.
type ReaperWorker struct {
	log      *slog.Logger
	clock    clock.Clock
	peers    contract.PeerTable
	pruners  []contract.Pruner
	interval time.Duration
	timeout  time.Duration
	stats    *observability.NetworkStats
}

func NewReaperWorker(log *slog.Logger, clk clock.Clock, peers contract.PeerTable, interval, timeout time.Duration,
	stats *observability.NetworkStats, pruners ...contract.Pruner) *ReaperWorker {
	return &ReaperWorker{
		log:      log,
		clock:    clk,
		peers:    peers,
		pruners:  pruners,
		interval: interval,
		timeout:  timeout,
		stats:    stats,
	}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of peers removed.
func (w *ReaperWorker) Sweep() int {
	reaped := 0
	for _, name := range w.peers.StaleNames(w.timeout) {
		if w.peers.RemoveIfStale(name, w.timeout) {
			reaped++
			w.log.Info("Peer timed out", "name", name)
		}
	}
	w.stats.AddPeersReaped(reaped)
	for _, pruner := range w.pruners {
		if n := pruner.Prune(); n > 0 {
			w.log.Debug("Pruned deduplication entries", "count", n)
		}
	}
	return reaped
}
