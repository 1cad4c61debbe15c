package workers

import (
	"context"
	"log/slog"
	"time"

	"lan-chat/observability"

	"github.com/benbjohnson/clock"
)

// HealthMonitoringWorker periodically logs the network counters and the
// process footprint, so a long-running client leaves a trace of its health.
type HealthMonitoringWorker struct {
	log      *slog.Logger
	clock    clock.Clock
	interval time.Duration
	snapshot func() observability.NetworkSnapshot
	self     func() (observability.ProcessStats, error)
}

func NewHealthMonitoringWorker(log *slog.Logger, clk clock.Clock, interval time.Duration,
	snapshot func() observability.NetworkSnapshot) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:      log,
		clock:    clk,
		interval: interval,
		snapshot: snapshot,
		self:     observability.SelfStats,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *HealthMonitoringWorker) report() {
	snap := w.snapshot()
	attrs := []any{
		"datagrams_in", snap.DatagramsIn,
		"datagrams_out", snap.DatagramsOut,
		"frames_in", snap.FramesIn,
		"frames_out", snap.FramesOut,
		"dropped", snap.MalformedDropped + snap.DuplicatesDropped,
		"connect_failures", snap.ConnectFailures,
		"peers_reaped", snap.PeersReaped,
		"goroutines", snap.NumGoroutine,
	}
	proc, err := w.self()
	if err != nil {
		w.log.Debug("Error while retrieving process stats", "error", err)
	} else {
		attrs = append(attrs, "rss", proc.RSS, "cpu", proc.CPUPercent, "status", proc.Status)
	}
	w.log.Info("Health report", attrs...)
}
