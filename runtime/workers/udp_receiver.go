package workers

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"lan-chat/contract"
	"lan-chat/observability"
)

// maxDatagramSize is the largest UDP payload over IPv4.
const maxDatagramSize = 65507

type DatagramHandler func(payload []byte, from netip.AddrPort)

// UDPReceiverWorker reads multicast datagrams and hands them to the dispatcher.
// Any receive failure makes the channel re-join the group on the next read,
// after a short backoff.
type UDPReceiverWorker struct {
	log       *slog.Logger
	multicast contract.Multicast
	handle    DatagramHandler
	backoff   time.Duration
	stats     *observability.NetworkStats
}

func NewUDPReceiverWorker(log *slog.Logger, multicast contract.Multicast, handle DatagramHandler,
	backoff time.Duration, stats *observability.NetworkStats) *UDPReceiverWorker {
	return &UDPReceiverWorker{log: log, multicast: multicast, handle: handle, backoff: backoff, stats: stats}
}

func (w *UDPReceiverWorker) Run(ctx context.Context) error {
	w.log.Info("Starting multicast receiver")
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := w.multicast.Receive(ctx, buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.stats.IncrMulticastRejoins()
			w.log.Warn("Multicast receive failed, backing off", "error", err, "backoff", w.backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		w.stats.IncrDatagramsIn()
		payload := make([]byte, n)
		copy(payload, buf[:n])
		w.handle(payload, from)
	}
}
