package workers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"time"
)

const acceptBackoff = 50 * time.Millisecond

type ConnHandler func(ctx context.Context, conn net.Conn)

// TCPAcceptorWorker accepts inbound peer connections until the listener is closed.
// Each accepted connection is handed over and served elsewhere.
type TCPAcceptorWorker struct {
	log      *slog.Logger
	listener net.Listener
	handle   ConnHandler
}

func NewTCPAcceptorWorker(log *slog.Logger, listener net.Listener, handle ConnHandler) *TCPAcceptorWorker {
	return &TCPAcceptorWorker{log: log, listener: listener, handle: handle}
}

func (w *TCPAcceptorWorker) Run(ctx context.Context) error {
	w.log.Info("Accepting peer connections", "address", w.listener.Addr().String())
	stop := context.AfterFunc(ctx, func() { _ = w.listener.Close() })
	defer stop()

	for {
		conn, err := w.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			w.log.Warn("Accept failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}
		w.handle(ctx, conn)
	}
}
