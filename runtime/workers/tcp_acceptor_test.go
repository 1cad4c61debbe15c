package workers

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestTCPAcceptorWorker_Hands_Over_Connections_Until_Canceled(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	req.NoError(err)

	accepted := make(chan net.Conn, 1)
	worker := NewTCPAcceptorWorker(log, listener, func(ctx context.Context, conn net.Conn) {
		accepted <- conn
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- worker.Run(ctx) }()

	// When a peer connects
	client, err := net.Dial("tcp4", listener.Addr().String())
	req.NoError(err)
	defer client.Close()

	// Then the accepted socket is handed over
	select {
	case conn := <-accepted:
		_ = conn.Close()
	case <-time.After(time.Second):
		req.Fail("Connection was not accepted")
	}

	// When the context is canceled, the listener is closed and the loop ends
	cancel()
	select {
	case err = <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("Acceptor did not stop")
	}
	_, err = net.Dial("tcp4", listener.Addr().String())
	req.Error(err)
}
