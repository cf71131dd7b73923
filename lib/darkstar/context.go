package darkstar

import (
	"context"
	"io"
	"time"
)

// DeadlineStream is a stream whose blocking calls can be interrupted by a
// deadline, such as net.Conn.
type DeadlineStream interface {
	io.ReadWriter
	SetDeadline(t time.Time) error
}

// aLongTimeAgo forces pending reads and writes to fail immediately.
var aLongTimeAgo = time.Unix(1, 0)

// ClientHandshakeContext runs h over conn and aborts when ctx is done.
func ClientHandshakeContext(ctx context.Context, conn DeadlineStream, h *ClientHandshake) (*SessionKeys, error) {
	return runWithContext(ctx, conn, h.Run)
}

// ServerHandshakeContext runs h over conn and aborts when ctx is done.
func ServerHandshakeContext(ctx context.Context, conn DeadlineStream, h *ServerHandshake) (*SessionKeys, error) {
	return runWithContext(ctx, conn, h.Run)
}

func runWithContext(ctx context.Context, conn DeadlineStream, run func(io.ReadWriter) (*SessionKeys, error)) (*SessionKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})
	interrupted := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(aLongTimeAgo)
			close(interrupted)
		case <-done:
		}
	}()

	keys, err := run(conn)
	close(done)
	<-exited

	select {
	case <-interrupted:
		if err == nil {
			err = ctx.Err()
		}
		return nil, WrapDarkStarError(err, "handshake interrupted")
	default:
	}

	if resetErr := conn.SetDeadline(time.Time{}); resetErr != nil && err == nil {
		return nil, resetErr
	}
	return keys, err
}
