package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCP attempts a single TCP connection to addr within timeout.
func TCP(ctx context.Context, addr string, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", addr, err)
	}
	return conn.Close()
}

// WaitTCP polls addr until a TCP connection succeeds or ctx is done.
// Each attempt uses the given per-dial timeout.
func WaitTCP(ctx context.Context, addr string, interval, timeout time.Duration) error {
	for {
		if err := TCP(ctx, addr, timeout); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for %s: %w", addr, ctx.Err())
		case <-time.After(interval):
		}
	}
}
