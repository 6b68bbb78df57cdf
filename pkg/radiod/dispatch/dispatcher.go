// Package dispatch implements the retrying, rate-limited, thread-safe
// send path: a command buffer is serialized as a single UDP datagram
// under a send lock, retried with exponential backoff on transient OS
// send failures, up to a bounded attempt count.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/ratelimit"
)

// DefaultMaxRetries and DefaultRetryDelay are the send path's defaults
// when a caller doesn't override them via Options.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// Sender is the minimal transport surface a Dispatcher writes to; a
// *net.UDPConn satisfies it via WriteTo.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetWriteDeadline(time.Time) error
}

// Options configures a single Send call.
type Options struct {
	MaxRetries int           // 0 means DefaultMaxRetries
	RetryDelay time.Duration // 0 means DefaultRetryDelay
}

// Dispatcher serializes writes to a Sender under a send lock and
// gates them through a rate limiter.
type Dispatcher struct {
	mu      sync.Mutex
	limiter *ratelimit.Limiter
	sleep   func(time.Duration)
}

// New creates a Dispatcher gated by limiter (may be nil for no rate
// limiting).
func New(limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{limiter: limiter, sleep: time.Sleep}
}

// Send writes buf to dest over conn, retrying up to opts.MaxRetries
// times with exponential backoff (opts.RetryDelay * 2^attempt) on
// transient send failures. It returns the number of bytes written on
// success, or a wrapped error after retries are exhausted.
//
// Send does not check whether the owning Controller is still open; the
// Controller checks this itself so this package stays protocol-agnostic.
func (d *Dispatcher) Send(ctx context.Context, conn Sender, dest net.Addr, buf []byte, opts Options) (int, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	if d.limiter != nil {
		d.limiter.Allow()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * (1 << uint(attempt-1))
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("dispatch: send aborted during backoff: %w", ctx.Err())
			default:
			}
			d.sleep(delay)
		}

		conn.SetWriteDeadline(time.Now().Add(1 * time.Second))
		n, err := conn.WriteTo(buf, dest)
		if err == nil && n == len(buf) {
			return n, nil
		}
		if err == nil {
			err = fmt.Errorf("incomplete write: sent %d of %d bytes", n, len(buf))
		}
		lastErr = err
	}

	return 0, fmt.Errorf("dispatch: send failed after %d attempts: %w", maxRetries+1, lastErr)
}
