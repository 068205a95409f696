package ratelimiter

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle allows one action per interval and is safe for concurrent use.
// A zero interval allows every action.
type Throttle struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
}

// NewThrottle creates a throttle with the specified interval
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether an action may run now and records it if so
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.lastAllowed.IsZero() || now.Sub(t.lastAllowed) >= t.interval {
		t.lastAllowed = now
		return true
	}
	return false
}

// Reset clears the throttle state, allowing the next action immediately
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.lastAllowed = time.Time{}
	t.mu.Unlock()
}

// Interval returns the configured interval
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Bandwidth limits throughput in bytes per second.
// A nil *Bandwidth never blocks.
type Bandwidth struct {
	limiter *rate.Limiter
}

// NewBandwidth creates a bandwidth limiter. Returns nil for bytesPerSec <= 0.
func NewBandwidth(bytesPerSec int64) *Bandwidth {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst > 1<<20 {
		burst = 1 << 20
	}
	return &Bandwidth{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WaitN blocks until n bytes may be consumed or ctx is done
func (b *Bandwidth) WaitN(ctx context.Context, n int) error {
	if b == nil {
		return nil
	}
	burst := b.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Reader wraps r so reads are paced by b
func (b *Bandwidth) Reader(ctx context.Context, r io.Reader) io.Reader {
	if b == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, b: b}
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	b   *Bandwidth
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		if waitErr := l.b.WaitN(l.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
