// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Clock = (*Clock)(nil)

// DefaultAlignInterval is the minimum spacing between alignment fetches.
const DefaultAlignInterval = 5 * time.Second

// AlignStatus reports the state of time alignment.
type AlignStatus struct {
	Aligned     bool
	Aligning    bool
	Offset      time.Duration
	LastError   string
	LastSuccess time.Time
}

// Clock owns the process-wide offset between remote and local time. Now never
// blocks; alignment failures leave the previous offset in effect.
type Clock struct {
	source  driven.TimeSource
	local   func() time.Time
	limiter *rate.Limiter
	group   singleflight.Group

	mu          sync.Mutex
	offset      time.Duration
	aligned     bool
	aligning    bool
	lastErr     error
	lastSuccess time.Time
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithLocalTime replaces the local wall clock. Tests use it to freeze time.
func WithLocalTime(now func() time.Time) ClockOption {
	return func(c *Clock) { c.local = now }
}

// NewClock creates a Clock that fetches remote time from source at most once
// per interval when driven through MaybeAlign.
func NewClock(source driven.TimeSource, interval time.Duration, opts ...ClockOption) *Clock {
	if interval <= 0 {
		interval = DefaultAlignInterval
	}
	c := &Clock{
		source:  source,
		local:   time.Now,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Align fetches the remote time and stores the new offset. Concurrent callers
// share one fetch. On failure the previous offset is kept.
func (c *Clock) Align(ctx context.Context) (time.Duration, error) {
	v, err, _ := c.group.Do("align", func() (any, error) {
		c.mu.Lock()
		c.aligning = true
		c.mu.Unlock()

		server, err := c.source.ServerTime(ctx)
		local := c.local()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.aligning = false

		if err != nil {
			c.lastErr = err
			return c.offset, err
		}
		c.offset = server.Sub(local).Truncate(time.Second)
		c.aligned = true
		c.lastErr = nil
		c.lastSuccess = local
		return c.offset, nil
	})
	return v.(time.Duration), err
}

// MaybeAlign starts a background alignment if the rate limiter allows one.
// It returns immediately.
func (c *Clock) MaybeAlign(ctx context.Context) {
	if ctx.Err() != nil || !c.limiter.Allow() {
		return
	}
	go func() {
		if _, err := c.Align(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("time alignment failed, keeping previous offset", "error", err)
		}
	}()
}

// Now returns local time plus the last good offset. A clock that was never
// aligned kicks one alignment in the background and returns local time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	offset, aligned, aligning := c.offset, c.aligned, c.aligning
	c.mu.Unlock()

	if !aligned && !aligning {
		c.MaybeAlign(context.Background())
	}
	return c.local().Add(offset)
}

// Status returns a snapshot of the alignment state.
func (c *Clock) Status() AlignStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := AlignStatus{
		Aligned:     c.aligned,
		Aligning:    c.aligning,
		Offset:      c.offset,
		LastSuccess: c.lastSuccess,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
