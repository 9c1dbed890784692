package application

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SessionCache remembers which accounts had their session refreshed during
// this process lifetime, so each account is refreshed at most once.
type SessionCache struct {
	group singleflight.Group

	mu        sync.Mutex
	refreshed map[string]struct{}
}

// NewSessionCache creates an empty SessionCache.
func NewSessionCache() *SessionCache {
	return &SessionCache{refreshed: make(map[string]struct{})}
}

// EnsureFresh runs refresh for name unless a previous call already succeeded.
// Concurrent calls for the same name share a single refresh. It reports
// whether refresh ran and succeeded in this call. A failed refresh is not
// recorded, so the next call retries it. A result arriving after ctx is
// canceled is dropped.
func (c *SessionCache) EnsureFresh(ctx context.Context, name string, refresh func(context.Context) error) (bool, error) {
	if c.Refreshed(name) {
		return false, nil
	}

	// ran is only set in the goroutine that executes the shared call; callers
	// that joined it report false.
	var ran bool
	_, err, _ := c.group.Do(name, func() (any, error) {
		if c.Refreshed(name) {
			return nil, nil
		}
		if err := refresh(ctx); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.mu.Lock()
		c.refreshed[name] = struct{}{}
		c.mu.Unlock()
		ran = true
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return ran, nil
}

// Refreshed reports whether name has a recorded successful refresh.
func (c *SessionCache) Refreshed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.refreshed[name]
	return ok
}

// Forget drops name from the set, for example after the account is removed.
func (c *SessionCache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.refreshed, name)
}

// Len returns the number of refreshed accounts.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refreshed)
}
