// Package media resolves opaque attachment references into displayable URLs.
//
// The cache is a process-wide singleton shared across conversations: a user
// may revisit a conversation whose media is still resolving in the
// background, and the resolved URLs stay valid either way. Entries live until
// Clear (hard reset); a retry resets one entry back to idle.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Status is the per-entry resolution state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// MaxRetries bounds retries after the initial attempt. The third consecutive
// failure makes the entry permanently unavailable.
const MaxRetries = 2

// ErrUnavailable is returned once the retry bound is exhausted.
var ErrUnavailable = errors.New("media unavailable")

// Resolver exchanges a media reference for a displayable URL. attempt > 0
// signals a retry; implementations must defeat intermediate caches for
// retries (the common failure is an expired upstream token that a
// byte-identical request would keep hitting).
type Resolver interface {
	ResolveMedia(ctx context.Context, mediaID string, attempt int) (string, error)
}

type entry struct {
	status   Status
	url      string
	err      error
	attempts int           // failed attempts so far
	done     chan struct{} // non-nil while loading
}

// Cache deduplicates and caches media resolution by message identity.
type Cache struct {
	mu       sync.Mutex
	resolver Resolver
	logger   *zap.Logger
	entries  map[string]*entry
}

// NewCache creates an empty cache backed by the given resolver.
func NewCache(resolver Resolver, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		resolver: resolver,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Info is a snapshot of one entry for rendering.
type Info struct {
	Status      Status
	URL         string
	Attempts    int
	Unavailable bool
}

// Info returns the entry snapshot for key; zero-value Info (idle) if unknown.
func (c *Cache) Info(key string) Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Info{Status: StatusIdle}
	}
	return Info{
		Status:      e.status,
		URL:         e.url,
		Attempts:    e.attempts,
		Unavailable: e.status == StatusFailed && e.attempts > MaxRetries,
	}
}

// Resolve returns the displayable URL for key, fetching it via the resolver
// if needed. Concurrent calls for the same key share a single fetch. A failed
// entry returns its stored error without issuing a new fetch; use Retry to
// re-arm it.
func (c *Cache) Resolve(ctx context.Context, key, mediaID string) (string, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			e = &entry{status: StatusIdle}
			c.entries[key] = e
		}

		switch e.status {
		case StatusReady:
			url := e.url
			c.mu.Unlock()
			return url, nil

		case StatusFailed:
			err := e.err
			if e.attempts > MaxRetries {
				err = ErrUnavailable
			}
			c.mu.Unlock()
			return "", err

		case StatusLoading:
			done := e.done
			c.mu.Unlock()
			select {
			case <-done:
				// Re-read the outcome.
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue

		case StatusIdle:
			attempt := e.attempts
			e.status = StatusLoading
			done := make(chan struct{})
			e.done = done
			c.mu.Unlock()
			return c.fetch(ctx, key, mediaID, attempt, done)
		}
	}
}

func (c *Cache) fetch(ctx context.Context, key, mediaID string, attempt int, done chan struct{}) (string, error) {
	url, err := c.resolver.ResolveMedia(ctx, mediaID, attempt)

	c.mu.Lock()
	// Clear may have dropped or replaced the entry mid-flight; the outcome
	// then has nowhere to land, but waiters are still released.
	if e := c.entries[key]; e != nil && e.done == done {
		e.done = nil
		switch {
		case err == nil:
			e.status = StatusReady
			e.url = url
			e.err = nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// A cancelled fetch (conversation switch) consumes no attempt.
			e.status = StatusIdle
		default:
			e.status = StatusFailed
			e.attempts++
			e.err = err
			c.logger.Warn("media resolution failed",
				zap.String("key", key), zap.Int("attempts", e.attempts), zap.Error(err))
		}
	}
	c.mu.Unlock()
	close(done)

	if err != nil {
		return "", err
	}
	return url, nil
}

// Retry re-arms a failed entry back to idle. It is the only transition out of
// failed and is refused once the retry bound is exhausted.
func (c *Cache) Retry(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.status != StatusFailed {
		return fmt.Errorf("retry %s: entry is not failed", key)
	}
	if e.attempts > MaxRetries {
		return ErrUnavailable
	}
	e.status = StatusIdle
	e.err = nil
	return nil
}

// Clear drops all entries; the inbox hard refresh uses it to force every
// reference through the resolver again.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}
