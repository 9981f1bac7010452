package media

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Target is one message whose media should be warmed up.
type Target struct {
	// Key is the message identity the cache entry is stored under.
	Key string
	// MediaID is the opaque attachment reference.
	MediaID string
}

// PrefetchBatch warms the cache for a batch of messages. targets must be in
// ascending time order; the newest highPriority entries are in or near the
// viewport and are fetched concurrently, the rest sequentially afterwards.
// The whole pass stops when ctx is cancelled (conversation switch). onReady
// is called for each successful resolution; it may be nil.
func (c *Cache) PrefetchBatch(ctx context.Context, targets []Target, highPriority int, onReady func(key, url string)) {
	if len(targets) == 0 {
		return
	}
	if highPriority <= 0 {
		highPriority = 1
	}

	split := len(targets) - highPriority
	if split < 0 {
		split = 0
	}
	low, high := targets[:split], targets[split:]

	go func() {
		var wg sync.WaitGroup
		for _, t := range high {
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.prefetchOne(ctx, t, onReady)
			}()
		}
		wg.Wait()

		// Background warm-up, newest remaining first.
		for i := len(low) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				return
			}
			c.prefetchOne(ctx, low[i], onReady)
		}
	}()
}

func (c *Cache) prefetchOne(ctx context.Context, t Target, onReady func(key, url string)) {
	url, err := c.Resolve(ctx, t.Key, t.MediaID)
	if err != nil {
		// Failures stay localized to the cache entry; rendering shows the
		// retry affordance.
		c.logger.Debug("prefetch miss", zap.String("key", t.Key), zap.Error(err))
		return
	}
	if onReady != nil && ctx.Err() == nil {
		onReady(t.Key, url)
	}
}
