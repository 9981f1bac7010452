package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultConcurrency caps in-flight transmissions. The backend throttles
// above this, so the cap is a correctness requirement, not a tuning knob.
const DefaultConcurrency = 2

// Sender transmits one media file. Implemented by the API client.
type Sender interface {
	SendMedia(ctx context.Context, conversationID, clientID, filename string, data []byte, caption string) (string, error)
}

// Hooks receive per-file outcomes during a dispatch. Either may be nil.
type Hooks struct {
	// OnSent is called with the durable server ID for a delivered file.
	OnSent func(clientID, serverID string)
	// OnFailed is called for a file whose transmission failed; the rest
	// of the batch is unaffected.
	OnFailed func(clientID, name string, err error)
}

// Pipeline dispatches staged files with bounded concurrency.
type Pipeline struct {
	sender      Sender
	concurrency int
	logger      *zap.Logger
}

// NewPipeline creates a pipeline. concurrency <= 0 uses DefaultConcurrency.
func NewPipeline(sender Sender, concurrency int, logger *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{sender: sender, concurrency: concurrency, logger: logger}
}

// Dispatch transmits all items for one conversation and blocks until every
// file has either been delivered or failed. The returned error joins one
// entry per failed file, naming it.
func (p *Pipeline) Dispatch(ctx context.Context, conversationID string, items []Item, hooks Hooks) error {
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, item := range items {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			serverID, err := p.sender.SendMedia(ctx, conversationID, item.ClientID, item.Name, item.Data, item.Caption)
			if err != nil {
				p.logger.Warn("media send failed",
					zap.String("file", item.Name), zap.String("client_id", item.ClientID), zap.Error(err))
				if hooks.OnFailed != nil {
					hooks.OnFailed(item.ClientID, item.Name, err)
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("send %s: %w", item.Name, err))
				mu.Unlock()
				return
			}
			if hooks.OnSent != nil {
				hooks.OnSent(item.ClientID, serverID)
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}
