// Package model caches backend state for the views and mediates between the
// UI thread and the synchronization engine.
package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencomm/opdesk/internal/api"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/store"
	intsync "github.com/opencomm/opdesk/internal/sync"
	"github.com/opencomm/opdesk/internal/upload"
)

// maxUploadSize rejects files the backend would bounce anyway.
const maxUploadSize = 64 << 20

// ViewModel caches inbox state and forwards user actions to the engine.
type ViewModel struct {
	mu sync.RWMutex

	engine *intsync.Engine
	client *api.Client
	db     *store.DB
	cache  *media.Cache
	queue  *upload.Queue
	bus    *bus.Bus

	conversations []store.Conversation
	Flash         Flash
}

// NewViewModel creates a view model over the engine and its collaborators.
func NewViewModel(engine *intsync.Engine, client *api.Client, db *store.DB, cache *media.Cache, queue *upload.Queue, b *bus.Bus) *ViewModel {
	return &ViewModel{
		engine: engine,
		client: client,
		db:     db,
		cache:  cache,
		queue:  queue,
		bus:    b,
	}
}

// LoadInbox refreshes the conversation list from the backend, falling back to
// the local cache when the backend is unreachable.
func (vm *ViewModel) LoadInbox(ctx context.Context) error {
	convs, err := vm.client.ListConversations(ctx)
	if err != nil {
		cached, dbErr := vm.db.ListConversations(500, 0)
		if dbErr != nil || len(cached) == 0 {
			return fmt.Errorf("load inbox: %w", err)
		}
		vm.setConversations(cached)
		return nil
	}
	for i := range convs {
		_ = vm.db.UpsertConversation(&convs[i])
	}
	vm.setConversations(convs)
	return nil
}

// HardRefresh drops every cached media resolution and reloads the inbox from
// the backend. Stale media URLs (expired CDN tokens) survive ordinary
// refreshes; this is the user's way out.
func (vm *ViewModel) HardRefresh(ctx context.Context) error {
	vm.cache.Clear()
	return vm.LoadInbox(ctx)
}

// ReloadInboxFromCache re-reads the local conversation cache. Used when the
// realtime feed reports inbox changes; the cache is already up to date.
func (vm *ViewModel) ReloadInboxFromCache() {
	cached, err := vm.db.ListConversations(500, 0)
	if err != nil {
		return
	}
	vm.setConversations(cached)
}

func (vm *ViewModel) setConversations(convs []store.Conversation) {
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
}

// Conversations returns a snapshot of the inbox list.
func (vm *ViewModel) Conversations() []store.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]store.Conversation, len(vm.conversations))
	copy(out, vm.conversations)
	return out
}

// ConversationName resolves a display name for a conversation ID, falling
// back to the local cache for conversations not in the current snapshot
// (search results reach threads the inbox page never listed).
func (vm *ViewModel) ConversationName(id string) string {
	vm.mu.RLock()
	for i := range vm.conversations {
		if vm.conversations[i].ID == id {
			name, phone := vm.conversations[i].Name, vm.conversations[i].Phone
			vm.mu.RUnlock()
			if name != "" {
				return name
			}
			return phone
		}
	}
	vm.mu.RUnlock()
	if conv, err := vm.db.GetConversation(id); err == nil {
		if conv.Name != "" {
			return conv.Name
		}
		if conv.Phone != "" {
			return conv.Phone
		}
	}
	return id
}

// Open makes a conversation active and clears its unread counter.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.engine.SelectConversation(ctx, id); err != nil {
		return err
	}
	return vm.engine.MarkRead(ctx)
}

// ActiveConversation returns the active conversation ID.
func (vm *ViewModel) ActiveConversation() string {
	return vm.engine.Active()
}

// Messages returns the reconciled message list for the active conversation.
func (vm *ViewModel) Messages() []store.Message {
	return vm.engine.Messages()
}

// Loading reports the initial history fetch state.
func (vm *ViewModel) Loading() (bool, error) {
	return vm.engine.Loading()
}

// SendText sends a text message through the engine.
func (vm *ViewModel) SendText(ctx context.Context, body string) error {
	return vm.engine.SendText(ctx, body)
}

// LoadOlder extends history backward; returns how many messages were added.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	return vm.engine.LoadOlder(ctx)
}

// HasOlder reports whether more history remains.
func (vm *ViewModel) HasOlder() bool {
	hasMore, _ := vm.engine.PageState()
	return hasMore
}

// StageFile reads a local file into the attachment queue.
func (vm *ViewModel) StageFile(path string) (upload.Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return upload.Item{}, fmt.Errorf("stage file: %w", err)
	}
	if info.Size() > maxUploadSize {
		return upload.Item{}, fmt.Errorf("stage file: %s exceeds the 64 MiB limit", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return upload.Item{}, fmt.Errorf("stage file: %w", err)
	}
	return vm.queue.Add(filepath.Base(path), data), nil
}

// StagedFiles returns the attachment queue snapshot.
func (vm *ViewModel) StagedFiles() []upload.Item {
	return vm.queue.Items()
}

// SetCaption updates the caption on a staged file.
func (vm *ViewModel) SetCaption(clientID, caption string) error {
	return vm.queue.SetCaption(clientID, caption)
}

// Unstage removes a staged file.
func (vm *ViewModel) Unstage(clientID string) error {
	return vm.queue.Remove(clientID)
}

// SendStaged drains the attachment queue into the engine as one batch.
func (vm *ViewModel) SendStaged(ctx context.Context) error {
	items := vm.queue.Drain()
	if len(items) == 0 {
		return nil
	}
	return vm.engine.SendMedia(ctx, items)
}

// MediaInfo returns the media resolution state for a message key.
func (vm *ViewModel) MediaInfo(key string) media.Info {
	return vm.cache.Info(key)
}

// RetryMedia re-arms a failed media resolution and fetches it again.
func (vm *ViewModel) RetryMedia(ctx context.Context, key, mediaID string) error {
	if err := vm.cache.Retry(key); err != nil {
		return err
	}
	go func() {
		if _, err := vm.cache.Resolve(ctx, key, mediaID); err != nil {
			return
		}
		vm.bus.Publish(bus.Event{Kind: bus.KindConvRefresh, Timestamp: time.Now(), Payload: vm.engine.Active()})
	}()
	return nil
}

// Search queries the local message cache across all conversations.
func (vm *ViewModel) Search(query string) ([]store.SearchResult, error) {
	return vm.db.SearchMessages(query, "", 50)
}
