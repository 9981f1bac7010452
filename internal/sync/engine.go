// Package sync owns the reconciled in-memory message list for the active
// conversation. It merges the initial history fetch, older pages, optimistic
// local sends and inbound realtime events into a single ordered view that
// converges to server truth.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencomm/opdesk/internal/api"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/realtime"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/upload"
	"go.uber.org/zap"
)

// Backend is the slice of the API client the engine needs.
type Backend interface {
	History(ctx context.Context, conversationID, before string, limit int) (*api.HistoryPage, error)
	SendText(ctx context.Context, conversationID, clientID, body string) (string, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// SendFailure is the bus payload for a rolled-back optimistic send.
type SendFailure struct {
	ConversationID string
	Name           string // file name for media sends, empty for text
	Err            error
}

// Engine synchronizes one active conversation at a time. All state except the
// process-wide media cache is reset on conversation switch; in-flight work
// from the previous selection is cancelled and its results discarded via a
// generation guard checked at every resumption point.
type Engine struct {
	backend  Backend
	pipeline *upload.Pipeline
	cache    *media.Cache
	db       *store.DB // write-through inbox cache; may be nil
	bus      *bus.Bus
	logger   *zap.Logger

	pageSize     int
	prefetchHigh int

	mu      gosync.Mutex
	gen     int
	selCtx  context.Context
	selStop context.CancelFunc
	active  string
	msgs    []store.Message
	loading bool
	loadErr error
	pager   pager

	stop context.CancelFunc
}

// NewEngine creates an engine. db may be nil (no persistence).
func NewEngine(backend Backend, pipeline *upload.Pipeline, cache *media.Cache, db *store.DB, b *bus.Bus, logger *zap.Logger, pageSize, prefetchHigh int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if prefetchHigh <= 0 {
		prefetchHigh = 10
	}
	return &Engine{
		backend:      backend,
		pipeline:     pipeline,
		cache:        cache,
		db:           db,
		bus:          b,
		logger:       logger,
		pageSize:     pageSize,
		prefetchHigh: prefetchHigh,
		pager:        newPager(),
	}
}

// Start subscribes to realtime events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.stop = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleBusEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the bus subscription and cancels selection-scoped work.
func (e *Engine) Stop() {
	if e.stop != nil {
		e.stop()
	}
	e.mu.Lock()
	if e.selStop != nil {
		e.selStop()
	}
	e.mu.Unlock()
}

// Active returns the active conversation ID.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Messages returns a snapshot of the reconciled list, ascending by time.
func (e *Engine) Messages() []store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]store.Message, len(e.msgs))
	copy(out, e.msgs)
	return out
}

// Loading reports the initial-fetch state and its error, if any.
func (e *Engine) Loading() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading, e.loadErr
}

// PageState reports whether older history remains and whether a page load is
// in flight.
func (e *Engine) PageState() (hasMore, inFlight bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.hasMore, e.pager.inFlight
}

// SelectConversation switches the active conversation: cancels work tied to
// the previous one, resets per-conversation state, fetches the newest history
// page and kicks off the media prefetch pass.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.active == id && e.loadErr == nil {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	g := e.gen
	if e.selStop != nil {
		e.selStop()
	}
	selCtx, cancel := context.WithCancel(ctx)
	e.selCtx = selCtx
	e.selStop = cancel
	e.active = id
	e.msgs = nil
	e.pager = newPager()
	e.loading = true
	e.loadErr = nil
	e.mu.Unlock()
	e.publishRefresh(id)

	page, err := e.backend.History(selCtx, id, "", e.pageSize)

	e.mu.Lock()
	if g != e.gen {
		// The user has moved on; this response belongs to a dead view.
		e.mu.Unlock()
		return nil
	}
	e.loading = false
	if err != nil {
		e.loadErr = err
		e.mu.Unlock()
		e.bus.Publish(bus.Event{Kind: bus.KindConvLoadFailed, Timestamp: time.Now(), Payload: err})
		e.hydrateFromCache(id, g)
		return fmt.Errorf("select conversation: %w", err)
	}
	e.msgs = ascending(page.Messages)
	e.pager.cursor = page.NextCursor
	e.pager.hasMore = page.HasMore
	targets := mediaTargets(e.msgs)
	e.mu.Unlock()

	e.publishRefresh(id)
	e.persistMessages(page.Messages)
	e.cache.PrefetchBatch(selCtx, targets, e.prefetchHigh, e.mediaReadyFunc(g))
	return nil
}

// hydrateFromCache fills the view from the local inbox cache after a failed
// history fetch, so previously synced messages stay readable offline. The
// load error stays set; re-selecting the conversation retries the fetch.
func (e *Engine) hydrateFromCache(id string, g int) {
	if e.db == nil {
		return
	}
	rows, err := e.db.ListMessages(id, 0, e.pageSize)
	if err != nil {
		e.logger.Warn("hydrate from cache", zap.String("conversation", id), zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	e.mu.Lock()
	if g != e.gen {
		e.mu.Unlock()
		return
	}
	e.msgs = ascending(rows)
	e.mu.Unlock()
	e.publishRefresh(id)
}

// LoadOlder extends the list backward by one page. It is a no-op while a load
// is in flight or when the history is exhausted. Returns how many messages
// were prepended so the caller can re-anchor its scroll position.
func (e *Engine) LoadOlder(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.active == "" || !e.pager.hasMore || e.pager.inFlight {
		e.mu.Unlock()
		return 0, nil
	}
	e.pager.inFlight = true
	g := e.gen
	id := e.active
	cursor := e.pager.cursor
	selCtx := e.selCtx
	e.mu.Unlock()

	page, err := e.backend.History(ctx, id, cursor, e.pageSize)

	e.mu.Lock()
	if g != e.gen {
		e.mu.Unlock()
		return 0, nil
	}
	e.pager.inFlight = false
	if err != nil {
		e.mu.Unlock()
		e.bus.Publish(bus.Event{Kind: bus.KindConvLoadFailed, Timestamp: time.Now(), Payload: err})
		return 0, fmt.Errorf("load older: %w", err)
	}
	var added int
	e.msgs, added = mergeOlder(e.msgs, page.Messages)
	e.pager.cursor = page.NextCursor
	e.pager.hasMore = page.HasMore
	targets := mediaTargets(e.msgs)
	e.mu.Unlock()

	if added > 0 {
		e.publishRefresh(id)
		e.persistMessages(page.Messages)
		e.cache.PrefetchBatch(selCtx, targets, e.prefetchHigh, e.mediaReadyFunc(g))
	}
	return added, nil
}

// SendText appends an optimistic message immediately, then transmits it. On
// success the server identity replaces the temporary one in place; on failure
// the optimistic message is rolled back and the error returned.
func (e *Engine) SendText(ctx context.Context, body string) error {
	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return fmt.Errorf("send text: no active conversation")
	}
	g := e.gen
	id := e.active
	m := store.Message{
		ClientID:       uuid.New().String(),
		ConversationID: id,
		Direction:      store.DirectionOutbound,
		Body:           body,
		Kind:           store.KindText,
		Status:         store.StatusSending,
		Timestamp:      time.Now().UnixMilli(),
	}
	e.msgs = insertSorted(e.msgs, m)
	e.mu.Unlock()
	e.publishRefresh(id)

	serverID, err := e.backend.SendText(ctx, id, m.ClientID, body)

	e.mu.Lock()
	if err != nil {
		if g == e.gen {
			e.removeByClientLocked(m.ClientID)
		}
		e.mu.Unlock()
		e.discardPersisted(id, m.ClientID)
		e.publishRefresh(id)
		e.bus.Publish(bus.Event{Kind: bus.KindConvSendFailed, Timestamp: time.Now(),
			Payload: SendFailure{ConversationID: id, Err: err}})
		return fmt.Errorf("send text: %w", err)
	}
	var confirmed store.Message
	if g == e.gen {
		confirmed = e.confirmSendLocked(m.ClientID, serverID)
	}
	e.mu.Unlock()
	e.publishRefresh(id)
	if confirmed.Key() != "" {
		e.persistMessages([]store.Message{confirmed})
	}
	return nil
}

// SendMedia inserts one optimistic placeholder per file in a single critical
// section (the view never observes a partial batch), then dispatches the
// files through the upload pipeline. Each failure rolls back only its own
// placeholder.
func (e *Engine) SendMedia(ctx context.Context, items []upload.Item) error {
	if len(items) == 0 {
		return nil
	}
	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return fmt.Errorf("send media: no active conversation")
	}
	g := e.gen
	id := e.active
	now := time.Now().UnixMilli()
	for _, item := range items {
		e.msgs = insertSorted(e.msgs, store.Message{
			ClientID:       item.ClientID,
			ConversationID: id,
			Direction:      store.DirectionOutbound,
			Body:           item.Caption,
			Kind:           item.Kind,
			Status:         store.StatusSending,
			Timestamp:      now,
			LocalPreview:   item.PreviewRef,
		})
	}
	e.mu.Unlock()
	e.publishRefresh(id)

	hooks := upload.Hooks{
		OnSent: func(clientID, serverID string) {
			e.mu.Lock()
			var confirmed store.Message
			if g == e.gen {
				confirmed = e.confirmSendLocked(clientID, serverID)
			}
			e.mu.Unlock()
			e.publishRefresh(id)
			if confirmed.Key() != "" {
				e.persistMessages([]store.Message{confirmed})
			}
		},
		OnFailed: func(clientID, name string, err error) {
			e.mu.Lock()
			if g == e.gen {
				e.removeByClientLocked(clientID)
			}
			e.mu.Unlock()
			e.discardPersisted(id, clientID)
			e.publishRefresh(id)
			e.bus.Publish(bus.Event{Kind: bus.KindConvSendFailed, Timestamp: time.Now(),
				Payload: SendFailure{ConversationID: id, Name: name, Err: err}})
		},
	}
	return e.pipeline.Dispatch(ctx, id, items, hooks)
}

// MarkRead optimistically clears the unread counter. The backend call is best
// effort; the local view does not wait for it.
func (e *Engine) MarkRead(ctx context.Context) error {
	e.mu.Lock()
	id := e.active
	e.mu.Unlock()
	if id == "" {
		return nil
	}

	if e.db != nil {
		if err := e.db.SetUnreadCount(id, 0); err != nil {
			e.logger.Warn("persist read state", zap.Error(err))
		}
	}
	e.bus.Publish(bus.Event{Kind: bus.KindInboxUpdated, Timestamp: time.Now(), Payload: id})

	go func() {
		if err := e.backend.MarkRead(ctx, id); err != nil {
			e.logger.Warn("mark read upstream", zap.String("conversation", id), zap.Error(err))
		}
	}()
	return nil
}

func (e *Engine) handleBusEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case realtime.MessageEvent:
		switch payload.Op {
		case realtime.OpInsert:
			e.applyInsert(payload)
		case realtime.OpUpdate:
			e.applyUpdate(payload)
		}
	case realtime.ConversationEvent:
		e.applyConversation(payload)
	}
}

// applyInsert handles a realtime message insert. Inserts for conversations
// other than the active one only feed the inbox cache; inserts matching an
// existing identity are absorbed idempotently; inserts matching an optimistic
// placeholder reconcile it in place, the event winning for server-assigned
// fields.
func (e *Engine) applyInsert(evt realtime.MessageEvent) {
	// Before any selection the active ID is empty; a frame missing its
	// conversation ID must not match it.
	if evt.ConversationID == "" {
		return
	}
	m := evt.Message

	e.mu.Lock()
	if evt.ConversationID != e.active {
		e.mu.Unlock()
		e.persistMessages([]store.Message{m})
		e.bus.Publish(bus.Event{Kind: bus.KindInboxUpdated, Timestamp: time.Now(), Payload: evt.ConversationID})
		return
	}
	g := e.gen
	selCtx := e.selCtx

	if i := e.findLocked(m.ClientID, m.ID); i >= 0 {
		cur := &e.msgs[i]
		if cur.ID == "" || cur.ID == m.ID {
			// Reconcile the optimistic placeholder (or absorb a duplicate):
			// server-assigned fields win, the local preview survives.
			cur.ID = m.ID
			cur.Status = store.AdvanceStatus(cur.Status, m.Status)
			cur.Timestamp = m.Timestamp
			e.patchMediaLocked(cur, m)
		}
		snapshot := *cur
		e.mu.Unlock()
		e.publishRefresh(evt.ConversationID)
		e.persistMessages([]store.Message{snapshot})
		return
	}

	e.msgs = insertSorted(e.msgs, m)
	var targets []media.Target
	if wantsPrefetch(m) {
		targets = []media.Target{{Key: m.Key(), MediaID: m.MediaID}}
	}
	e.mu.Unlock()

	e.publishRefresh(evt.ConversationID)
	e.persistMessages([]store.Message{m})
	if len(targets) > 0 {
		e.cache.PrefetchBatch(selCtx, targets, 1, e.mediaReadyFunc(g))
	}
}

// applyUpdate patches fields on a matching message. Updates with no match are
// dropped silently: they routinely arrive for conversations that are not
// open.
func (e *Engine) applyUpdate(evt realtime.MessageEvent) {
	if evt.ConversationID == "" {
		return
	}
	m := evt.Message

	e.mu.Lock()
	if evt.ConversationID != e.active {
		e.mu.Unlock()
		return
	}
	i := e.findLocked(m.ClientID, m.ID)
	if i < 0 {
		e.mu.Unlock()
		return
	}
	cur := &e.msgs[i]
	if m.Status != "" {
		cur.Status = store.AdvanceStatus(cur.Status, m.Status)
	}
	e.patchMediaLocked(cur, m)
	snapshot := *cur
	e.mu.Unlock()

	e.publishRefresh(evt.ConversationID)
	e.persistMessages([]store.Message{snapshot})
}

func (e *Engine) applyConversation(evt realtime.ConversationEvent) {
	if e.db != nil {
		if err := e.db.UpsertConversation(&evt.Conversation); err != nil {
			e.logger.Warn("persist conversation", zap.Error(err))
		}
	}
	e.bus.Publish(bus.Event{Kind: bus.KindInboxUpdated, Timestamp: time.Now(), Payload: evt.Conversation.ID})
}

// confirmSendLocked replaces the temporary identity of an optimistic message
// with the durable one. The realtime confirmation may already have arrived;
// the status only ever moves forward.
func (e *Engine) confirmSendLocked(clientID, serverID string) store.Message {
	i := e.findLocked(clientID, serverID)
	if i < 0 {
		return store.Message{}
	}
	cur := &e.msgs[i]
	cur.ID = serverID
	cur.Status = store.AdvanceStatus(cur.Status, store.StatusSent)
	return *cur
}

// discardPersisted deletes a rolled-back send from the inbox cache. The row
// exists when a realtime confirmation persisted it before the request failed.
func (e *Engine) discardPersisted(conversationID, clientID string) {
	if e.db == nil {
		return
	}
	if err := e.db.DeleteMessage(conversationID, clientID); err != nil {
		e.logger.Warn("discard rolled-back send", zap.String("key", clientID), zap.Error(err))
	}
}

func (e *Engine) removeByClientLocked(clientID string) {
	for i := range e.msgs {
		if e.msgs[i].ClientID == clientID {
			e.msgs = append(e.msgs[:i], e.msgs[i+1:]...)
			return
		}
	}
}

// findLocked locates a message by correlation key first, then by server
// identity. Returns -1 when absent.
func (e *Engine) findLocked(clientID, serverID string) int {
	if clientID != "" {
		for i := range e.msgs {
			if e.msgs[i].ClientID == clientID {
				return i
			}
		}
	}
	if serverID != "" {
		for i := range e.msgs {
			if e.msgs[i].ID == serverID {
				return i
			}
		}
	}
	return -1
}

func (e *Engine) patchMediaLocked(cur *store.Message, m store.Message) {
	if m.MediaID != "" {
		cur.MediaID = m.MediaID
	}
	if m.MediaURL != "" {
		cur.MediaURL = m.MediaURL
	}
	if m.PreviewURL != "" {
		cur.PreviewURL = m.PreviewURL
	}
	if m.ThumbURL != "" {
		cur.ThumbURL = m.ThumbURL
	}
}

// mediaReadyFunc binds a prefetch callback to the generation it was started
// under; resolutions landing after a conversation switch update only the
// shared cache, never the new view.
func (e *Engine) mediaReadyFunc(g int) func(key, url string) {
	return func(key, url string) {
		e.mu.Lock()
		if g != e.gen {
			e.mu.Unlock()
			return
		}
		var id string
		for i := range e.msgs {
			if e.msgs[i].Key() == key {
				if e.msgs[i].MediaURL == "" {
					e.msgs[i].MediaURL = url
				}
				id = e.msgs[i].ConversationID
				break
			}
		}
		e.mu.Unlock()
		if id != "" {
			e.publishRefresh(id)
		}
	}
}

// mediaTargets collects messages that render media but have no resolved URL
// yet, in list (ascending time) order.
func mediaTargets(msgs []store.Message) []media.Target {
	var targets []media.Target
	for i := range msgs {
		if wantsPrefetch(msgs[i]) {
			targets = append(targets, media.Target{Key: msgs[i].Key(), MediaID: msgs[i].MediaID})
		}
	}
	return targets
}

func wantsPrefetch(m store.Message) bool {
	return m.Kind == store.KindImage && m.MediaID != "" && !m.HasResolvedMedia()
}

func (e *Engine) publishRefresh(conversationID string) {
	e.bus.Publish(bus.Event{Kind: bus.KindConvRefresh, Timestamp: time.Now(), Payload: conversationID})
}

// persistMessages writes through to the inbox cache, best effort.
func (e *Engine) persistMessages(msgs []store.Message) {
	if e.db == nil || len(msgs) == 0 {
		return
	}
	var newest store.Message
	for i := range msgs {
		if err := e.db.UpsertMessage(&msgs[i]); err != nil {
			e.logger.Warn("persist message", zap.String("key", msgs[i].Key()), zap.Error(err))
			continue
		}
		if msgs[i].Timestamp > newest.Timestamp {
			newest = msgs[i]
		}
	}
	if newest.ConversationID != "" {
		if err := e.db.TouchConversation(newest.ConversationID, newest.Timestamp, preview(newest)); err != nil {
			e.logger.Warn("touch conversation", zap.Error(err))
		}
	}
}

func preview(m store.Message) string {
	if m.Kind != store.KindText && m.Body == "" {
		return "[" + m.Kind + "]"
	}
	if len(m.Body) > 100 {
		return m.Body[:100]
	}
	return m.Body
}
