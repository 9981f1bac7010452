package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/opencomm/opdesk/internal/api"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/realtime"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/upload"
)

type fakeBackend struct {
	mu        gosync.Mutex
	historyFn func(ctx context.Context, conversationID, before string, limit int) (*api.HistoryPage, error)
	sendFn    func(ctx context.Context, conversationID, clientID, body string) (string, error)
	markReads []string
}

func (f *fakeBackend) History(ctx context.Context, conversationID, before string, limit int) (*api.HistoryPage, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, conversationID, before, limit)
	}
	return &api.HistoryPage{}, nil
}

func (f *fakeBackend) SendText(ctx context.Context, conversationID, clientID, body string) (string, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, conversationID, clientID, body)
	}
	return "srv-" + clientID, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.markReads = append(f.markReads, conversationID)
	f.mu.Unlock()
	return nil
}

type fakeSender struct {
	fn func(ctx context.Context, conversationID, clientID, filename string, data []byte, caption string) (string, error)
}

func (f *fakeSender) SendMedia(ctx context.Context, conversationID, clientID, filename string, data []byte, caption string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, conversationID, clientID, filename, data, caption)
	}
	return "srv-" + clientID, nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveMedia(ctx context.Context, mediaID string, attempt int) (string, error) {
	return "https://cdn.test/" + mediaID, nil
}

func newTestEngine(backend *fakeBackend, sender *fakeSender) (*Engine, *bus.Bus) {
	if sender == nil {
		sender = &fakeSender{}
	}
	b := bus.New()
	e := NewEngine(backend,
		upload.NewPipeline(sender, 2, nil),
		media.NewCache(fakeResolver{}, nil),
		nil, b, nil, 20, 5)
	return e, b
}

func newTestEngineDB(t *testing.T, backend *fakeBackend) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	e := NewEngine(backend,
		upload.NewPipeline(&fakeSender{}, 2, nil),
		media.NewCache(fakeResolver{}, nil),
		db, bus.New(), nil, 20, 5)
	return e, db
}

func historyPage(ids []string, firstTS int64, next string, more bool) *api.HistoryPage {
	// Pages are delivered newest-first.
	page := &api.HistoryPage{NextCursor: next, HasMore: more}
	ts := firstTS
	for _, id := range ids {
		page.Messages = append(page.Messages, store.Message{
			ID: id, ConversationID: "c1", Direction: store.DirectionInbound,
			Body: id, Kind: store.KindText, Status: store.StatusDelivered, Timestamp: ts,
		})
		ts--
	}
	return page
}

func TestSelectConversationLoadsNewestPage(t *testing.T) {
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			if id != "c1" || before != "" {
				t.Errorf("History(%q, %q)", id, before)
			}
			return historyPage([]string{"m3", "m2", "m1"}, 30, "cur-1", true), nil
		},
	}
	e, _ := newTestEngine(backend, nil)

	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	msgs := e.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, id := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}
	if loading, err := e.Loading(); loading || err != nil {
		t.Errorf("Loading() = %v, %v", loading, err)
	}
	if hasMore, inFlight := e.PageState(); !hasMore || inFlight {
		t.Errorf("PageState() = %v, %v", hasMore, inFlight)
	}
}

func TestSelectConversationFetchError(t *testing.T) {
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			return nil, errors.New("backend down")
		},
	}
	e, _ := newTestEngine(backend, nil)

	if err := e.SelectConversation(context.Background(), "c1"); err == nil {
		t.Fatal("want error")
	}
	if loading, err := e.Loading(); loading || err == nil {
		t.Errorf("Loading() = %v, %v, want settled error", loading, err)
	}
}

func TestReselectAfterFetchErrorRetries(t *testing.T) {
	calls := 0
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("backend down")
			}
			return historyPage([]string{"m1"}, 10, "", false), nil
		},
	}
	e, _ := newTestEngine(backend, nil)

	if err := e.SelectConversation(context.Background(), "c1"); err == nil {
		t.Fatal("want error")
	}
	// Opening the same conversation again must retry, not short-circuit on
	// the already-active ID.
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("re-selection after failed fetch: %v", err)
	}
	if calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v, want [m1]", msgs)
	}
	if loading, err := e.Loading(); loading || err != nil {
		t.Errorf("Loading() = %v, %v, want settled clean", loading, err)
	}

	// Once loaded cleanly, re-selection stays a no-op.
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("healthy re-selection refetched, calls = %d", calls)
	}
}

func TestFetchErrorHydratesFromLocalCache(t *testing.T) {
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			return nil, errors.New("backend down")
		},
	}
	e, db := newTestEngineDB(t, backend)
	for i, id := range []string{"m1", "m2"} {
		m := store.Message{ID: id, ConversationID: "c1", Direction: store.DirectionInbound,
			Body: id, Kind: store.KindText, Status: store.StatusDelivered, Timestamp: int64(10 + i)}
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	if err := e.SelectConversation(context.Background(), "c1"); err == nil {
		t.Fatal("want error")
	}
	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 cached messages", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = %s, %s, want m1, m2", msgs[0].ID, msgs[1].ID)
	}
	// The error stays visible so the UI can offer a retry.
	if _, err := e.Loading(); err == nil {
		t.Error("load error cleared by cache hydration")
	}
}

func TestSendTextRollbackDeletesPersistedRow(t *testing.T) {
	// The realtime echo of a send can land (and persist the message) before
	// the request itself fails. The rollback must also undo the cached row.
	sent := make(chan string, 1)
	release := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, conversationID, clientID, body string) (string, error) {
			sent <- clientID
			<-release
			return "", errors.New("gateway timeout")
		},
	}
	e, db := newTestEngineDB(t, backend)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.SendText(context.Background(), "hello") }()
	clientID := <-sent

	e.applyInsert(realtime.MessageEvent{
		Op: realtime.OpInsert, ConversationID: "c1",
		Message: store.Message{ID: "srv-1", ClientID: clientID, ConversationID: "c1",
			Direction: store.DirectionOutbound, Body: "hello",
			Kind: store.KindText, Status: store.StatusSent, Timestamp: 999},
	})
	close(release)
	if err := <-done; err == nil {
		t.Fatal("want error")
	}

	if n := len(e.Messages()); n != 0 {
		t.Errorf("len after rollback = %d, want 0", n)
	}
	rows, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("rolled-back send left %d cached rows", len(rows))
	}
}

func TestLoadOlderMergesWithoutDuplicates(t *testing.T) {
	calls := 0
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			calls++
			if before == "" {
				return historyPage([]string{"m30", "m29", "m28"}, 30, "cur-1", true), nil
			}
			if before != "cur-1" {
				t.Errorf("before = %q", before)
			}
			// Overlapping tail: m28 appears in both pages.
			return historyPage([]string{"m28", "m27", "m26"}, 28, "", false), nil
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	added, err := e.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	msgs := e.Messages()
	want := []string{"m26", "m27", "m28", "m29", "m30"}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}

	// History exhausted: further calls must not hit the backend.
	if added, _ := e.LoadOlder(context.Background()); added != 0 {
		t.Errorf("added after exhaustion = %d", added)
	}
	if calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}

func TestLoadOlderSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			if before == "" {
				return historyPage([]string{"m2", "m1"}, 20, "cur-1", true), nil
			}
			entered <- struct{}{}
			<-release
			return historyPage([]string{"m0"}, 5, "", false), nil
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.LoadOlder(context.Background()); err != nil {
			t.Errorf("LoadOlder: %v", err)
		}
	}()
	<-entered

	// A second request while the first is in flight is a no-op.
	if added, err := e.LoadOlder(context.Background()); added != 0 || err != nil {
		t.Errorf("concurrent LoadOlder = %d, %v", added, err)
	}
	close(release)
	<-done

	if len(entered) != 0 {
		t.Error("second page request reached the backend")
	}
}

func TestSendTextConfirmsInPlace(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if err := e.SendText(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID == "" || m.ClientID == "" {
		t.Errorf("identities = %q/%q, want both set", m.ID, m.ClientID)
	}
	if m.Status != store.StatusSent {
		t.Errorf("status = %s, want sent", m.Status)
	}
}

func TestSendTextFailureRollsBack(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, conversationID, clientID, body string) (string, error) {
			return "", errors.New("rejected")
		},
	}
	e, b := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe("conv.", 16)
	defer unsub()

	if err := e.SendText(context.Background(), "hello"); err == nil {
		t.Fatal("want error")
	}
	if n := len(e.Messages()); n != 0 {
		t.Errorf("len after rollback = %d, want 0", n)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == bus.KindConvSendFailed {
				if f, ok := evt.Payload.(SendFailure); !ok || f.ConversationID != "c1" {
					t.Errorf("payload = %+v", evt.Payload)
				}
				return
			}
		case <-deadline:
			t.Fatal("no send_failed event")
		}
	}
}

func TestRealtimeConfirmBeforeSendReturn(t *testing.T) {
	// The realtime echo of a send can land before the send call returns. The
	// two must collapse onto the optimistic message in either order.
	sent := make(chan string, 1)
	release := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, conversationID, clientID, body string) (string, error) {
			sent <- clientID
			<-release
			return "srv-1", nil
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.SendText(context.Background(), "hello") }()
	clientID := <-sent

	e.applyInsert(realtime.MessageEvent{
		Op:             realtime.OpInsert,
		ConversationID: "c1",
		Message: store.Message{
			ID: "srv-1", ClientID: clientID, ConversationID: "c1",
			Direction: store.DirectionOutbound, Body: "hello",
			Kind: store.KindText, Status: store.StatusDelivered, Timestamp: 999,
		},
	})
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate)", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Errorf("ID = %s", msgs[0].ID)
	}
	// The send return carries "sent"; the earlier event already advanced the
	// status to delivered and it must not regress.
	if msgs[0].Status != store.StatusDelivered {
		t.Errorf("status = %s, want delivered", msgs[0].Status)
	}
}

func TestRealtimeConfirmAfterSendReturn(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, conversationID, clientID, body string) (string, error) {
			return "srv-1", nil
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := e.SendText(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	clientID := e.Messages()[0].ClientID

	e.applyInsert(realtime.MessageEvent{
		Op:             realtime.OpInsert,
		ConversationID: "c1",
		Message: store.Message{
			ID: "srv-1", ClientID: clientID, ConversationID: "c1",
			Direction: store.DirectionOutbound, Body: "hello",
			Kind: store.KindText, Status: store.StatusSent, Timestamp: 999,
		},
	})

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate)", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Status != store.StatusSent {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestInsertAppliedTwiceIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(&fakeBackend{}, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	evt := realtime.MessageEvent{
		Op:             realtime.OpInsert,
		ConversationID: "c1",
		Message: store.Message{
			ID: "m1", ConversationID: "c1", Direction: store.DirectionInbound,
			Body: "hi", Kind: store.KindText, Status: store.StatusDelivered, Timestamp: 100,
		},
	}
	e.applyInsert(evt)
	e.applyInsert(evt)

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].Status != store.StatusDelivered {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestLoadOlderCursorScenario(t *testing.T) {
	// Initial window of 3 with cursor "2024-01-01T00:00Z"; one older page of
	// 20 behind it with a further cursor. The list must grow by exactly 20
	// with no repeated identities and stay sorted.
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			switch before {
			case "":
				return historyPage([]string{"m103", "m102", "m101"}, 103, "2024-01-01T00:00Z", true), nil
			case "2024-01-01T00:00Z":
				ids := make([]string, 20)
				for i := range ids {
					ids[i] = "m" + strconv.Itoa(100-i)
				}
				return historyPage(ids, 100, "2023-12-01T00:00Z", true), nil
			default:
				t.Errorf("unexpected cursor %q", before)
				return &api.HistoryPage{}, nil
			}
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	added, err := e.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 20 {
		t.Errorf("added = %d, want 20", added)
	}

	msgs := e.Messages()
	if len(msgs) != 23 {
		t.Fatalf("len = %d, want 23", len(msgs))
	}
	seen := make(map[string]bool, len(msgs))
	for i := range msgs {
		if seen[msgs[i].ID] {
			t.Errorf("duplicate identity %s", msgs[i].ID)
		}
		seen[msgs[i].ID] = true
		if i > 0 && msgs[i].Timestamp < msgs[i-1].Timestamp {
			t.Errorf("order violated at %d: %d < %d", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
	if hasMore, _ := e.PageState(); !hasMore {
		t.Error("hasMore = false, want true while the backend still reports a cursor")
	}
}

func TestInsertForInactiveConversationSkipsView(t *testing.T) {
	e, b := newTestEngine(&fakeBackend{}, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe("inbox.", 16)
	defer unsub()

	e.applyInsert(realtime.MessageEvent{
		Op:             realtime.OpInsert,
		ConversationID: "c2",
		Message:        store.Message{ID: "m1", ConversationID: "c2", Kind: store.KindText, Timestamp: 1},
	})

	if n := len(e.Messages()); n != 0 {
		t.Errorf("foreign insert reached the view, len = %d", n)
	}
	select {
	case evt := <-ch:
		if evt.Payload.(string) != "c2" {
			t.Errorf("inbox payload = %v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbox.updated event")
	}
}

func TestInsertWithoutConversationDropped(t *testing.T) {
	// Before any selection the active ID is empty; a frame missing its
	// conversation ID must not be mistaken for active traffic (an image
	// payload would otherwise start a prefetch with no selection context).
	e, _ := newTestEngine(&fakeBackend{}, nil)

	e.applyInsert(realtime.MessageEvent{
		Op: realtime.OpInsert,
		Message: store.Message{ID: "m1", Direction: store.DirectionInbound,
			Kind: store.KindImage, MediaID: "blob-1", Timestamp: 1},
	})
	e.applyUpdate(realtime.MessageEvent{
		Op:      realtime.OpUpdate,
		Message: store.Message{ID: "m1", Status: store.StatusRead},
	})

	if n := len(e.Messages()); n != 0 {
		t.Errorf("frame without a conversation reached the view, len = %d", n)
	}
}

func TestUpdateWithoutMatchDroppedSilently(t *testing.T) {
	e, _ := newTestEngine(&fakeBackend{}, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	e.applyUpdate(realtime.MessageEvent{
		Op:             realtime.OpUpdate,
		ConversationID: "c1",
		Message:        store.Message{ID: "ghost", ConversationID: "c1", Status: store.StatusRead},
	})
	if n := len(e.Messages()); n != 0 {
		t.Errorf("unmatched update materialized a message, len = %d", n)
	}
}

func TestUpdateNeverRegressesStatus(t *testing.T) {
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			return &api.HistoryPage{Messages: []store.Message{{
				ID: "m1", ConversationID: "c1", Direction: store.DirectionOutbound,
				Kind: store.KindText, Status: store.StatusDelivered, Timestamp: 10,
			}}}, nil
		},
	}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	e.applyUpdate(realtime.MessageEvent{
		Op: realtime.OpUpdate, ConversationID: "c1",
		Message: store.Message{ID: "m1", ConversationID: "c1", Status: store.StatusSent},
	})
	if got := e.Messages()[0].Status; got != store.StatusDelivered {
		t.Errorf("status = %s, want delivered (no regression)", got)
	}

	e.applyUpdate(realtime.MessageEvent{
		Op: realtime.OpUpdate, ConversationID: "c1",
		Message: store.Message{ID: "m1", ConversationID: "c1", Status: store.StatusRead},
	})
	if got := e.Messages()[0].Status; got != store.StatusRead {
		t.Errorf("status = %s, want read", got)
	}
}

func TestSendMediaBatchPlaceholdersAndPartialFailure(t *testing.T) {
	sender := &fakeSender{
		fn: func(ctx context.Context, conversationID, clientID, filename string, data []byte, caption string) (string, error) {
			if filename == "bad.png" {
				return "", errors.New("too large")
			}
			return "srv-" + filename, nil
		},
	}
	e, _ := newTestEngine(&fakeBackend{}, sender)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	items := []upload.Item{
		upload.NewItem("a.png", []byte("\x89PNG\r\n\x1a\n")),
		upload.NewItem("bad.png", []byte("\x89PNG\r\n\x1a\n")),
		upload.NewItem("b.png", []byte("\x89PNG\r\n\x1a\n")),
	}
	err := e.SendMedia(context.Background(), items)
	if err == nil {
		t.Fatal("want joined error for the failed file")
	}
	if got := err.Error(); !strings.Contains(got, "bad.png") {
		t.Errorf("error %q does not name the failed file", got)
	}

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (failed placeholder rolled back)", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == "" || m.Status != store.StatusSent {
			t.Errorf("message %+v not confirmed", m)
		}
		if m.LocalPreview == "" {
			t.Errorf("local preview revoked on %s", m.ID)
		}
	}
}

func TestConversationSwitchDiscardsStaleResults(t *testing.T) {
	releaseA := make(chan struct{})
	enteredA := make(chan struct{})
	backend := &fakeBackend{
		historyFn: func(ctx context.Context, id, before string, limit int) (*api.HistoryPage, error) {
			if id == "a" {
				close(enteredA)
				<-releaseA
				return historyPage([]string{"a1"}, 10, "", false), nil
			}
			return historyPage([]string{"b1"}, 10, "", false), nil
		},
	}
	e, _ := newTestEngine(backend, nil)

	done := make(chan error, 1)
	go func() { done <- e.SelectConversation(context.Background(), "a") }()
	<-enteredA

	if err := e.SelectConversation(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	close(releaseA)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if e.Active() != "b" {
		t.Errorf("active = %s", e.Active())
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Errorf("stale page leaked into the view: %+v", msgs)
	}
}

func TestMarkReadReachesBackend(t *testing.T) {
	backend := &fakeBackend{}
	e, _ := newTestEngine(backend, nil)
	if err := e.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkRead(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		backend.mu.Lock()
		n := len(backend.markReads)
		backend.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("backend never saw the read receipt")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
