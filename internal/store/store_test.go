package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertConversation(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "c1", Name: "Acme Corp", Phone: "+15550100", UnreadCount: 3}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.UnreadCount = 0
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UnreadCount != 0 || got.Name != "Acme Corp" {
		t.Errorf("got %+v, want unread=0 name=Acme Corp", got)
	}
}

func TestTouchConversationNeverMovesBackward(t *testing.T) {
	db := testDB(t)

	if err := db.TouchConversation("c1", 2000, "newer"); err != nil {
		t.Fatal(err)
	}
	// Late-arriving older history must not clobber the preview.
	if err := db.TouchConversation("c1", 1000, "older"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageAt != 2000 || got.LastMessagePreview != "newer" {
		t.Errorf("got ts=%d preview=%q, want 2000/newer", got.LastMessageAt, got.LastMessagePreview)
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)

	_ = db.TouchConversation("old", 1000, "a")
	_ = db.TouchConversation("new", 3000, "b")
	_ = db.TouchConversation("mid", 2000, "c")

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	if convs[0].ID != "new" || convs[2].ID != "old" {
		t.Errorf("order = %s,%s,%s, want new,mid,old", convs[0].ID, convs[1].ID, convs[2].ID)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", ConversationID: "c1", Direction: DirectionInbound,
		Body: "v1", Kind: KindText, Status: StatusDelivered, Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2", msgs[0].Body)
	}
}

func TestUpsertMessageKeyStableAcrossConfirmation(t *testing.T) {
	db := testDB(t)

	// Optimistic write: only the correlation key is known.
	opt := &Message{ClientID: "ck-1", ConversationID: "c1", Direction: DirectionOutbound,
		Body: "hi", Kind: KindText, Status: StatusSending, Timestamp: 1000}
	if err := db.UpsertMessage(opt); err != nil {
		t.Fatal(err)
	}

	// Confirmation write: server identity filled in, same correlation key.
	conf := *opt
	conf.ID = "srv-9"
	conf.Status = StatusSent
	if err := db.UpsertMessage(&conf); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (no duplicate across confirmation)", len(msgs))
	}
	if msgs[0].ID != "srv-9" || msgs[0].Status != StatusSent {
		t.Errorf("got id=%q status=%q, want srv-9/sent", msgs[0].ID, msgs[0].Status)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	for i := 1; i <= 5; i++ {
		_ = db.UpsertMessage(&Message{ID: string(rune('a' + i)), ConversationID: "c1",
			Direction: DirectionInbound, Body: "m", Kind: KindText, Timestamp: int64(i * 1000)})
	}

	page1, err := db.ListMessages("c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || page1[0].Timestamp != 5000 || page1[1].Timestamp != 4000 {
		t.Fatalf("page1 = %+v, want ts 5000,4000", page1)
	}

	page2, err := db.ListMessages("c1", page1[1].Timestamp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].Timestamp != 3000 || page2[1].Timestamp != 2000 {
		t.Fatalf("page2 = %+v, want ts 3000,2000", page2)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)

	m := &Message{ClientID: "ck-1", ConversationID: "c1", Direction: DirectionOutbound,
		Body: "oops", Kind: KindText, Status: StatusSending, Timestamp: 1000}
	_ = db.UpsertMessage(m)

	if err := db.DeleteMessage("c1", "ck-1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertMessage(&Message{ID: "m1", ConversationID: "c1", Direction: DirectionInbound,
		Body: "please check the invoice total", Kind: KindText, Timestamp: 1000})
	_ = db.UpsertMessage(&Message{ID: "m2", ConversationID: "c2", Direction: DirectionInbound,
		Body: "unrelated", Kind: KindText, Timestamp: 2000})

	results, err := db.SearchMessages("INVOICE", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m1" {
		t.Fatalf("got %d results, want the invoice message", len(results))
	}
	if results[0].Snippet == "" {
		t.Error("empty snippet")
	}

	// Scoped search misses the other conversation.
	results, err = db.SearchMessages("invoice", "c2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results in c2, want 0", len(results))
	}
}

func TestAdvanceStatus(t *testing.T) {
	cases := []struct {
		current, next, want string
	}{
		{StatusSending, StatusSent, StatusSent},
		{StatusSent, StatusDelivered, StatusDelivered},
		{StatusDelivered, StatusRead, StatusRead},
		{StatusRead, StatusDelivered, StatusRead},
		{StatusDelivered, StatusSending, StatusDelivered},
		{StatusSent, StatusFailed, StatusFailed},
		{StatusFailed, StatusSent, StatusFailed},
	}
	for _, tc := range cases {
		if got := AdvanceStatus(tc.current, tc.next); got != tc.want {
			t.Errorf("AdvanceStatus(%s, %s) = %s, want %s", tc.current, tc.next, got, tc.want)
		}
	}
}
