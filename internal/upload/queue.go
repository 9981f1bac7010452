// Package upload turns locally-selected files into sent media messages.
package upload

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/opencomm/opdesk/internal/store"
)

// Item is one pending local file with its caption.
type Item struct {
	// ClientID is the correlation key carried through the optimistic
	// placeholder, the send request and the realtime confirmation.
	ClientID string
	Name     string
	Data     []byte
	Caption  string
	// Kind is the rendering type detected from the file content.
	Kind string
	// PreviewRef is a local object reference for rendering the media
	// before (and right after) the send; it is kept alive until the
	// resolved URL arrives, never revoked on send success.
	PreviewRef string
}

// NewItem builds an item from a file, detecting its rendering kind.
func NewItem(name string, data []byte) Item {
	id := uuid.New().String()
	return Item{
		ClientID:   id,
		Name:       name,
		Data:       data,
		Kind:       detectKind(data),
		PreviewRef: "local://" + id + "/" + name,
	}
}

func detectKind(data []byte) string {
	mtype := mimetype.Detect(data)
	switch {
	case strings.HasPrefix(mtype.String(), "image/"):
		return store.KindImage
	case strings.HasPrefix(mtype.String(), "video/"):
		return store.KindVideo
	case strings.HasPrefix(mtype.String(), "audio/"):
		return store.KindAudio
	default:
		return store.KindDocument
	}
}

// Queue is the ordered set of files staged in the composer. Captions are
// editable and entries removable until dispatch.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add stages a file and returns the created item.
func (q *Queue) Add(name string, data []byte) Item {
	item := NewItem(name, data)
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return item
}

// SetCaption updates the caption of a staged item.
func (q *Queue) SetCaption(clientID, caption string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ClientID == clientID {
			q.items[i].Caption = caption
			return nil
		}
	}
	return fmt.Errorf("no staged file %s", clientID)
}

// Remove unstages a single item.
func (q *Queue) Remove(clientID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ClientID == clientID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no staged file %s", clientID)
}

// Items returns a snapshot in staging order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Drain returns all items and empties the queue.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of staged items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
