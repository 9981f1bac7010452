package sync

import (
	"sort"

	"github.com/opencomm/opdesk/internal/store"
)

// pager tracks backward pagination over a conversation's history. The cursor
// only ever moves further into the past; it is reset as a whole on
// conversation switch.
type pager struct {
	cursor   string
	hasMore  bool
	inFlight bool
}

func newPager() pager {
	return pager{hasMore: true}
}

// insertSorted places m into msgs keeping ascending timestamp order. Ties
// keep insertion order (the new message goes after existing equal stamps).
func insertSorted(msgs []store.Message, m store.Message) []store.Message {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp > m.Timestamp
	})
	msgs = append(msgs, store.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

// mergeOlder prepends an older history page (delivered newest-first) onto
// msgs, dropping anything already present by identity. Returns the new slice
// and how many messages were actually added.
func mergeOlder(msgs []store.Message, page []store.Message) ([]store.Message, int) {
	seen := make(map[string]struct{}, len(msgs))
	for i := range msgs {
		seen[msgs[i].Key()] = struct{}{}
		if msgs[i].ID != "" {
			seen[msgs[i].ID] = struct{}{}
		}
	}

	var fresh []store.Message
	for i := range page {
		m := page[i]
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
		}
		seen[m.Key()] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return msgs, 0
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Timestamp < fresh[j].Timestamp
	})
	return append(fresh, msgs...), len(fresh)
}

// ascending converts a newest-first history page into ascending time order.
func ascending(page []store.Message) []store.Message {
	out := make([]store.Message, len(page))
	for i := range page {
		out[len(page)-1-i] = page[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
