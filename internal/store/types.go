package store

// Conversation is a synced conversation summary row.
type Conversation struct {
	ID                 string
	Name               string
	Phone              string
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
	MessageCount       int
	AIReplyCount       int
	HumanReplyCount    int
	Status             string
	Priority           string
	Tags               string
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message rendering kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
)

// Delivery statuses. A message moves forward through sending -> sent ->
// delivered -> read and never regresses; failed is terminal.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// AdvanceStatus returns the status the message should carry after observing
// next. Forward moves and the failed terminal are applied; regressions and
// moves out of failed are ignored.
func AdvanceStatus(current, next string) string {
	if current == StatusFailed {
		return current
	}
	if next == StatusFailed {
		return next
	}
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}

// Message is a single conversation message.
type Message struct {
	// ID is the durable server identity, empty until the send is confirmed.
	ID string
	// ClientID is the client-generated correlation key for outbound sends,
	// echoed back by the backend in confirmations. Empty for inbound and
	// history messages.
	ClientID       string
	ConversationID string
	Direction      string
	Body           string
	Kind           string
	Status         string
	// Timestamp is unix milliseconds.
	Timestamp int64
	// MediaID is the opaque attachment reference, if any.
	MediaID string
	// Resolved URL variants, best first. Thumbnails are generated after
	// the original is stored, so MediaURL is preferred for fresh media.
	MediaURL   string
	PreviewURL string
	ThumbURL   string
	// LocalPreview is a local object reference kept after an optimistic
	// send so the media stays visible until a resolved URL arrives.
	LocalPreview string
}

// Key returns the stable identity used for dedup and reconciliation:
// the correlation key when present, otherwise the server identity.
func (m *Message) Key() string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return m.ID
}

// DisplayURL returns the best available URL variant for rendering.
func (m *Message) DisplayURL() string {
	switch {
	case m.MediaURL != "":
		return m.MediaURL
	case m.PreviewURL != "":
		return m.PreviewURL
	case m.ThumbURL != "":
		return m.ThumbURL
	default:
		return m.LocalPreview
	}
}

// HasResolvedMedia reports whether any server-side URL variant is known.
func (m *Message) HasResolvedMedia() bool {
	return m.MediaURL != "" || m.PreviewURL != "" || m.ThumbURL != ""
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
