package bus

import "time"

// Event kinds are dot-separated, namespaced by the publishing subsystem.
// Subscribers filter on a namespace prefix, e.g. "rt." or "conv.".
const (
	// Realtime feed events, published by internal/realtime.
	KindRTMessageInsert      = "rt.message.insert"
	KindRTMessageUpdate      = "rt.message.update"
	KindRTConversationUpdate = "rt.conversation.update"

	// Active-conversation events, published by the sync engine.
	KindConvRefresh    = "conv.refresh"
	KindConvSendFailed = "conv.send_failed"
	KindConvLoadFailed = "conv.load_failed"

	// Inbox summary events.
	KindInboxUpdated = "inbox.updated"

	// Connection state events, published by the status machine.
	KindNetStatusChanged = "net.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
