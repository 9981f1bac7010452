package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/store"
)

// Row-level change operations delivered by the feed.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// Tables the feed notifies about.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
)

// envelope is the wire frame for one change notification.
type envelope struct {
	Op             string          `json:"op"`
	Table          string          `json:"table"`
	ConversationID string          `json:"conversationId"`
	Row            json.RawMessage `json:"row"`
}

type messageRow struct {
	ID             string `json:"id"`
	ClientID       string `json:"clientId,omitempty"`
	ConversationID string `json:"conversationId"`
	Direction      string `json:"direction"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	MediaID        string `json:"mediaId,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	PreviewURL     string `json:"previewUrl,omitempty"`
	ThumbURL       string `json:"thumbUrl,omitempty"`
}

type conversationRow struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Phone              string `json:"phone"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int    `json:"unreadCount"`
	MessageCount       int    `json:"messageCount"`
	AIReplyCount       int    `json:"aiReplyCount"`
	HumanReplyCount    int    `json:"humanReplyCount"`
	Status             string `json:"status"`
	Priority           string `json:"priority"`
	Tags               string `json:"tags"`
}

// MessageEvent is the bus payload for a message row notification.
type MessageEvent struct {
	Op             string
	ConversationID string
	Message        store.Message
}

// ConversationEvent is the bus payload for a conversation row notification.
type ConversationEvent struct {
	Op           string
	Conversation store.Conversation
}

// decodeFrame parses one wire frame into a bus payload and its event kind.
func decodeFrame(data []byte) (payload any, kind string, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Op != OpInsert && env.Op != OpUpdate {
		return nil, "", fmt.Errorf("unknown op %q", env.Op)
	}

	switch env.Table {
	case TableMessages:
		var row messageRow
		if err := json.Unmarshal(env.Row, &row); err != nil {
			return nil, "", fmt.Errorf("decode message row: %w", err)
		}
		if env.ConversationID == "" && row.ConversationID == "" {
			return nil, "", fmt.Errorf("message row missing conversation id")
		}
		evt := MessageEvent{
			Op:             env.Op,
			ConversationID: env.ConversationID,
			Message: store.Message{
				ID:             row.ID,
				ClientID:       row.ClientID,
				ConversationID: row.ConversationID,
				Direction:      row.Direction,
				Body:           row.Body,
				Kind:           row.Kind,
				Status:         row.Status,
				Timestamp:      row.Timestamp,
				MediaID:        row.MediaID,
				MediaURL:       row.MediaURL,
				PreviewURL:     row.PreviewURL,
				ThumbURL:       row.ThumbURL,
			},
		}
		if evt.Message.ConversationID == "" {
			evt.Message.ConversationID = env.ConversationID
		}
		kind = bus.KindRTMessageInsert
		if env.Op == OpUpdate {
			kind = bus.KindRTMessageUpdate
		}
		return evt, kind, nil

	case TableConversations:
		var row conversationRow
		if err := json.Unmarshal(env.Row, &row); err != nil {
			return nil, "", fmt.Errorf("decode conversation row: %w", err)
		}
		evt := ConversationEvent{
			Op: env.Op,
			Conversation: store.Conversation{
				ID:                 row.ID,
				Name:               row.Name,
				Phone:              row.Phone,
				LastMessageAt:      row.LastMessageAt,
				LastMessagePreview: row.LastMessagePreview,
				UnreadCount:        row.UnreadCount,
				MessageCount:       row.MessageCount,
				AIReplyCount:       row.AIReplyCount,
				HumanReplyCount:    row.HumanReplyCount,
				Status:             row.Status,
				Priority:           row.Priority,
				Tags:               row.Tags,
			},
		}
		return evt, bus.KindRTConversationUpdate, nil

	default:
		return nil, "", fmt.Errorf("unknown table %q", env.Table)
	}
}
