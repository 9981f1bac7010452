package api

import (
	"fmt"

	"github.com/opencomm/opdesk/internal/store"
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// HistoryPage is one page of conversation history, newest first.
type HistoryPage struct {
	Messages   []store.Message
	NextCursor string
	HasMore    bool
}

// Wire shapes. The backend uses camelCase JSON.

type wireMessage struct {
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

func (w *wireMessage) toStore() store.Message {
	return store.Message{
		ID:             w.ID,
		ClientID:       w.ClientID,
		ConversationID: w.ConversationID,
		Direction:      w.Direction,
		Body:           w.Body,
		Kind:           w.Kind,
		Status:         w.Status,
		Timestamp:      w.Timestamp,
		MediaID:        w.MediaID,
		MediaURL:       w.MediaURL,
		PreviewURL:     w.PreviewURL,
		ThumbURL:       w.ThumbURL,
	}
}

type historyResponse struct {
	Messages   []wireMessage `json:"messages"`
	NextCursor string        `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

type resolveResponse struct {
	URL    string `json:"url"`
	Status string `json:"status"` // "ready" or "processing"
	Error  string `json:"error,omitempty"`
}

type wireConversation struct {
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

func (w *wireConversation) toStore() store.Conversation {
	return store.Conversation{
		ID:                 w.ID,
		Name:               w.Name,
		Phone:              w.Phone,
		LastMessageAt:      w.LastMessageAt,
		LastMessagePreview: w.LastMessagePreview,
		UnreadCount:        w.UnreadCount,
		MessageCount:       w.MessageCount,
		AIReplyCount:       w.AIReplyCount,
		HumanReplyCount:    w.HumanReplyCount,
		Status:             w.Status,
		Priority:           w.Priority,
		Tags:               w.Tags,
	}
}

type conversationsResponse struct {
	Conversations []wireConversation `json:"conversations"`
}
