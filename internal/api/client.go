package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opencomm/opdesk/internal/store"
)

// ErrStillProcessing is returned by ResolveMedia while the backend is still
// generating the displayable variant; callers retry within their bound.
var ErrStillProcessing = errors.New("media still processing")

// Client talks to the messaging backend REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a backend API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// History fetches one page of messages for a conversation. before is the
// opaque cursor from a previous page; empty fetches the newest page.
func (c *Client) History(ctx context.Context, conversationID, before string, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(conversationID))
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var resp historyResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	page := &HistoryPage{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for i := range resp.Messages {
		page.Messages = append(page.Messages, resp.Messages[i].toStore())
	}
	return page, nil
}

// SendText sends a text message. Returns the durable server message ID.
// clientID is echoed back by the backend in realtime confirmations.
func (c *Client) SendText(ctx context.Context, conversationID, clientID, body string) (string, error) {
	payload := map[string]string{
		"conversationId": conversationID,
		"clientId":       clientID,
		"text":           body,
	}
	var resp sendResponse
	if err := c.postJSON(ctx, "/api/messages", payload, &resp); err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return resp.MessageID, nil
}

// SendMedia uploads one file with a caption as a media message.
func (c *Client) SendMedia(ctx context.Context, conversationID, clientID, filename string, data []byte, caption string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("conversationId", conversationID)
	_ = writer.WriteField("clientId", clientID)
	if caption != "" {
		_ = writer.WriteField("caption", caption)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages/media", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp sendResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: httpResp.StatusCode, Message: resp.Error}
	}
	return resp.MessageID, nil
}

// ResolveMedia exchanges an opaque media reference for a displayable URL.
// attempt > 0 appends a cache-busting parameter so a retry is not served the
// same expired URL by an intermediate cache.
func (c *Client) ResolveMedia(ctx context.Context, mediaID string, attempt int) (string, error) {
	endpoint := fmt.Sprintf("/api/media/%s/url", url.PathEscape(mediaID))
	if attempt > 0 {
		endpoint += "?r=" + strconv.Itoa(attempt)
	}

	var resp resolveResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("resolve media: %w", err)
	}
	if resp.Status == "processing" {
		return "", ErrStillProcessing
	}
	if resp.URL == "" {
		return "", fmt.Errorf("resolve media: empty url for %s", mediaID)
	}
	return resp.URL, nil
}

// ListConversations fetches the inbox summary list.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var resp conversationsResponse
	if err := c.getJSON(ctx, "/api/conversations", &resp); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]store.Conversation, 0, len(resp.Conversations))
	for i := range resp.Conversations {
		convs = append(convs, resp.Conversations[i].toStore())
	}
	return convs, nil
}

// MarkRead clears the unread counter server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("/api/conversations/%s/read", url.PathEscape(conversationID))
	if err := c.postJSON(ctx, endpoint, struct{}{}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Message: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
