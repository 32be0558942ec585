// Package backend is the REST client for the chat backend: sending messages,
// reporting read receipts, and fetching the contact directory and history.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/chat"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Contact is a directory entry as returned by GET /api/chat/contacts.
type Contact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Avatar      string            `json:"avatar"`
	Online      bool              `json:"online"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
	UnreadCount int               `json:"unread_count"`
	LastMessage *chat.WireMessage `json:"last_message,omitempty"`
}

// SendRequest is the body of POST /api/chat/send.
type SendRequest struct {
	ReceiverID  string            `json:"receiver_id"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
	ClientMsgID string            `json:"client_msg_id,omitempty"`
}

type readRequest struct {
	ContactID  string   `json:"contact_id"`
	MessageIDs []string `json:"message_ids"`
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New creates a client. httpClient may be nil.
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
	}
}

// Send submits a message and returns the server's confirmed copy. The client
// message id doubles as the Idempotency-Key, so a redelivered request cannot
// create a second message.
func (c *Client) Send(ctx context.Context, req SendRequest) (chat.WireMessage, error) {
	key := req.ClientMsgID
	if key == "" {
		key = uuid.NewString()
	}
	var out chat.WireMessage
	err := c.do(ctx, http.MethodPost, "/api/chat/send", key, req, &out)
	return out, err
}

// Messages returns the history exchanged with contactID.
func (c *Client) Messages(ctx context.Context, contactID string) ([]chat.WireMessage, error) {
	var out []chat.WireMessage
	err := c.do(ctx, http.MethodGet, "/api/chat/messages?contact_id="+url.QueryEscape(contactID), "", nil, &out)
	return out, err
}

// Contacts returns the contact directory.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := c.do(ctx, http.MethodGet, "/api/chat/contacts", "", nil, &out)
	return out, err
}

// MarkRead reports a batch of messages from contactID as read.
func (c *Client) MarkRead(ctx context.Context, contactID string, ids []string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/read", uuid.NewString(), readRequest{ContactID: contactID, MessageIDs: ids}, nil)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
