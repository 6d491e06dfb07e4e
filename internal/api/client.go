// Package api is the HTTP client for the backend collaborator. The messaging
// core treats the backend as a black box returning conversation and message
// records; routes here follow the dev backend's contract.
package api

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

	"github.com/coachchat/internal/model"
)

// StatusError is returned for non-2xx responses. Everything else a call can
// return is a transport-level failure wrapped with context.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api: status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("api: status %d", e.Code)
}

type Client struct {
	baseURL    string
	authUserID string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL authenticated as
// authUserID (sent as X-User-ID on every request).
func NewClient(baseURL, authUserID string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authUserID: authUserID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", c.authUserID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Conversations lists the authenticated user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches the full message history with one counterpart, oldest first.
func (c *Client) History(ctx context.Context, counterpartID string) ([]model.Message, error) {
	var out []model.Message
	path := "/api/messages/" + url.PathEscape(counterpartID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllMessages fetches every message involving the authenticated user. Used
// once per session to prime the store after authentication.
func (c *Client) AllMessages(ctx context.Context) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessage persists a message. The backend assigns the durable id and
// server timestamp and echoes the client_ref for reconciliation.
func (c *Client) CreateMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead tells the backend the conversation with counterpartID was opened.
func (c *Client) MarkRead(ctx context.Context, counterpartID string) error {
	path := "/api/conversations/" + url.PathEscape(counterpartID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction adds the authenticated user's emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	path := "/api/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodPost, path, reactionRequest{Emoji: emoji}, nil)
}

// RemoveReaction removes the authenticated user's emoji reaction.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "/api/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodDelete, path, reactionRequest{Emoji: emoji}, nil)
}
