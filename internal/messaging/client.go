// Package messaging wraps the chat-platform transport: outbound push/reply
// sends over the platform's REST API and webhook signature validation for
// inbound deliveries. The rest of the application treats the platform as an
// external collaborator behind this package's small surface.
//
// The client performs exactly one HTTP attempt per send. Retry policy is a
// caller concern, and the notification dispatcher deliberately has none.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.line.me/v2/bot"
	sendTimeout    = 10 * time.Second
)

// Client talks to the chat platform's messaging API. Construct with
// NewClient; the zero value is not usable.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests point this at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient constructs a messaging client authenticated with the channel
// access token.
func NewClient(channelToken string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   channelToken,
		http:    &http.Client{Timeout: sendTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// textMessage is the single message shape this service sends.
type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// pushRequest is the POST /message/push payload.
type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// replyRequest is the POST /message/reply payload.
type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// Push sends a text message directly to a user identity.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	body := pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/message/push", body)
}

// Reply answers an inbound event using its one-time reply token. Reply
// tokens expire quickly; callers should reply within the webhook handling
// window or fall back to Push.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/message/reply", body)
}

// post issues one JSON POST and treats any non-2xx status as a send failure.
func (c *Client) post(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The platform returns a short JSON error body; keep a bounded slice
		// of it for the log line.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messaging: %s returned %d: %s", path, resp.StatusCode, snippet)
	}
	return nil
}
