package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketgo/internal/wire"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	errorBodySnippet   = 512
)

// Client wraps the marketplace REST endpoints the chat layer depends on.
// The endpoints themselves are a conventional CRUD backend; everything here
// is a thin typed wrapper.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(logger *slog.Logger, baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

// SendMessageRequest is the POST /api/messages body. ClientKey is the
// idempotency key generated by the optimistic send pipeline.
type SendMessageRequest struct {
	CustomerID string `json:"customer_id"`
	ShopID     string `json:"shop_id"`
	ProductID  string `json:"product_id,omitempty"`
	SenderID   string `json:"sender_id"`
	SenderType string `json:"sender_type"`
	Body       string `json:"message"`
	ClientKey  string `json:"client_key,omitempty"`
}

// ThreadSummary is one entry of GET /api/chat/threads.
type ThreadSummary struct {
	CustomerID   string       `json:"customer_id"`
	ShopID       string       `json:"shop_id"`
	ShopName     string       `json:"shop_name,omitempty"`
	LastMessage  wire.Message `json:"last_message"`
	UnreadCount  int          `json:"unread_count"`
	LastActivity int64        `json:"last_activity_at"`
}

func (c *Client) ListMessages(ctx context.Context, customerID, shopID, productID string) ([]wire.Message, error) {
	query := url.Values{}
	query.Set("customer_id", customerID)
	query.Set("shop_id", shopID)
	if productID != "" {
		query.Set("product_id", productID)
	}

	var out []wire.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", query, nil, &out, false); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) PostMessage(ctx context.Context, req SendMessageRequest) (wire.Message, error) {
	var out wire.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", nil, req, &out, false); err != nil {
		return wire.Message{}, err
	}

	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, customerID, shopID, readerID string) error {
	body := map[string]string{
		"customer_id": customerID,
		"shop_id":     shopID,
		"reader_id":   readerID,
	}

	return c.do(ctx, http.MethodPatch, "/api/messages/mark-read", nil, body, nil, false)
}

func (c *Client) ListThreads(ctx context.Context, userID string) ([]ThreadSummary, error) {
	query := url.Values{}
	query.Set("user_id", userID)

	var out []ThreadSummary
	if err := c.do(ctx, http.MethodGet, "/api/chat/threads", query, nil, &out, true); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, authorized bool) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodySnippet))

		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}
