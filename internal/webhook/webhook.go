package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/livepage/livepage/internal/docstore"
)

const (
	maxResponseBodyBytes = 1024
	deliveriesCollection = "webhookDeliveries"
)

// Moderation events.
const (
	EventMessageDeleted = "chat.message_deleted"
	EventUserMuted      = "chat.user_muted"
	EventUserUnmuted    = "chat.user_unmuted"
	EventPinnedChanged  = "pinned.changed"
)

// Event represents a webhook event to dispatch.
type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Client dispatches webhook events to one configured endpoint with retries
// and delivery logging. A Client without a URL is disabled and drops events.
type Client struct {
	store       docstore.Store
	http        *http.Client
	url         string
	secret      string
	slackURL    string
	retryDelays []time.Duration
}

func New(store docstore.Store, url, secret string) *Client {
	return &Client{
		store:       store,
		http:        &http.Client{Timeout: 10 * time.Second},
		url:         url,
		secret:      secret,
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notify fans the event out to the signed endpoint and Slack in the
// background and only logs failures.
func (c *Client) Notify(name string, data map[string]any) {
	if !c.Enabled() && !c.slackEnabled() {
		return
	}
	event := Event{Name: name, Timestamp: time.Now().UTC(), Data: data}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Dispatch(ctx, event); err != nil {
			slog.Error("webhook: dispatch failed", "event", name, "error", err)
		}
		if err := c.postSlack(ctx, event); err != nil {
			slog.Error("webhook: slack notification failed", "event", name, "error", err)
		}
	}()
}

// Dispatch sends an event with up to 3 attempts. Each attempt is logged to
// the webhookDeliveries collection.
func (c *Client) Dispatch(ctx context.Context, event Event) error {
	if !c.Enabled() {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(c.secret, body)
	maxAttempts := 1 + len(c.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, respBody, err := c.doPost(ctx, body, signature)
		c.logDelivery(ctx, event.Name, body, statusCode, respBody, attempt)

		if err == nil && statusCode != nil && *statusCode >= 200 && *statusCode < 300 {
			return nil
		}

		if err != nil {
			lastErr = err
		} else if statusCode != nil {
			lastErr = fmt.Errorf("webhook returned status %d", *statusCode)
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

func (c *Client) doPost(ctx context.Context, body []byte, signature string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err.Error(), err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}

	return &resp.StatusCode, respBody, nil
}

func (c *Client) logDelivery(ctx context.Context, event string, payload []byte, statusCode *int, responseBody string, attempt int) {
	if c.store == nil {
		return
	}
	fields := docstore.Fields{
		"event":        event,
		"payload":      string(payload),
		"responseBody": responseBody,
		"attempt":      attempt,
		"createdAt":    docstore.ServerTimestamp,
		"statusCode":   nil,
	}
	if statusCode != nil {
		fields["statusCode"] = *statusCode
	}
	if _, err := c.store.Insert(ctx, deliveriesCollection, fields); err != nil {
		slog.Error("webhook: failed to log delivery", "event", event, "error", err)
	}
}
