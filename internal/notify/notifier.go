// Package notify delivers best-effort push messages to chat users and
// raises operator alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"acctshop-api/internal/model"
	"acctshop-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Notifier pushes a text message to a chat user outside of a reply.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
	Close() error
}

// LogNotifier only logs. Used when no transport is configured.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: logging.Component(logger, "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.log.WithField("user_id", userID).Info(text)
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// WebhookNotifier POSTs a JSON Notification to the chat transport.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("notify webhook url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID int64, text string) error {
	body, err := json.Marshal(model.Notification{UserID: userID, Text: text, SentAt: time.Now()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("failed to deliver notification: webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) Close() error { return nil }

// RedisNotifier publishes notifications on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "acctshop:notifications"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID int64, text string) error {
	body, err := json.Marshal(model.Notification{UserID: userID, Text: text, SentAt: time.Now()})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (n *RedisNotifier) Close() error { return nil }

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*RedisNotifier)(nil)
)
