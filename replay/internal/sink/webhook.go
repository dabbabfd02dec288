package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/urlguard"
)

// Webhook POSTs every envelope to a URL. Network errors, 429 and 5xx are
// retried with a doubling delay; any other status fails at once.
type Webhook struct {
	url      string
	client   *http.Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a delivery is retried. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.attempts = n + 1 }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger. A nil logger is ignored.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 4,
		backoff:  time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendStep(ctx context.Context, step event.Step) error {
	return w.deliver(ctx, envelope{Type: "step", Data: step})
}

func (w *Webhook) SendRun(ctx context.Context, run event.Run) error {
	return w.deliver(ctx, envelope{Type: "run", Data: run})
}

func (w *Webhook) Close() error { return nil }

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("permanent")

func (w *Webhook) deliver(ctx context.Context, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", env.Type, err)
	}

	delay := w.backoff
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		lastErr = w.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || attempt == w.attempts {
			break
		}
		w.logger.Warn("webhook: delivery failed, retrying",
			"type", env.Type, "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("webhook: %s not delivered: %w", env.Type, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Keep a short excerpt of the receiver's complaint.
	excerpt, _ := urlguard.ReadLimited(resp.Body, 512)
	msg := fmt.Sprintf("status %d %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return errors.New(msg)
	}
	return fmt.Errorf("%w: %s", errPermanent, msg)
}
