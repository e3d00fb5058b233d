// ABOUTME: Best-effort HTTP webhook delivery with bearer auth and a fixed timeout
// ABOUTME: One POST per event, failures are logged and discarded, never retried

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrDeliveryFailed wraps every webhook delivery failure. It never leaves the
// webhook package boundary except through Deliver, which tests and the queue use.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Delivery headers.
const (
	HeaderEvent    = "X-Webhook-Event"
	HeaderDelivery = "X-Webhook-Delivery"
)

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// APIKey is sent as "Authorization: Bearer <APIKey>".
	APIKey string
	// Timeout bounds each POST. Zero means DefaultTimeout.
	Timeout time.Duration
	// UserAgent is sent on every request when set.
	UserAgent string
	// Client overrides the HTTP client (tests). Its Timeout is replaced.
	Client *http.Client
	Logger *slog.Logger
}

// Notifier posts events to webhook URLs. Delivery is at most once.
type Notifier struct {
	client    *http.Client
	apiKey    string
	userAgent string
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	client.Timeout = timeout

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		client:    client,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		logger:    logger.With("component", "webhook"),
	}
}

// Deliver performs one POST of ev to url and reports the outcome.
// An empty url is a no-op that returns nil.
func (n *Notifier) Deliver(ctx context.Context, url string, ev Event) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set(HeaderEvent, ev.EventType())
	req.Header.Set(HeaderDelivery, uuid.New().String())
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}

// Notify delivers ev and swallows any failure after logging it.
func (n *Notifier) Notify(ctx context.Context, url string, ev Event) {
	if err := n.Deliver(ctx, url, ev); err != nil {
		n.logger.Warn("webhook delivery failed",
			"client_id", ev.Client(),
			"type", ev.EventType(),
			"url", url,
			"error", err,
		)
		return
	}
	if url != "" {
		n.logger.Debug("webhook delivered", "client_id", ev.Client(), "type", ev.EventType())
	}
}
