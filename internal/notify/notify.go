// Package notify delivers best-effort event notifications to external sinks.
// Delivery failures are logged and counted, never propagated to callers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
)

// EventKind names the notification triggers.
type EventKind string

const (
	EventVideoDiscovered   EventKind = "video_discovered"
	EventDownloadCompleted EventKind = "download_completed"
	EventDownloadFailed    EventKind = "download_failed"
	EventSyncCompleted     EventKind = "sync_completed"
)

// Event is one notification payload.
type Event struct {
	Kind       EventKind `json:"event"`
	ListID     int64     `json:"list_id,omitempty"`
	ListName   string    `json:"list_name,omitempty"`
	VideoTitle string    `json:"video_title,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"timestamp"`
}

// Notifier delivers one event to a sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the structured log. It is always registered so
// operators can audit notifications even with no webhook configured.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, e Event) error {
	logger := log.WithComponent("notify")
	logger.Info().
		Str("event", string(e.Kind)).
		Str("list", e.ListName).
		Str("video", e.VideoTitle).
		Str("detail", e.Detail).
		Msg("notification")
	return nil
}

// Webhook POSTs events as JSON to a fixed URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook creates a webhook notifier with a bounded request timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an event out to every registered notifier. A failing notifier
// never blocks the others and never fails the caller.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a fan-out over the given notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Send delivers e to all sinks, logging and counting failures.
func (m *Multi) Send(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			metrics.NotifierErrorsTotal.WithLabelValues(n.Name()).Inc()
			logger := log.WithComponent("notify")
			logger.Warn().
				Err(err).
				Str("notifier", n.Name()).
				Str("event", string(e.Kind)).
				Msg("notification delivery failed")
		}
	}
}
