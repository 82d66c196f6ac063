// Package webhook implements webhook event delivery: an inline sender used
// when batching is off, and the queued batch processor used otherwise.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// post signs payload with the directory's webhook secret and POSTs it to
// the webhook endpoint. It returns the response status code; a transport
// error yields status 0.
func post(ctx context.Context, client *http.Client, dir *model.Directory, payload any, ts time.Time) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}
	sig, err := event.SignatureString(dir.Webhook.Secret, payload, ts)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dir.Webhook.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(event.SignatureHeader, sig)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

// Sender delivers events inline, synchronously with the originating
// mutation. Failures are retried a fixed number of times with a fixed
// delay, recorded in the audit log, and never surfaced to the SCIM caller.
type Sender struct {
	directories *store.Directories
	logs        *store.WebhookLogs
	client      *http.Client
	attempts    int
	delay       time.Duration
	log         *slog.Logger
	now         func() time.Time
}

// NewSender wires an inline sender.
func NewSender(directories *store.Directories, logs *store.WebhookLogs, client *http.Client, attempts int, delay time.Duration, log *slog.Logger) *Sender {
	if attempts < 1 {
		attempts = 1
	}
	return &Sender{
		directories: directories,
		logs:        logs,
		client:      client,
		attempts:    attempts,
		delay:       delay,
		log:         log,
		now:         time.Now,
	}
}

// Subscriber adapts the sender to the event bus.
func (s *Sender) Subscriber() event.Handler {
	return func(ctx context.Context, e event.DirectorySyncEvent) {
		if e.Event.IsLifecycle() {
			return
		}
		s.Deliver(ctx, e)
	}
}

// Deliver sends one event to its directory's webhook endpoint.
func (s *Sender) Deliver(ctx context.Context, e event.DirectorySyncEvent) {
	dir, err := s.directories.Get(ctx, e.DirectoryID)
	if err != nil {
		s.log.Warn("webhook delivery skipped: directory unavailable", "directory_id", e.DirectoryID, "err", err)
		return
	}
	if !store.IsConnectionActive(dir) || dir.Webhook.Endpoint == "" {
		return
	}

	status := 0
	for attempt := 1; attempt <= s.attempts; attempt++ {
		status, err = post(ctx, s.client, dir, e, s.now())
		if err == nil && status == http.StatusOK {
			break
		}
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				attempt = s.attempts
			case <-time.After(s.delay):
			}
		}
	}

	delivered := status == http.StatusOK
	if delivered {
		eventsDelivered.Inc()
	} else {
		eventsFailed.Inc()
		s.log.Warn("webhook delivery failed",
			"directory_id", dir.ID, "event", e.Event, "status", status, "err", err)
	}

	if dir.LogWebhookEvents {
		if _, logErr := s.logs.Create(ctx, dir, e, status, delivered); logErr != nil {
			s.log.Error("write webhook log", "directory_id", dir.ID, "err", logErr)
		}
	}
}
