package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shelf/internal/config"
)

const userAgent = "Shelf-Go/0.1.0"

// Pusher defines the push notification surface exposed to the worker.
type Pusher interface {
	NotifyBatchStarted(ctx context.Context, batchID string, count int) error
	NotifyBatchCompleted(ctx context.Context, batchID string, succeeded, failed int, duration time.Duration) error
	NotifyBatchCanceled(ctx context.Context, batchID string, remaining int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewPusher builds a push notification service backed by ntfy when
// configured. When no ntfy topic is configured, a noop implementation is
// returned.
func NewPusher(cfg *config.Config) Pusher {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopPusher{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyPusher{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		batchEvents: cfg.Notifications.Batches,
		errorEvents: cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyPusher struct {
	endpoint    string
	client      *http.Client
	batchEvents bool
	errorEvents bool
}

func (n *ntfyPusher) NotifyBatchStarted(ctx context.Context, batchID string, count int) error {
	if !n.batchEvents {
		return nil
	}
	data := payload{
		title:   "Shelf - Batch Started",
		message: fmt.Sprintf("Enriching %d records (batch %s)", count, shortBatchID(batchID)),
		tags:    []string{"shelf", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyBatchCompleted(ctx context.Context, batchID string, succeeded, failed int, duration time.Duration) error {
	if !n.batchEvents {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Shelf - Batch Complete"
		message = fmt.Sprintf("Batch %s complete: %d records enriched in %s", shortBatchID(batchID), succeeded, durationText)
	} else {
		title = "Shelf - Batch Complete (with errors)"
		message = fmt.Sprintf("Batch %s complete: %d enriched, %d failed in %s", shortBatchID(batchID), succeeded, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"shelf", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyBatchCanceled(ctx context.Context, batchID string, remaining int) error {
	if !n.batchEvents {
		return nil
	}
	data := payload{
		title:   "Shelf - Batch Canceled",
		message: fmt.Sprintf("Batch %s canceled with %d records unprocessed", shortBatchID(batchID), remaining),
		tags:    []string{"shelf", "batch", "canceled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errorEvents {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Shelf - Error",
		message:  builder.String(),
		tags:     []string{"shelf", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Shelf - Test",
		message:  "Notification system test",
		tags:     []string{"shelf", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// shortBatchID trims a UUID down to its first group for notification text.
func shortBatchID(batchID string) string {
	if idx := strings.IndexByte(batchID, '-'); idx > 0 {
		return batchID[:idx]
	}
	return batchID
}

type noopPusher struct{}

func (noopPusher) NotifyBatchStarted(context.Context, string, int) error { return nil }
func (noopPusher) NotifyBatchCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopPusher) NotifyBatchCanceled(context.Context, string, int) error { return nil }
func (noopPusher) NotifyError(context.Context, error, string) error       { return nil }
func (noopPusher) TestNotification(context.Context) error                 { return nil }
