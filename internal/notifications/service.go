package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ferry/internal/config"
)

const userAgent = "Ferry-Go/0.1.0"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyTaskCompleted(ctx context.Context, ownerID, taskID, kind string, items int) error
	NotifyTaskFailed(ctx context.Context, ownerID, taskID, kind, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		failed:    cfg.Notifications.Failed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	action   string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
}

// FocusCommand is the shell command a notification click runs to bring the
// owner's view to the front.
func FocusCommand(ownerID string) string {
	return "ferry focus " + strings.TrimSpace(ownerID)
}

func focusAction(ownerID string) string {
	return fmt.Sprintf("broadcast, Open, extras.cmd=%s, clear=true", FocusCommand(ownerID))
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, ownerID, taskID, kind string, items int) error {
	if !n.completed {
		return nil
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "task"
	}
	noun := "items"
	if items == 1 {
		noun = "item"
	}
	data := payload{
		title:   "Ferry - Ready",
		message: fmt.Sprintf("✅ %s for %s finished with %d %s (task %s)", kind, ownerID, items, noun, shortID(taskID)),
		tags:    []string{"ferry", "task", "completed"},
		action:  focusAction(ownerID),
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, ownerID, taskID, kind, reason string) error {
	if !n.failed {
		return nil
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "task"
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	data := payload{
		title:    "Ferry - Failed",
		message:  fmt.Sprintf("❌ %s for %s failed (task %s): %s", kind, ownerID, shortID(taskID), reason),
		tags:     []string{"ferry", "task", "failed"},
		priority: "high",
		action:   focusAction(ownerID),
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Ferry - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"ferry", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
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
	if data.action != "" {
		req.Header.Set("Actions", data.action)
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

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyTaskCompleted(context.Context, string, string, string, int) error { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                                 { return nil }
