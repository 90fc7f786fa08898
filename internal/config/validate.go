package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBlobs(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"store.version":                   c.Store.Version,
		"daemon.workers":                  c.Daemon.Workers,
		"daemon.queue_size":               c.Daemon.QueueSize,
		"daemon.mailbox_size":             c.Daemon.MailboxSize,
		"daemon.poll_wait_seconds":        c.Daemon.PollWaitSeconds,
		"daemon.cleanup_interval_minutes": c.Daemon.CleanupIntervalMinutes,
		"daemon.task_retention_hours":     c.Daemon.TaskRetentionHours,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBlobs() error {
	if c.Blobs.MaxAvatarDim < 16 {
		return errors.New("blobs.max_avatar_dim must be at least 16")
	}
	if c.Blobs.AvatarQuality < 1 || c.Blobs.AvatarQuality > 100 {
		return errors.New("blobs.avatar_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	parsed, err := url.Parse(c.LLM.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("llm.base_url %q must be an absolute URL", c.LLM.BaseURL)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := strings.TrimSpace(c.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return errors.New("notifications.ntfy_topic must be a full URL (for example https://ntfy.sh/my-topic)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
