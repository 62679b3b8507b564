package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Console is a Service that writes notifications to a structured logger.
// It remembers only which channels exist and which ids are shown, so
// OnlyAlertOnce updates are logged at debug level after the first post.
type Console struct {
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]struct{}
	shown    map[int]struct{}
}

// NewConsole creates a Console writing to logger (slog.Default when nil)
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		logger:   logger,
		channels: make(map[string]struct{}),
		shown:    make(map[int]struct{}),
	}
}

// CreateChannel registers the channel and logs it
func (c *Console) CreateChannel(ch Channel) error {
	if ch.ID == "" {
		return ErrInvalidChannel
	}
	c.mu.Lock()
	c.channels[ch.ID] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("Notification channel created",
		"channel", ch.ID,
		"name", ch.Name,
		"importance", ch.Importance.String(),
		"visibility", ch.Visibility.String())
	return nil
}

// Notify logs the notification
func (c *Console) Notify(id int, n Notification) error {
	c.mu.Lock()
	if _, ok := c.channels[n.ChannelID]; !ok {
		c.mu.Unlock()
		return ErrUnknownChannel
	}
	_, shown := c.shown[id]
	c.shown[id] = struct{}{}
	c.mu.Unlock()

	level := slog.LevelInfo
	if shown && n.OnlyAlertOnce {
		level = slog.LevelDebug
	}

	attrs := []any{"id", id, "title", n.Title, "text", n.Text}
	if n.HasProgress() {
		attrs = append(attrs, "progress", n.Progress)
	}
	if n.Ongoing {
		attrs = append(attrs, "ongoing", true)
	}
	c.logger.Log(context.Background(), level, "🔔 Notification", attrs...)
	return nil
}

// Cancel logs the dismissal
func (c *Console) Cancel(id int) error {
	c.mu.Lock()
	_, shown := c.shown[id]
	delete(c.shown, id)
	c.mu.Unlock()

	if shown {
		c.logger.Debug("Notification dismissed", "id", id)
	}
	return nil
}
