package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Announcement is the payload published on a change channel
type Announcement struct {
	Reason   string    `json:"reason"`
	Instance string    `json:"instance"`
	At       time.Time `json:"at"`
}

// Client wraps redis.Client with the pub/sub operations the showcase uses
// to tell every instance that shared state changed.
type Client struct {
	redis    *redis.Client
	instance string
	logger   Logger
}

// NewClient creates a new Redis client wrapper. instance tags outgoing announcements.
func NewClient(redisClient *redis.Client, instance string, logger Logger) *Client {
	return &Client{
		redis:    redisClient,
		instance: instance,
		logger:   logger,
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Announce publishes an announcement on channel
func (c *Client) Announce(ctx context.Context, channel, reason string) error {
	payload, err := json.Marshal(Announcement{
		Reason:   reason,
		Instance: c.instance,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	if err := c.redis.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel, "reason", reason)
	return nil
}

// Listen subscribes to channel and calls fn for every announcement until ctx
// is done. Payloads that are not JSON are passed through as the reason.
func (c *Client) Listen(ctx context.Context, channel string, fn func(Announcement)) error {
	pubsub := c.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		c.logger.Error("redis SUBSCRIBE failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	c.logger.Info("redis SUBSCRIBE", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}
			fn(decodeAnnouncement(msg.Payload))
		}
	}
}

func decodeAnnouncement(payload string) Announcement {
	var a Announcement
	if err := json.Unmarshal([]byte(payload), &a); err != nil || a.Reason == "" {
		return Announcement{Reason: payload}
	}
	return a
}

// Close closes the underlying client
func (c *Client) Close() error {
	return c.redis.Close()
}
