package provider

import (
	"context"
	"time"

	rediscommon "github.com/portfolio/showcase/common/redis"
)

// ChangeNotifier spreads "asset list changed" across instances over a
// Redis channel. Every instance refreshes its catalog on a message.
type ChangeNotifier struct {
	redis   *rediscommon.Client
	channel string
	catalog *Catalog
	log     Logger
}

// NewChangeNotifier creates a notifier. A nil client makes Publish refresh
// the local catalog only.
func NewChangeNotifier(client *rediscommon.Client, channel string, catalog *Catalog, log Logger) *ChangeNotifier {
	return &ChangeNotifier{
		redis:   client,
		channel: channel,
		catalog: catalog,
		log:     log,
	}
}

// Publish announces a change. Without Redis the local catalog refreshes directly.
func (n *ChangeNotifier) Publish(ctx context.Context, reason string) error {
	if n.redis == nil {
		_, err := n.catalog.Refresh(ctx)
		return err
	}
	return n.redis.Announce(ctx, n.channel, reason)
}

// Run listens for change announcements until ctx is done
func (n *ChangeNotifier) Run(ctx context.Context) error {
	if n.redis == nil {
		<-ctx.Done()
		return nil
	}

	n.log.Info("listening for asset changes", "channel", n.channel)
	defer n.log.Info("asset change listener stopping")

	return n.redis.Listen(ctx, n.channel, func(a rediscommon.Announcement) {
		n.log.Debug("asset change announced", "reason", a.Reason, "instance", a.Instance)

		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := n.catalog.Refresh(rctx); err != nil {
			n.log.Error("failed to refresh assets after change", "error", err)
		}
	})
}
