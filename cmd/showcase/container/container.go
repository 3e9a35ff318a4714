package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/portfolio/showcase/cmd/showcase/blobcache"
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/cmd/showcase/session"
	"github.com/portfolio/showcase/common/bootstrap"
	"github.com/portfolio/showcase/common/clients"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	HTTPClient *clients.HTTPClient

	// Asset list
	Provider provider.Provider
	Catalog  *provider.Catalog
	Notifier *provider.ChangeNotifier

	// Sessions
	Classifier *capability.Classifier
	Hub        *session.Hub
	Sessions   *session.Manager
}

// NewContainer initializes all services once. Sessions live until ctx is cancelled.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	rules, err := capability.LoadRules(cfg.Showcase.EngineRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine rules: %w", err)
	}
	classifier, err := capability.NewClassifier(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile engine rules: %w", err)
	}

	var assets provider.Provider
	switch cfg.Showcase.AssetSource {
	case "postgres":
		assets = provider.NewAssetRepository(components.DB)
	default:
		assets = provider.NewStaticProvider(cfg.Showcase.AssetFile)
	}

	// Origin fetches download whole videos; the timeout bounds one download
	httpClient := clients.NewHTTPClient(&http.Client{Timeout: cfg.Showcase.OriginTimeout}, log)
	fetcher := blobcache.NewHTTPFetcher(httpClient)

	hub := session.NewHub(log)
	catalog := provider.NewCatalog(assets, log)
	catalog.OnChange(hub.Broadcast)

	if _, err := catalog.Refresh(ctx); err != nil {
		// Sessions start idle and pick the list up on the next refresh
		log.Warn("initial asset load failed", "source", cfg.Showcase.AssetSource, "error", err)
	}

	notifier := provider.NewChangeNotifier(components.Redis, cfg.Redis.ChangeChannel, catalog, log)
	manager := session.NewManager(ctx, cfg, classifier, fetcher, catalog, hub, log)

	return &Container{
		Components: components,
		HTTPClient: httpClient,
		Provider:   assets,
		Catalog:    catalog,
		Notifier:   notifier,
		Classifier: classifier,
		Hub:        hub,
		Sessions:   manager,
	}, nil
}
