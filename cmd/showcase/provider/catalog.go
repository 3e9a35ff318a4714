package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/portfolio/showcase/cmd/showcase/metrics"
	"github.com/portfolio/showcase/cmd/showcase/models"
)

// Change describes one applied asset list update
type Change struct {
	Assets []models.Asset
	Hash   string
	// Patch is a JSON merge patch from the previous list document
	Patch json.RawMessage
}

// Catalog caches the provider's list and detects content changes by hash
type Catalog struct {
	provider Provider
	log      Logger

	// refreshMu orders whole refreshes so a slow, stale List cannot land
	// after a newer one
	refreshMu sync.Mutex

	mu        sync.RWMutex
	assets    []models.Asset
	hash      string
	listeners []func(Change)
}

// NewCatalog creates a catalog over provider
func NewCatalog(provider Provider, log Logger) *Catalog {
	return &Catalog{provider: provider, log: log}
}

// OnChange registers fn for every content change applied by Refresh
func (c *Catalog) OnChange(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh reloads the list. It reports whether the content changed.
func (c *Catalog) Refresh(ctx context.Context) (bool, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	assets, err := c.provider.List(ctx)
	if err != nil {
		metrics.AssetRefreshesTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to load assets: %w", err)
	}

	hash := models.ContentHash(assets)

	c.mu.Lock()
	if hash == c.hash {
		c.mu.Unlock()
		metrics.AssetRefreshesTotal.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	patch, err := Diff(c.assets, assets)
	if err != nil {
		c.log.Warn("failed to diff asset lists", "error", err)
	}

	c.assets = assets
	c.hash = hash
	listeners := make([]func(Change), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	metrics.AssetRefreshesTotal.WithLabelValues("changed").Inc()
	c.log.Info("asset list changed", "assets", len(assets), "hash", hash, "patch_bytes", len(patch))

	change := Change{Assets: assets, Hash: hash, Patch: patch}
	for _, fn := range listeners {
		fn(change)
	}
	return true, nil
}

// Assets returns the last loaded list and its hash
func (c *Catalog) Assets() ([]models.Asset, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Asset(nil), c.assets...), c.hash
}

// listDocument is the shape diffed between lists: ids in order plus the
// records keyed by id, so a reorder or a single edited field stays small.
type listDocument struct {
	Order  []string                `json:"order"`
	Assets map[string]models.Asset `json:"assets"`
}

func document(assets []models.Asset) ([]byte, error) {
	doc := listDocument{
		Order:  make([]string, len(assets)),
		Assets: make(map[string]models.Asset, len(assets)),
	}
	for i, a := range assets {
		doc.Order[i] = a.ID
		doc.Assets[a.ID] = a
	}
	return json.Marshal(doc)
}

// Diff returns the JSON merge patch turning the old list document into the new one
func Diff(old, updated []models.Asset) (json.RawMessage, error) {
	before, err := document(old)
	if err != nil {
		return nil, fmt.Errorf("failed to encode previous list: %w", err)
	}
	after, err := document(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode new list: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge patch: %w", err)
	}
	return patch, nil
}

// Apply applies a patch produced by Diff to old and returns the new list
func Apply(old []models.Asset, patch json.RawMessage) ([]models.Asset, error) {
	before, err := document(old)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(before, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch: %w", err)
	}

	var doc listDocument
	if err := json.Unmarshal(merged, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode patched list: %w", err)
	}

	assets := make([]models.Asset, 0, len(doc.Order))
	for _, id := range doc.Order {
		a, ok := doc.Assets[id]
		if !ok {
			return nil, fmt.Errorf("patched list references unknown asset %s", id)
		}
		assets = append(assets, a)
	}
	return assets, nil
}
