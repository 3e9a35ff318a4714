// Package provider loads the ordered asset list and tracks its changes.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/portfolio/showcase/cmd/showcase/models"
)

// Provider returns the current ordered asset list
type Provider interface {
	List(ctx context.Context) ([]models.Asset, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// StaticProvider reads the list from a JSON file on every call, so edits
// to the file are picked up by the next refresh.
type StaticProvider struct {
	path string
}

// NewStaticProvider creates a provider over path
func NewStaticProvider(path string) *StaticProvider {
	return &StaticProvider{path: path}
}

type assetFile struct {
	Assets []models.Asset `json:"assets"`
}

// List parses either a bare array or an object with an "assets" array
func (p *StaticProvider) List(ctx context.Context) ([]models.Asset, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset file: %w", err)
	}

	var assets []models.Asset
	if err := json.Unmarshal(data, &assets); err == nil {
		return assets, nil
	}

	var wrapped assetFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse asset file %s: %w", p.path, err)
	}
	return wrapped.Assets, nil
}
