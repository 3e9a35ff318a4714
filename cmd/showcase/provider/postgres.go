package provider

import (
	"context"
	"fmt"

	"github.com/portfolio/showcase/cmd/showcase/models"
	"github.com/portfolio/showcase/common/db"
)

// Schema creates the table the CMS writes published assets to
const Schema = `
CREATE TABLE IF NOT EXISTS showcase_asset (
	asset_id          TEXT PRIMARY KEY,
	position          INTEGER NOT NULL DEFAULT 0,
	published         BOOLEAN NOT NULL DEFAULT TRUE,
	source_url        TEXT NOT NULL,
	alt_source_url    TEXT,
	location          TEXT,
	coordinates       TEXT,
	coordinates_link  TEXT,
	camera            TEXT,
	aperture          TEXT,
	shutter           TEXT,
	iso               TEXT,
	exposure_boost    BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// IndexSchema backs the published listing query
const IndexSchema = `
CREATE INDEX IF NOT EXISTS showcase_asset_published_position
	ON showcase_asset (position, asset_id) WHERE published`

// schemaLockKey serializes schema creation across instances
const schemaLockKey int64 = 0x73686f77

// EnsureSchema creates the asset table when it does not exist
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if err := database.Migrate(ctx, schemaLockKey, Schema, IndexSchema); err != nil {
		return fmt.Errorf("failed to create showcase_asset table: %w", err)
	}
	return nil
}

// AssetRepository reads published showcase assets from Postgres
type AssetRepository struct {
	db *db.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(database *db.DB) *AssetRepository {
	return &AssetRepository{db: database}
}

// List returns published assets in display order
func (r *AssetRepository) List(ctx context.Context) ([]models.Asset, error) {
	query := `
		SELECT asset_id, source_url,
		       COALESCE(alt_source_url, ''), COALESCE(location, ''),
		       COALESCE(coordinates, ''), COALESCE(coordinates_link, ''),
		       COALESCE(camera, ''), COALESCE(aperture, ''),
		       COALESCE(shutter, ''), COALESCE(iso, ''),
		       exposure_boost
		FROM showcase_asset
		WHERE published
		ORDER BY position, asset_id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		err := rows.Scan(
			&a.ID,
			&a.Source,
			&a.AltSource,
			&a.Location,
			&a.Coordinates,
			&a.CoordinatesLink,
			&a.Camera,
			&a.Aperture,
			&a.Shutter,
			&a.ISO,
			&a.ExposureBoost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}
