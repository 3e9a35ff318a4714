package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Asset is one showcase video with its display metadata.
// Assets are immutable; a content change replaces the whole list.
type Asset struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	AltSource       string `json:"alt_source,omitempty"`
	Location        string `json:"location,omitempty"`
	Coordinates     string `json:"coordinates,omitempty"`
	CoordinatesLink string `json:"coordinates_link,omitempty"`
	Camera          string `json:"camera,omitempty"`
	Aperture        string `json:"aperture,omitempty"`
	Shutter         string `json:"shutter,omitempty"`
	ISO             string `json:"iso,omitempty"`
	ExposureBoost   bool   `json:"exposure_boost,omitempty"`
}

// ContentHash identifies a list by content, not identity.
// An empty or nil list hashes to "".
func ContentHash(assets []Asset) string {
	if len(assets) == 0 {
		return ""
	}
	data, err := json.Marshal(assets)
	if err != nil {
		// Asset has only string/bool fields
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IndexOf returns the position of the asset with id, or -1
func IndexOf(assets []Asset, id string) int {
	for i, a := range assets {
		if a.ID == id {
			return i
		}
	}
	return -1
}
