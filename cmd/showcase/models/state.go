package models

// ShowcaseState is the UI-facing output of one orchestrator
type ShowcaseState struct {
	ActiveIndex     int     `json:"active_index"`
	IsTransitioning bool    `json:"is_transitioning"`
	IsLoaded        bool    `json:"is_loaded"`
	WarmupProgress  float64 `json:"warmup_progress"`
	AssetCount      int     `json:"asset_count"`
	Engine          string  `json:"engine"`
	LoadedBy        string  `json:"loaded_by,omitempty"`
}
