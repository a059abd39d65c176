package model

import "time"

// CitywideLevel is the level name of the whole-region aggregate.
const CitywideLevel = "custom"

// GeographyResult is the apportioned demographics of one target geography.
type GeographyResult struct {
	RunID       string             `json:"run_id,omitempty"`
	Level       string             `json:"level"`
	Key         string             `json:"key"`
	Parents     map[string]string  `json:"parents,omitempty"`
	Counts      map[string]int64   `json:"demographics_count"`
	Percents    map[string]float64 `json:"demographics_percent,omitempty"`
	Total       int64              `json:"total"`
	BlockGroups int                `json:"block_groups"`
	// Geometry is the target outline as EWKB; not serialized to JSON.
	Geometry []byte `json:"-"`
}

// CachedPayload is a raw upstream response kept for reuse.
type CachedPayload struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
