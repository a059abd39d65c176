// Package model holds the persisted shapes of censusify runs.
package model

import "time"

// RunStatus is the lifecycle state of a generate run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusFetching RunStatus = "fetching"
	RunStatusMatching RunStatus = "matching"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// RunParams records the inputs a run was started with.
type RunParams struct {
	Year         int      `json:"year"`
	Dataset      string   `json:"dataset"`
	StateFIPS    string   `json:"state_fips"`
	CountyFIPS   string   `json:"county_fips"`
	Relationship string   `json:"relationship"`
	Taxonomy     string   `json:"taxonomy"`
	Levels       []string `json:"levels"`
}

// Run is one execution of the generate pipeline.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Params    RunParams  `json:"params"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult summarizes a completed run.
type RunResult struct {
	BlockGroups int            `json:"block_groups"`
	Invalid     int            `json:"invalid_block_groups"`
	Levels      []LevelSummary `json:"levels"`
	Outputs     []string       `json:"outputs,omitempty"`
}

// LevelSummary describes the matches of one geography level.
type LevelSummary struct {
	Level   string            `json:"level"`
	Matched int               `json:"matched"`
	Skipped map[string]string `json:"skipped,omitempty"`
}
