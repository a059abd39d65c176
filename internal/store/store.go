// Package store persists runs, per-geography results and cached upstream
// payloads in Postgres or SQLite.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/censusify/internal/model"
)

// ErrNotFound is returned (wrapped) when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for generate runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Geography results
	SaveGeographies(ctx context.Context, runID string, results []model.GeographyResult) (int64, error)
	ListGeographies(ctx context.Context, runID, level string) ([]model.GeographyResult, error)

	// Payload cache
	GetCachedPayload(ctx context.Context, key string) ([]byte, error)
	SetCachedPayload(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredPayloads(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn, nil)
	case "sqlite", "":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// geographyJSON holds the JSON-encoded columns of a geography row.
type geographyJSON struct {
	parents, counts, percents []byte
}

func marshalGeography(g model.GeographyResult) (geographyJSON, error) {
	var out geographyJSON
	var err error
	if out.parents, err = json.Marshal(nonNil(g.Parents)); err != nil {
		return out, eris.Wrap(err, "store: marshal parents")
	}
	if out.counts, err = json.Marshal(nonNil(g.Counts)); err != nil {
		return out, eris.Wrap(err, "store: marshal counts")
	}
	if g.Percents != nil {
		if out.percents, err = json.Marshal(g.Percents); err != nil {
			return out, eris.Wrap(err, "store: marshal percents")
		}
	}
	return out, nil
}

func unmarshalGeography(g *model.GeographyResult, cols geographyJSON) error {
	if err := json.Unmarshal(cols.parents, &g.Parents); err != nil {
		return eris.Wrap(err, "store: unmarshal parents")
	}
	if len(g.Parents) == 0 {
		g.Parents = nil
	}
	if err := json.Unmarshal(cols.counts, &g.Counts); err != nil {
		return eris.Wrap(err, "store: unmarshal counts")
	}
	if len(cols.percents) > 0 {
		if err := json.Unmarshal(cols.percents, &g.Percents); err != nil {
			return eris.Wrap(err, "store: unmarshal percents")
		}
	}
	return nil
}

func nonNil[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
