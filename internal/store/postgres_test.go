package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/censusify/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

var runRowColumns = []string{"id", "status", "params", "result", "error", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS censusify_runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO censusify_runs`).
		WithArgs(pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), sampleParams())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	params, _ := json.Marshal(sampleParams())
	result, _ := json.Marshal(model.RunResult{BlockGroups: 5})
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, status, params, result, error, created_at, updated_at FROM censusify_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runRowColumns).
			AddRow("run-1", "complete", params, result, "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "42", run.Params.StateFIPS)
	require.NotNil(t, run.Result)
	assert.Equal(t, 5, run.Result.BlockGroups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM censusify_runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE censusify_runs SET status`).
		WithArgs("matching", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusMatching)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE censusify_runs SET error`).
		WithArgs("boom", "failed", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	params, _ := json.Marshal(sampleParams())
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM censusify_runs WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("complete", 10, 5).
		WillReturnRows(pgxmock.NewRows(runRowColumns).
			AddRow("a", "complete", params, nil, "", now, now).
			AddRow("b", "complete", params, nil, "", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveGeographies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_censusify_geographies"}, geographyColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "censusify_geographies"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.SaveGeographies(context.Background(), "run-1", []model.GeographyResult{
		{Level: "district", Key: "01", Counts: map[string]int64{"asian": 1}, Total: 1, BlockGroups: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresStore_ListGeographies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM censusify_geographies WHERE run_id = \$1 AND level = \$2 ORDER BY key`).
		WithArgs("run-1", "district").
		WillReturnRows(pgxmock.NewRows([]string{"level", "key", "parents", "counts", "percents", "total", "block_groups", "geom_ewkb"}).
			AddRow("district", "01", []byte(`{"division":"NE"}`), []byte(`{"asian":2,"white":2}`), []byte(`{"asian":50,"white":50}`), int64(4), 2, []byte(nil)))

	got, err := s.ListGeographies(context.Background(), "run-1", "district")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, "NE", got[0].Parents["division"])
	assert.Equal(t, int64(2), got[0].Counts["asian"])
	assert.InDelta(t, 50.0, got[0].Percents["white"], 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PayloadCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM censusify_payload_cache`).
		WithArgs("census:2020").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`ON CONFLICT \(key\)`).
		WithArgs("census:2020", []byte("payload"), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT data FROM censusify_payload_cache`).
		WithArgs("census:2020").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("payload")))
	mock.ExpectExec(`DELETE FROM censusify_payload_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	ctx := context.Background()
	data, err := s.GetCachedPayload(ctx, "census:2020")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SetCachedPayload(ctx, "census:2020", []byte("payload"), time.Hour))

	data, err = s.GetCachedPayload(ctx, "census:2020")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	n, err := s.DeleteExpiredPayloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := &PostgresStore{closeFn: func() { closed = true }}
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
