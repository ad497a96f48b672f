package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var reportCols = []string{
	"id", "profile_id", "name", "business_name", "center_lat", "center_lng", "target_place_id",
	"radius_km", "grid_size", "keywords", "schedule", "status", "last_run_at", "created_at", "updated_at",
}

var runCols = []string{
	"id", "report_id", "attempt", "status", "points_total", "points_completed", "avg_rank",
	"top3_percent", "avg_score", "found_count", "failed_count", "error", "started_at", "completed_at",
}

func TestPostgresStore_GetReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("rep-1").
		WillReturnRows(pgxmock.NewRows(reportCols).AddRow(
			"rep-1", "prof-1", "Downtown", "Acme", 40.0, -75.0, ptr("place-9"),
			2.0, 3, []string{"plumber"}, []byte(`{"frequency":"daily","hour":6}`),
			model.ReportStatusCompleted, &now, now, now,
		))

	r, err := s.GetReport(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", r.BusinessName)
	assert.Equal(t, "place-9", r.Target())
	assert.Equal(t, []string{"plumber"}, r.Keywords)
	assert.Equal(t, "daily", r.Schedule.Frequency)
	assert.Equal(t, 6, r.Schedule.Hour)
	assert.Equal(t, model.ReportStatusCompleted, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetReport(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("rep-1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetReport(context.Background(), "rep-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get report rep-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO reports`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := &model.Report{ProfileID: "prof-1", Name: "Downtown", BusinessName: "Acme", GridSize: 3, RadiusKM: 2, Keywords: []string{"plumber"}}
	require.NoError(t, s.CreateReport(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.ReportStatusPending, r.Status)
	assert.False(t, r.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetReportStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE reports SET status = \$1, last_run_at = COALESCE\(\$2, last_run_at\)`).
		WithArgs("failed", (*time.Time)(nil), pgxmock.AnyArg(), "rep-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetReportStatus(context.Background(), "rep-x", model.ReportStatusFailed, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM reports WHERE id = \$1`).
		WithArgs("rep-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM reports WHERE id = \$1`).
		WithArgs("rep-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	deleted, err := s.DeleteReport(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteReport(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "rep-1", 2, "running", 18, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "rep-1", 2, 18)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, 18, run.PointsTotal)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunProgress_Monotonic(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET points_completed = GREATEST\(points_completed, \$1\)`).
		WithArgs(10, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateRunProgress(context.Background(), "run-1", 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stats := model.RunStats{AvgRank: ptr(3.0), Top3Percent: 50, FoundCount: 9, FailedCount: 1}

	mock.ExpectExec(`UPDATE runs SET status = \$1, points_completed = \$2`).
		WithArgs("completed", 18, stats.AvgRank, 50.0, (*float64)(nil), 9, 1, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", 18, stats))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatestRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM runs WHERE report_id = \$1 ORDER BY started_at DESC`).
		WithArgs("rep-1").
		WillReturnRows(pgxmock.NewRows(runCols).AddRow(
			"run-2", "rep-1", 2, model.RunStatusFailed, 18, 4, (*float64)(nil),
			0.0, (*float64)(nil), 0, 0, "provider unavailable", now, &now,
		))

	run, err := s.GetLatestRun(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", run.ID)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "provider unavailable", run.Error)
	assert.Nil(t, run.Stats.AvgRank)
	assert.NotNil(t, run.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunsSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT .* FROM runs WHERE started_at >= \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs(since, 500).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-2", "rep-2", 1, model.RunStatusCompleted, 18, 18, ptr(1.5),
				94.44, ptr(91.0), 17, 1, "", now, &now).
			AddRow("run-1", "rep-1", 1, model.RunStatusFailed, 25, 10, (*float64)(nil),
				0.0, (*float64)(nil), 0, 0, "places: circuit open", now.Add(-time.Hour), &now))

	runs, err := s.ListRunsSince(context.Background(), since, 500)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "rep-2", runs[0].ReportID)
	assert.Equal(t, 1, runs[0].Stats.FailedCount)
	assert.Equal(t, model.RunStatusFailed, runs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatestRun_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM runs WHERE report_id = \$1`).
		WithArgs("rep-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLatestRun(context.Background(), "rep-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_results"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_results"}, resultUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_results"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "results" .* ON CONFLICT \("run_id", "keyword", "grid_row", "grid_col"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertResults(context.Background(), []model.Result{
		{RunID: "run-1", Keyword: "plumber", Row: 0, Col: 0, Lat: 40, Lng: -75, Rank: ptr(1), Score: ptr(95)},
		{RunID: "run-1", Keyword: "plumber", Row: 0, Col: 1, Lat: 40, Lng: -74.9, Error: "timeout"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListResults_KeywordFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM results WHERE run_id = \$1 AND keyword = \$2`).
		WithArgs("run-1", "plumber").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "run_id", "keyword", "grid_row", "grid_col", "lat", "lng", "rank", "total_results",
			"top_competitor", "competitors", "score", "error", "created_at",
		}).AddRow(
			int64(7), "run-1", "plumber", 1, 2, 40.0, -75.0, ptr(4), 20,
			"Rival", []byte(`[{"place_id":"p1","name":"Rival","lat":40,"lng":-75}]`), ptr(60), "", now,
		))

	results, err := s.ListResults(context.Background(), "run-1", "plumber")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(7), results[0].ID)
	assert.Equal(t, 4, *results[0].Rank)
	require.Len(t, results[0].Competitors, 1)
	assert.Equal(t, "p1", results[0].Competitors[0].PlaceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS profiles`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointEWKB(t *testing.T) {
	b, err := pointEWKB(40.5, -75.25)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 4326, p.SRID())
	assert.InDelta(t, -75.25, p.X(), 1e-12)
	assert.InDelta(t, 40.5, p.Y(), 1e-12)
}
