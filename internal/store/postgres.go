package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rankgrid/internal/db"
	"github.com/sells-group/rankgrid/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

// --- Profiles ---

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, name, address, place_id, lat, lng, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Address, p.PlaceID, p.Lat, p.Lng, now, now,
	)
	return eris.Wrap(err, "postgres: insert profile")
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, address, place_id, lat, lng, created_at, updated_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Address, &p.PlaceID, &p.Lat, &p.Lng, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "postgres: get profile %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateProfileLocation(ctx context.Context, id string, lat, lng float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET lat = $1, lng = $2, updated_at = $3 WHERE id = $4`,
		lat, lng, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update profile location %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: profile %s", id)
	}
	return nil
}

// --- Reports ---

const reportColumns = `id, profile_id, name, business_name, center_lat, center_lng, target_place_id,
	radius_km, grid_size, keywords, schedule, status, last_run_at, created_at, updated_at`

func scanReport(row pgx.Row) (*model.Report, error) {
	var r model.Report
	var scheduleJSON []byte
	err := row.Scan(&r.ID, &r.ProfileID, &r.Name, &r.BusinessName, &r.CenterLat, &r.CenterLng,
		&r.TargetPlaceID, &r.RadiusKM, &r.GridSize, &r.Keywords, &scheduleJSON, &r.Status,
		&r.LastRunAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(scheduleJSON) > 0 {
		if err := json.Unmarshal(scheduleJSON, &r.Schedule); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal schedule")
		}
	}
	return &r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReportStatusPending
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	scheduleJSON, err := json.Marshal(r.Schedule)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schedule")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.ProfileID, r.Name, r.BusinessName, r.CenterLat, r.CenterLng, r.TargetPlaceID,
		r.RadiusKM, r.GridSize, r.Keywords, scheduleJSON, string(r.Status), r.LastRunAt, now, now,
	)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get report %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, profileID string) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if profileID != "" {
		query += ` WHERE profile_id = $1`
		args = append(args, profileID)
	}
	query += ` ORDER BY created_at DESC`
	return s.queryReports(ctx, query, args...)
}

func (s *PostgresStore) ListScheduledReports(ctx context.Context) ([]model.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE COALESCE(schedule->>'frequency', '') NOT IN ('', 'manual')
		 ORDER BY created_at`)
}

func (s *PostgresStore) queryReports(ctx context.Context, query string, args ...any) ([]model.Report, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpdateReport(ctx context.Context, r *model.Report) error {
	scheduleJSON, err := json.Marshal(r.Schedule)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schedule")
	}
	r.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET name = $1, center_lat = $2, center_lng = $3, target_place_id = $4,
		 radius_km = $5, grid_size = $6, keywords = $7, schedule = $8, updated_at = $9
		 WHERE id = $10`,
		r.Name, r.CenterLat, r.CenterLng, r.TargetPlaceID, r.RadiusKM, r.GridSize, r.Keywords,
		scheduleJSON, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: report %s", r.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete report %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetReportStatus(ctx context.Context, id string, status model.ReportStatus, lastRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, last_run_at = COALESCE($2, last_run_at), updated_at = $3 WHERE id = $4`,
		string(status), lastRunAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set report status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: report %s", id)
	}
	return nil
}

func (s *PostgresStore) SetReportTarget(ctx context.Context, id string, placeID *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET target_place_id = $1, updated_at = $2 WHERE id = $3`,
		placeID, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set report target %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: report %s", id)
	}
	return nil
}

// --- Runs ---

const runColumns = `id, report_id, attempt, status, points_total, points_completed, avg_rank,
	top3_percent, avg_score, found_count, failed_count, error, started_at, completed_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.ReportID, &r.Attempt, &r.Status, &r.PointsTotal, &r.PointsCompleted,
		&r.Stats.AvgRank, &r.Stats.Top3Percent, &r.Stats.AvgScore, &r.Stats.FoundCount,
		&r.Stats.FailedCount, &r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, reportID string, attempt, pointsTotal int) (*model.Run, error) {
	run := &model.Run{
		ID:          uuid.New().String(),
		ReportID:    reportID,
		Attempt:     attempt,
		Status:      model.RunStatusRunning,
		PointsTotal: pointsTotal,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, report_id, attempt, status, points_total, points_completed, started_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		run.ID, run.ReportID, run.Attempt, string(run.Status), run.PointsTotal, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for report %s", reportID)
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, pointsCompleted int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET points_completed = GREATEST(points_completed, $1) WHERE id = $2`,
		pointsCompleted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, pointsCompleted int, stats model.RunStats) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, points_completed = $2, avg_rank = $3, top3_percent = $4,
		 avg_score = $5, found_count = $6, failed_count = $7, completed_at = $8
		 WHERE id = $9`,
		string(model.RunStatusCompleted), pointsCompleted, stats.AvgRank, stats.Top3Percent,
		stats.AvgScore, stats.FoundCount, stats.FailedCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) GetLatestRun(ctx context.Context, reportID string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE report_id = $1 ORDER BY started_at DESC, attempt DESC LIMIT 1`,
		reportID,
	))
	if err != nil {
		return nil, notFound(err, "postgres: get latest run for report %s", reportID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, reportID string, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE report_id = $1 ORDER BY started_at DESC, attempt DESC LIMIT $2`,
		reportID, runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	return collectRuns(rows)
}

// ListRunsSince returns runs of every report started at or after since,
// newest first.
func (s *PostgresStore) ListRunsSince(ctx context.Context, since time.Time, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE started_at >= $1 ORDER BY started_at DESC LIMIT $2`,
		since, runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs since")
	}
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]model.Run, error) {
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Results ---

var resultUpsert = db.UpsertConfig{
	Table: "results",
	Columns: []string{
		"run_id", "keyword", "grid_row", "grid_col", "lat", "lng", "location", "rank",
		"total_results", "top_competitor", "competitors", "score", "error", "created_at",
	},
	ConflictKeys: resultKeyColumns,
}

func (s *PostgresStore) UpsertResults(ctx context.Context, results []model.Result) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		loc, err := pointEWKB(r.Lat, r.Lng)
		if err != nil {
			return 0, err
		}
		comps, err := marshalCompetitors(r.Competitors)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			r.RunID, r.Keyword, r.Row, r.Col, r.Lat, r.Lng, loc, r.Rank,
			r.TotalResults, r.TopCompetitor, comps, r.Score, r.Error, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, resultUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert results")
	}
	return n, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, runID, keyword string) ([]model.Result, error) {
	query := `SELECT id, run_id, keyword, grid_row, grid_col, lat, lng, rank, total_results,
		top_competitor, competitors, score, error, created_at
		FROM results WHERE run_id = $1`
	args := []any{runID}
	if keyword != "" {
		query += ` AND keyword = $2`
		args = append(args, keyword)
	}
	query += ` ORDER BY keyword, grid_row, grid_col`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for run %s", runID)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var r model.Result
		var comps []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.Keyword, &r.Row, &r.Col, &r.Lat, &r.Lng, &r.Rank,
			&r.TotalResults, &r.TopCompetitor, &comps, &r.Score, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if r.Competitors, err = unmarshalCompetitors(comps); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}
