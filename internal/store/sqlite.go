package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rankgrid/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection keeps foreign_keys in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	place_id   TEXT NOT NULL DEFAULT '',
	lat        REAL,
	lng        REAL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	profile_id      TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	business_name   TEXT NOT NULL,
	center_lat      REAL NOT NULL,
	center_lng      REAL NOT NULL,
	target_place_id TEXT,
	radius_km       REAL NOT NULL,
	grid_size       INTEGER NOT NULL CHECK (grid_size >= 2),
	keywords        TEXT NOT NULL,
	schedule        TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'pending',
	last_run_at     DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_profile_id ON reports(profile_id);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	report_id        TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	attempt          INTEGER NOT NULL DEFAULT 1,
	status           TEXT NOT NULL DEFAULT 'running',
	points_total     INTEGER NOT NULL,
	points_completed INTEGER NOT NULL DEFAULT 0,
	avg_rank         REAL,
	top3_percent     REAL NOT NULL DEFAULT 0,
	avg_score        REAL,
	found_count      INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at       DATETIME NOT NULL,
	completed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_report_id ON runs(report_id);

CREATE TABLE IF NOT EXISTS results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	keyword        TEXT NOT NULL,
	grid_row       INTEGER NOT NULL,
	grid_col       INTEGER NOT NULL,
	lat            REAL NOT NULL,
	lng            REAL NOT NULL,
	location       BLOB,
	rank           INTEGER,
	total_results  INTEGER NOT NULL DEFAULT 0,
	top_competitor TEXT NOT NULL DEFAULT '',
	competitors    TEXT NOT NULL DEFAULT '[]',
	score          INTEGER,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	UNIQUE (run_id, keyword, grid_row, grid_col)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkRowsAffected returns ErrNotFound if no rows were affected.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

func sqliteNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// --- Profiles ---

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, address, place_id, lat, lng, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Address, p.PlaceID, p.Lat, p.Lng, now, now,
	)
	return eris.Wrap(err, "sqlite: insert profile")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, place_id, lat, lng, created_at, updated_at FROM profiles WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &p.Address, &p.PlaceID, &p.Lat, &p.Lng, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get profile %s", id)
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateProfileLocation(ctx context.Context, id string, lat, lng float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET lat = ?, lng = ?, updated_at = ? WHERE id = ?`,
		lat, lng, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update profile location %s", id)
	}
	return checkRowsAffected(res, "profile", id)
}

// --- Reports ---

const sqliteReportColumns = `id, profile_id, name, business_name, center_lat, center_lng, target_place_id,
	radius_km, grid_size, keywords, schedule, status, last_run_at, created_at, updated_at`

func scanSQLiteReport(row scanner) (*model.Report, error) {
	var r model.Report
	var keywordsJSON, scheduleJSON string
	var targetID sql.NullString
	var lastRunAt sql.NullTime
	err := row.Scan(&r.ID, &r.ProfileID, &r.Name, &r.BusinessName, &r.CenterLat, &r.CenterLng,
		&targetID, &r.RadiusKM, &r.GridSize, &keywordsJSON, &scheduleJSON, &r.Status,
		&lastRunAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if targetID.Valid {
		r.TargetPlaceID = &targetID.String
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		r.LastRunAt = &t
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &r.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &r.Schedule); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal schedule")
	}
	return &r, nil
}

func marshalReportJSON(r *model.Report) (keywords, schedule string, err error) {
	kw, err := json.Marshal(r.Keywords)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal keywords")
	}
	sc, err := json.Marshal(r.Schedule)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal schedule")
	}
	return string(kw), string(sc), nil
}

func (s *SQLiteStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReportStatusPending
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	keywords, schedule, err := marshalReportJSON(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (`+sqliteReportColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProfileID, r.Name, r.BusinessName, r.CenterLat, r.CenterLng, r.TargetPlaceID,
		r.RadiusKM, r.GridSize, keywords, schedule, string(r.Status), r.LastRunAt, now, now,
	)
	return eris.Wrap(err, "sqlite: insert report")
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	r, err := scanSQLiteReport(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get report %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, profileID string) ([]model.Report, error) {
	query := `SELECT ` + sqliteReportColumns + ` FROM reports`
	var args []any
	if profileID != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, profileID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	return s.queryReports(ctx, query, args...)
}

func (s *SQLiteStore) ListScheduledReports(ctx context.Context) ([]model.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports
		 WHERE COALESCE(json_extract(schedule, '$.frequency'), '') NOT IN ('', 'manual')
		 ORDER BY created_at, rowid`)
}

func (s *SQLiteStore) queryReports(ctx context.Context, query string, args ...any) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var reports []model.Report
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpdateReport(ctx context.Context, r *model.Report) error {
	keywords, schedule, err := marshalReportJSON(r)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET name = ?, center_lat = ?, center_lng = ?, target_place_id = ?,
		 radius_km = ?, grid_size = ?, keywords = ?, schedule = ?, updated_at = ?
		 WHERE id = ?`,
		r.Name, r.CenterLat, r.CenterLng, r.TargetPlaceID, r.RadiusKM, r.GridSize, keywords,
		schedule, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report %s", r.ID)
	}
	return checkRowsAffected(res, "report", r.ID)
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete report %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: rows affected for report %s", id)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetReportStatus(ctx context.Context, id string, status model.ReportStatus, lastRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, last_run_at = COALESCE(?, last_run_at), updated_at = ? WHERE id = ?`,
		string(status), lastRunAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set report status %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) SetReportTarget(ctx context.Context, id string, placeID *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET target_place_id = ?, updated_at = ? WHERE id = ?`,
		placeID, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set report target %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

// --- Runs ---

const sqliteRunColumns = `id, report_id, attempt, status, points_total, points_completed, avg_rank,
	top3_percent, avg_score, found_count, failed_count, error, started_at, completed_at`

func scanSQLiteRun(row scanner) (*model.Run, error) {
	var r model.Run
	var avgRank, avgScore sql.NullFloat64
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ReportID, &r.Attempt, &r.Status, &r.PointsTotal, &r.PointsCompleted,
		&avgRank, &r.Stats.Top3Percent, &avgScore, &r.Stats.FoundCount, &r.Stats.FailedCount,
		&r.Error, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if avgRank.Valid {
		r.Stats.AvgRank = &avgRank.Float64
	}
	if avgScore.Valid {
		r.Stats.AvgScore = &avgScore.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, reportID string, attempt, pointsTotal int) (*model.Run, error) {
	run := &model.Run{
		ID:          uuid.New().String(),
		ReportID:    reportID,
		Attempt:     attempt,
		Status:      model.RunStatusRunning,
		PointsTotal: pointsTotal,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, report_id, attempt, status, points_total, points_completed, started_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		run.ID, run.ReportID, run.Attempt, string(run.Status), run.PointsTotal, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for report %s", reportID)
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, pointsCompleted int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET points_completed = MAX(points_completed, ?) WHERE id = ?`,
		pointsCompleted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, pointsCompleted int, stats model.RunStats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, points_completed = ?, avg_rank = ?, top3_percent = ?,
		 avg_score = ?, found_count = ?, failed_count = ?, completed_at = ?
		 WHERE id = ?`,
		string(model.RunStatusCompleted), pointsCompleted, stats.AvgRank, stats.Top3Percent,
		stats.AvgScore, stats.FoundCount, stats.FailedCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) GetLatestRun(ctx context.Context, reportID string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE report_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		reportID))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get latest run for report %s", reportID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, reportID string, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE report_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		reportID, runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	return collectSQLiteRuns(rows)
}

func (s *SQLiteStore) ListRunsSince(ctx context.Context, since time.Time, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE started_at >= ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		since.UTC(), runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs since")
	}
	return collectSQLiteRuns(rows)
}

func collectSQLiteRuns(rows *sql.Rows) ([]model.Run, error) {
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Results ---

func (s *SQLiteStore) UpsertResults(ctx context.Context, results []model.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, keyword, grid_row, grid_col, lat, lng, location, rank,
		 total_results, top_competitor, competitors, score, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, keyword, grid_row, grid_col) DO UPDATE SET
		 lat = excluded.lat, lng = excluded.lng, location = excluded.location, rank = excluded.rank,
		 total_results = excluded.total_results, top_competitor = excluded.top_competitor,
		 competitors = excluded.competitors, score = excluded.score, error = excluded.error,
		 created_at = excluded.created_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare result upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, r := range results {
		loc, err := pointEWKB(r.Lat, r.Lng)
		if err != nil {
			return 0, err
		}
		comps, err := marshalCompetitors(r.Competitors)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx,
			r.RunID, r.Keyword, r.Row, r.Col, r.Lat, r.Lng, loc, r.Rank,
			r.TotalResults, r.TopCompetitor, string(comps), r.Score, r.Error, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert result %s/%d/%d", r.Keyword, r.Row, r.Col)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit results")
	}
	return n, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID, keyword string) ([]model.Result, error) {
	query := `SELECT id, run_id, keyword, grid_row, grid_col, lat, lng, rank, total_results,
		top_competitor, competitors, score, error, created_at
		FROM results WHERE run_id = ?`
	args := []any{runID}
	if keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, keyword)
	}
	query += ` ORDER BY keyword, grid_row, grid_col`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var results []model.Result
	for rows.Next() {
		var r model.Result
		var rank, score sql.NullInt64
		var comps string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Keyword, &r.Row, &r.Col, &r.Lat, &r.Lng, &rank,
			&r.TotalResults, &r.TopCompetitor, &comps, &score, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if rank.Valid {
			v := int(rank.Int64)
			r.Rank = &v
		}
		if score.Valid {
			v := int(score.Int64)
			r.Score = &v
		}
		if r.Competitors, err = unmarshalCompetitors([]byte(comps)); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}
