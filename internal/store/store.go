// Package store persists profiles, reports, runs, and per-sample results.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/rankgrid/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 50

// Store defines the persistence interface for the rank tracking engine.
type Store interface {
	// Profiles
	CreateProfile(ctx context.Context, p *model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpdateProfileLocation(ctx context.Context, id string, lat, lng float64) error

	// Reports
	CreateReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context, profileID string) ([]model.Report, error)
	ListScheduledReports(ctx context.Context) ([]model.Report, error)
	UpdateReport(ctx context.Context, r *model.Report) error
	DeleteReport(ctx context.Context, id string) (bool, error)
	SetReportStatus(ctx context.Context, id string, status model.ReportStatus, lastRunAt *time.Time) error
	SetReportTarget(ctx context.Context, id string, placeID *string) error

	// Runs
	CreateRun(ctx context.Context, reportID string, attempt, pointsTotal int) (*model.Run, error)
	UpdateRunProgress(ctx context.Context, runID string, pointsCompleted int) error
	CompleteRun(ctx context.Context, runID string, pointsCompleted int, stats model.RunStats) error
	FailRun(ctx context.Context, runID string, message string) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetLatestRun(ctx context.Context, reportID string) (*model.Run, error)
	ListRuns(ctx context.Context, reportID string, limit int) ([]model.Run, error)
	ListRunsSince(ctx context.Context, since time.Time, limit int) ([]model.Run, error)

	// Results
	UpsertResults(ctx context.Context, results []model.Result) (int64, error)
	ListResults(ctx context.Context, runID, keyword string) ([]model.Result, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// resultKeyColumns form the unique key of a result row.
var resultKeyColumns = []string{"run_id", "keyword", "grid_row", "grid_col"}

// pointEWKB encodes a WGS84 point as little-endian EWKB.
func pointEWKB(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
	b, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return b, nil
}

func marshalCompetitors(c []model.Competitor) ([]byte, error) {
	if c == nil {
		c = []model.Competitor{}
	}
	b, err := json.Marshal(c)
	return b, eris.Wrap(err, "store: marshal competitors")
}

func unmarshalCompetitors(b []byte) ([]model.Competitor, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var c []model.Competitor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal competitors")
	}
	if len(c) == 0 {
		return nil, nil
	}
	return c, nil
}

func runLimit(limit int) int {
	if limit <= 0 {
		return DefaultRunLimit
	}
	return limit
}
