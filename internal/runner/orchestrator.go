// Package runner executes rank runs: it samples the grid for every keyword,
// detects and scores the target's rank, persists results, and drives the
// report and run state machine.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/grid"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/places"
	"github.com/sells-group/rankgrid/internal/rank"
	"github.com/sells-group/rankgrid/internal/resilience"
	"github.com/sells-group/rankgrid/internal/scorer"
	"github.com/sells-group/rankgrid/internal/store"
)

// ErrReportNotFound is returned when the dispatched report no longer exists.
// It is never retried.
var ErrReportNotFound = eris.New("runner: report not found")

const (
	defaultCheckpointEvery = 10
	defaultSearchRadiusM   = 2000
	cleanupTimeout         = 10 * time.Second
)

// Config tunes a run attempt.
type Config struct {
	// CheckpointEvery is the number of samples between progress writes.
	CheckpointEvery int
	// SearchRadiusM is the location-bias radius of each nearby search.
	SearchRadiusM float64
}

// Orchestrator runs one attempt of a rank run for a report.
type Orchestrator struct {
	store    store.Store
	provider places.Provider
	cfg      Config
	metrics  *Metrics
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run and sample metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the completion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(st store.Store, provider places.Provider, cfg Config, opts ...Option) *Orchestrator {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.SearchRadiusM <= 0 {
		cfg.SearchRadiusM = defaultSearchRadiusM
	}
	o := &Orchestrator{
		store:    st,
		provider: provider,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// target is the business being ranked, read once per attempt.
type target struct {
	placeID string
	rating  *float64
	reviews *int
}

// Execute runs one attempt for the report and returns the finished run. Every
// attempt creates a fresh run. Per-sample provider failures degrade that
// sample only; any other error fails the run and the report and is returned
// for the caller's retry policy.
func (o *Orchestrator) Execute(ctx context.Context, reportID string) (*model.Run, error) {
	log := zap.L().With(zap.String("report_id", reportID), zap.Int("attempt", resilience.Attempt(ctx)))
	started := time.Now()

	report, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, resilience.Permanent(eris.Wrapf(ErrReportNotFound, "runner: load report %s", reportID))
		}
		o.markFailed(ctx, reportID, nil, err)
		return nil, eris.Wrapf(err, "runner: load report %s", reportID)
	}

	run, err := o.execute(ctx, log, report)
	if err != nil {
		o.markFailed(ctx, reportID, run, err)
		o.metrics.run(string(model.RunStatusFailed), time.Since(started))
		return run, err
	}

	o.metrics.run(string(model.RunStatusCompleted), time.Since(started))
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, report *model.Report) (*model.Run, error) {
	tgt := o.resolveTarget(ctx, log, report)

	cells, err := grid.Generate(report.CenterLat, report.CenterLng, report.RadiusKM, report.GridSize)
	if err != nil {
		return nil, resilience.Permanent(eris.Wrapf(err, "runner: build grid for report %s", report.ID))
	}

	total := len(report.Keywords) * len(cells)
	run, err := o.store.CreateRun(ctx, report.ID, resilience.Attempt(ctx), total)
	if err != nil {
		return nil, eris.Wrap(err, "runner: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	if err := o.store.SetReportStatus(ctx, report.ID, model.ReportStatusRunning, nil); err != nil {
		return run, eris.Wrap(err, "runner: mark report running")
	}

	log.Info("run started",
		zap.Int("keywords", len(report.Keywords)),
		zap.Int("grid_size", report.GridSize),
		zap.Int("points_total", total),
		zap.Bool("target_resolved", tgt.placeID != ""),
	)

	results := make([]model.Result, 0, total)
	for _, keyword := range report.Keywords {
		for _, cell := range cells {
			res, err := o.sample(ctx, run.ID, keyword, cell, tgt)
			if err != nil {
				return run, err
			}
			if res.Failed() {
				log.Warn("sample failed",
					zap.String("keyword", keyword),
					zap.Int("row", cell.Row),
					zap.Int("col", cell.Col),
					zap.String("error", res.Error),
				)
			}
			results = append(results, res)

			if done := len(results); done%o.cfg.CheckpointEvery == 0 && done < total {
				if err := o.store.UpdateRunProgress(ctx, run.ID, done); err != nil {
					return run, eris.Wrap(err, "runner: checkpoint progress")
				}
				run.PointsCompleted = done
			}
		}
	}

	if _, err := o.store.UpsertResults(ctx, results); err != nil {
		return run, eris.Wrap(err, "runner: persist results")
	}

	stats := Aggregate(results)
	if err := o.store.CompleteRun(ctx, run.ID, len(results), stats); err != nil {
		return run, eris.Wrap(err, "runner: complete run")
	}
	finished := o.now()
	if err := o.store.SetReportStatus(ctx, report.ID, model.ReportStatusCompleted, &finished); err != nil {
		return run, eris.Wrap(err, "runner: mark report completed")
	}

	run.Status = model.RunStatusCompleted
	run.PointsCompleted = len(results)
	run.Stats = stats
	run.CompletedAt = &finished

	log.Info("run completed",
		zap.Int("found", stats.FoundCount),
		zap.Int("failed", stats.FailedCount),
		zap.Float64("top3_percent", stats.Top3Percent),
	)
	return run, nil
}

// resolveTarget finds the target listing and its rating. Every lookup is best
// effort: failures leave the corresponding fields unset.
func (o *Orchestrator) resolveTarget(ctx context.Context, log *zap.Logger, report *model.Report) target {
	tgt := target{placeID: report.Target()}

	if tgt.placeID == "" && report.BusinessName != "" {
		match, err := o.provider.FindPlace(ctx, report.BusinessName, report.CenterLat, report.CenterLng)
		switch {
		case err != nil:
			o.metrics.providerError(places.OpFindPlace, err)
			log.Warn("target resolution failed", zap.Error(err))
		case match == nil:
			log.Info("target not found; ranks will be unranked", zap.String("business_name", report.BusinessName))
		default:
			tgt.placeID = match.PlaceID
			if err := o.store.SetReportTarget(ctx, report.ID, &tgt.placeID); err != nil {
				log.Warn("persist resolved target failed", zap.Error(err))
			}
		}
	}

	if tgt.placeID != "" {
		details, err := o.provider.PlaceDetails(ctx, tgt.placeID)
		switch {
		case err != nil:
			o.metrics.providerError(places.OpPlaceDetails, err)
			log.Warn("target details failed", zap.String("place_id", tgt.placeID), zap.Error(err))
		case details != nil:
			tgt.rating = details.Rating
			tgt.reviews = details.ReviewCount
		}
	}
	return tgt
}

// sample queries one keyword at one cell. Provider failures become a
// placeholder result; only a cancelled context or an open circuit escalate.
func (o *Orchestrator) sample(ctx context.Context, runID, keyword string, cell grid.Cell, tgt target) (model.Result, error) {
	res := model.Result{
		RunID:   runID,
		Keyword: keyword,
		Row:     cell.Row,
		Col:     cell.Col,
		Lat:     cell.Lat,
		Lng:     cell.Lng,
	}

	found, err := o.provider.NearbySearch(ctx, places.NearbyRequest{
		Keyword: keyword,
		Lat:     cell.Lat,
		Lng:     cell.Lng,
		RadiusM: o.cfg.SearchRadiusM,
	})
	if err != nil {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "runner: sample aborted")
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return res, eris.Wrap(err, "runner: places provider unavailable")
		}
		o.metrics.providerError(places.OpNearbySearch, err)
		o.metrics.sample("failed")
		res.Error = err.Error()
		return res, nil
	}

	det := rank.Detect(found, tgt.placeID)
	score := scorer.Score(scorer.Input{
		Rank:          det.Rank,
		TotalResults:  det.TotalResults,
		Competitors:   det.Competitors,
		TargetRating:  tgt.rating,
		TargetReviews: tgt.reviews,
	}).Total

	res.Rank = det.Rank
	res.TotalResults = det.TotalResults
	res.TopCompetitor = det.TopCompetitor
	res.Competitors = det.Competitors
	res.Score = &score

	if det.Rank != nil {
		o.metrics.sample("found")
	} else {
		o.metrics.sample("not_found")
	}
	return res, nil
}

// markFailed records the failure on the run and the report. Errors here are
// logged and dropped so the original failure still reaches the retry policy.
func (o *Orchestrator) markFailed(ctx context.Context, reportID string, run *model.Run, cause error) {
	log := zap.L().With(zap.String("report_id", reportID))

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if run != nil {
		log = log.With(zap.String("run_id", run.ID))
		if err := o.store.FailRun(cctx, run.ID, cause.Error()); err != nil {
			log.Warn("mark run failed", zap.Error(err))
		} else {
			run.Status = model.RunStatusFailed
			run.Error = cause.Error()
		}
	}
	if err := o.store.SetReportStatus(cctx, reportID, model.ReportStatusFailed, nil); err != nil {
		log.Warn("mark report failed", zap.Error(err))
	}
	log.Error("run failed", zap.Error(cause))
}
