// Package report is the application service behind the report API: it
// validates requests, resolves report centers, and hands runs to a dispatcher.
package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/dispatch"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/places"
	"github.com/sells-group/rankgrid/internal/schedule"
	"github.com/sells-group/rankgrid/internal/store"
)

// Defaults applied to create requests that leave fields zero.
const (
	DefaultGridSize = 5
	DefaultRadiusKM = 3.0
)

// Geocoder resolves an address to coordinates. A nil result means no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*places.GeocodeResult, error)
}

// Service implements the report operations.
type Service struct {
	store    store.Store
	geocoder Geocoder
	disp     dispatch.Dispatcher
}

// NewService creates a Service. geocoder and disp may be nil for read-only
// use; operations that need them return ErrNoGeocoder or ErrNoDispatcher.
func NewService(st store.Store, geocoder Geocoder, disp dispatch.Dispatcher) *Service {
	return &Service{store: st, geocoder: geocoder, disp: disp}
}

// ProfileInput creates a business profile.
type ProfileInput struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	PlaceID string   `json:"place_id,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// CreateInput creates a report.
type CreateInput struct {
	ProfileID    string         `json:"profile_id"`
	Name         string         `json:"name"`
	BusinessName string         `json:"business_name,omitempty"`
	Keywords     []string       `json:"keywords"`
	RadiusKM     float64        `json:"radius_km"`
	GridSize     int            `json:"grid_size"`
	Schedule     model.Schedule `json:"schedule"`
}

// Detail is a report with its latest run and that run's results.
type Detail struct {
	Report    *model.Report  `json:"report"`
	LatestRun *model.Run     `json:"latest_run,omitempty"`
	Results   []model.Result `json:"results"`
}

// CreateProfile stores a business profile. Coordinates are optional; they
// are geocoded from the address when the first report needs them.
func (s *Service) CreateProfile(ctx context.Context, in ProfileInput) (*model.Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" {
		return nil, invalid("name", "is required")
	}
	if (in.Lat == nil) != (in.Lng == nil) {
		return nil, invalid("lat", "lat and lng must be set together")
	}
	if in.Lat != nil {
		if err := validateCenter(*in.Lat, *in.Lng); err != nil {
			return nil, err
		}
	}

	p := &model.Profile{Name: in.Name, Address: in.Address, PlaceID: strings.TrimSpace(in.PlaceID), Lat: in.Lat, Lng: in.Lng}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return nil, eris.Wrap(err, "report: create profile")
	}
	return p, nil
}

// GetProfile returns a profile.
func (s *Service) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, notFound(err, "profile", id)
	}
	return p, nil
}

// CreateReport validates the request, resolves the center from the profile,
// stores the report as pending, and dispatches its first run. A dispatch
// failure is logged and leaves the report pending.
func (s *Service) CreateReport(ctx context.Context, in CreateInput) (*model.Report, error) {
	in.Keywords = NormalizeKeywords(in.Keywords)
	if in.GridSize == 0 {
		in.GridSize = DefaultGridSize
	}
	if in.RadiusKM == 0 {
		in.RadiusKM = DefaultRadiusKM
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	if s.disp == nil {
		return nil, eris.Wrap(ErrNoDispatcher, "report: create report")
	}

	profile, err := s.store.GetProfile(ctx, in.ProfileID)
	if err != nil {
		return nil, notFound(err, "profile", in.ProfileID)
	}
	if err := s.ensureLocation(ctx, profile); err != nil {
		return nil, err
	}

	r := &model.Report{
		ProfileID:    profile.ID,
		Name:         in.Name,
		BusinessName: in.BusinessName,
		CenterLat:    *profile.Lat,
		CenterLng:    *profile.Lng,
		RadiusKM:     in.RadiusKM,
		GridSize:     in.GridSize,
		Keywords:     in.Keywords,
		Schedule:     in.Schedule,
		Status:       model.ReportStatusPending,
	}
	if r.BusinessName == "" {
		r.BusinessName = profile.Name
	}
	if profile.PlaceID != "" {
		target := profile.PlaceID
		r.TargetPlaceID = &target
	}
	if err := s.store.CreateReport(ctx, r); err != nil {
		return nil, eris.Wrap(err, "report: create report")
	}

	log := zap.L().With(zap.String("report_id", r.ID), zap.String("profile_id", r.ProfileID))
	if err := s.disp.Dispatch(ctx, r.ID); err != nil {
		log.Warn("report: initial dispatch failed; report stays pending", zap.Error(err))
	} else {
		log.Info("report: created and dispatched", zap.Int("samples", r.TotalSamples()))
	}
	return r, nil
}

// ensureLocation geocodes the profile address when the profile has no
// coordinates, and stores the result on the profile.
func (s *Service) ensureLocation(ctx context.Context, p *model.Profile) error {
	if p.HasLocation() {
		return nil
	}
	if strings.TrimSpace(p.Address) == "" {
		return invalid("profile_id", "profile %s has no coordinates and no address to geocode", p.ID)
	}

	if s.geocoder == nil {
		return eris.Wrapf(ErrNoGeocoder, "report: geocode profile %s", p.ID)
	}
	res, err := s.geocoder.Geocode(ctx, p.Address)
	if err != nil {
		return eris.Wrapf(err, "report: geocode profile %s", p.ID)
	}
	if res == nil {
		return invalid("profile_id", "address %q of profile %s could not be geocoded", p.Address, p.ID)
	}
	if err := s.store.UpdateProfileLocation(ctx, p.ID, res.Lat, res.Lng); err != nil {
		return eris.Wrapf(err, "report: store location of profile %s", p.ID)
	}
	p.Lat, p.Lng = &res.Lat, &res.Lng

	zap.L().Info("report: profile geocoded",
		zap.String("profile_id", p.ID),
		zap.String("formatted_address", res.FormattedAddress),
	)
	return nil
}

// ListReports returns report summaries with their latest run. An empty
// profileID lists every report.
func (s *Service) ListReports(ctx context.Context, profileID string) ([]model.ReportSummary, error) {
	if profileID != "" {
		if _, err := s.store.GetProfile(ctx, profileID); err != nil {
			return nil, notFound(err, "profile", profileID)
		}
	}
	reports, err := s.store.ListReports(ctx, profileID)
	if err != nil {
		return nil, eris.Wrap(err, "report: list reports")
	}

	out := make([]model.ReportSummary, 0, len(reports))
	for _, r := range reports {
		run, err := s.latestRun(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ReportSummary{Report: r, LatestRun: run})
	}
	return out, nil
}

// GetReport returns a report with its latest run and that run's results.
func (s *Service) GetReport(ctx context.Context, id string) (*Detail, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	d := &Detail{Report: r, Results: []model.Result{}}

	run, err := s.latestRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return d, nil
	}
	d.LatestRun = run

	results, err := s.store.ListResults(ctx, run.ID, "")
	if err != nil {
		return nil, eris.Wrapf(err, "report: list results of run %s", run.ID)
	}
	if results != nil {
		d.Results = results
	}
	return d, nil
}

// UpdateReport applies a partial update. Moving the center clears the
// resolved target so the next run resolves it again.
func (s *Service) UpdateReport(ctx context.Context, id string, u model.ReportUpdate) (*model.Report, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	if u.IsEmpty() {
		return r, nil
	}

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		r.Name = name
	}
	if u.Keywords != nil {
		kw := NormalizeKeywords(u.Keywords)
		if len(kw) == 0 {
			return nil, invalid("keywords", "at least one keyword is required")
		}
		r.Keywords = kw
	}
	if u.RadiusKM != nil {
		if *u.RadiusKM <= 0 {
			return nil, invalid("radius_km", "must be positive")
		}
		r.RadiusKM = *u.RadiusKM
	}
	if u.GridSize != nil {
		if *u.GridSize < 2 {
			return nil, invalid("grid_size", "must be at least 2")
		}
		r.GridSize = *u.GridSize
	}
	if u.Schedule != nil {
		if err := schedule.Validate(*u.Schedule); err != nil {
			return nil, invalid("schedule", "%s", err.Error())
		}
		r.Schedule = *u.Schedule
	}

	lat, lng := r.CenterLat, r.CenterLng
	if u.CenterLat != nil {
		lat = *u.CenterLat
	}
	if u.CenterLng != nil {
		lng = *u.CenterLng
	}
	if lat != r.CenterLat || lng != r.CenterLng {
		if err := validateCenter(lat, lng); err != nil {
			return nil, err
		}
		r.CenterLat, r.CenterLng = lat, lng
		r.TargetPlaceID = nil
	}

	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, notFound(err, "report", id)
	}
	return r, nil
}

// DeleteReport deletes a report with its runs and results. It reports whether
// a report was deleted.
func (s *Service) DeleteReport(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.DeleteReport(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "report: delete report %s", id)
	}
	return ok, nil
}

// TriggerRun marks the report running and dispatches a job. The returned run
// is a placeholder; the job creates the stored run when it starts. A report
// whose job is in flight yields ErrConflict. A running status with no job in
// flight is left over from a crashed process and is dispatched again.
func (s *Service) TriggerRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	if s.disp == nil {
		return nil, eris.Wrapf(ErrNoDispatcher, "report: trigger %s", id)
	}
	log := zap.L().With(zap.String("report_id", id))

	busy, err := s.disp.InFlight(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "report: check job of report %s", id)
	}
	if busy {
		return nil, eris.Wrapf(ErrConflict, "report: trigger %s", id)
	}
	if r.Status == model.ReportStatusRunning {
		log.Warn("report: running status without a job in flight; dispatching again")
	}

	if err := s.store.SetReportStatus(ctx, id, model.ReportStatusRunning, nil); err != nil {
		return nil, notFound(err, "report", id)
	}
	if err := s.disp.Dispatch(ctx, id); err != nil {
		if errors.Is(err, dispatch.ErrAlreadyRunning) {
			return nil, eris.Wrapf(ErrConflict, "report: trigger %s", id)
		}
		if rerr := s.store.SetReportStatus(context.WithoutCancel(ctx), id, r.Status, nil); rerr != nil {
			log.Warn("report: restore status after dispatch failure", zap.Error(rerr))
		}
		return nil, eris.Wrapf(err, "report: dispatch %s", id)
	}

	log.Info("report: run triggered")
	return &model.Run{
		ReportID:    id,
		Status:      model.RunStatusRunning,
		PointsTotal: r.TotalSamples(),
		StartedAt:   time.Now().UTC(),
	}, nil
}

// GetRun returns a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, notFound(err, "run", runID)
	}
	return run, nil
}

// GetRunResults returns a run's results, optionally for one keyword.
func (s *Service) GetRunResults(ctx context.Context, runID, keyword string) ([]model.Result, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, notFound(err, "run", runID)
	}
	results, err := s.store.ListResults(ctx, runID, normalizeKeyword(keyword))
	if err != nil {
		return nil, eris.Wrapf(err, "report: list results of run %s", runID)
	}
	if results == nil {
		results = []model.Result{}
	}
	return results, nil
}

// ListRuns returns a report's run history, newest first.
func (s *Service) ListRuns(ctx context.Context, reportID string, limit int) ([]model.Run, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, notFound(err, "report", reportID)
	}
	runs, err := s.store.ListRuns(ctx, reportID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "report: list runs of report %s", reportID)
	}
	if runs == nil {
		runs = []model.Run{}
	}
	return runs, nil
}

func (s *Service) latestRun(ctx context.Context, reportID string) (*model.Run, error) {
	run, err := s.store.GetLatestRun(ctx, reportID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "report: latest run of report %s", reportID)
	}
	return run, nil
}

func validateCreate(in *CreateInput) error {
	in.ProfileID = strings.TrimSpace(in.ProfileID)
	in.Name = strings.TrimSpace(in.Name)
	in.BusinessName = strings.TrimSpace(in.BusinessName)

	switch {
	case in.ProfileID == "":
		return invalid("profile_id", "is required")
	case in.Name == "":
		return invalid("name", "is required")
	case len(in.Keywords) == 0:
		return invalid("keywords", "at least one keyword is required")
	case in.GridSize < 2:
		return invalid("grid_size", "must be at least 2")
	case in.RadiusKM <= 0:
		return invalid("radius_km", "must be positive")
	}
	if err := schedule.Validate(in.Schedule); err != nil {
		return invalid("schedule", "%s", err.Error())
	}
	return nil
}

func validateCenter(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return invalid("center_lat", "must be within [-90, 90]")
	}
	if lng < -180 || lng > 180 {
		return invalid("center_lng", "must be within [-180, 180]")
	}
	return nil
}

// notFound maps store.ErrNotFound to ErrNotFound and wraps anything else.
func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, "report: %s %s", kind, id)
	}
	return eris.Wrapf(err, "report: load %s %s", kind, id)
}
