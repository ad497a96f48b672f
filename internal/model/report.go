// Package model defines the core types shared by the rank tracking engine.
package model

import (
	"time"
)

// ReportStatus represents the lifecycle state of a report.
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusRunning   ReportStatus = "running"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// Profile is the business profile a report belongs to.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	PlaceID   string    `json:"place_id,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLocation reports whether the profile has been geocoded.
func (p *Profile) HasLocation() bool {
	return p.Lat != nil && p.Lng != nil
}

// Schedule holds recurring run settings. The engine itself treats it as opaque.
type Schedule struct {
	Frequency string `json:"frequency,omitempty"` // "", manual, daily, weekly, monthly
	Day       int    `json:"day,omitempty"`       // weekday 0-6 (weekly) or day of month 1-28 (monthly)
	Hour      int    `json:"hour"`
	Timezone  string `json:"timezone,omitempty"`
}

// Report is a rank tracking configuration for one business.
type Report struct {
	ID            string       `json:"id"`
	ProfileID     string       `json:"profile_id"`
	Name          string       `json:"name"`
	BusinessName  string       `json:"business_name"`
	CenterLat     float64      `json:"center_lat"`
	CenterLng     float64      `json:"center_lng"`
	TargetPlaceID *string      `json:"target_place_id,omitempty"`
	RadiusKM      float64      `json:"radius_km"`
	GridSize      int          `json:"grid_size"`
	Keywords      []string     `json:"keywords"`
	Schedule      Schedule     `json:"schedule"`
	Status        ReportStatus `json:"status"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TotalSamples is the number of keyword x grid point combinations a run covers.
func (r *Report) TotalSamples() int {
	return len(r.Keywords) * r.GridSize * r.GridSize
}

// Target returns the resolved target place ID, or "" if unresolved.
func (r *Report) Target() string {
	if r.TargetPlaceID == nil {
		return ""
	}
	return *r.TargetPlaceID
}

// ReportUpdate carries a partial update. Nil fields are left unchanged.
type ReportUpdate struct {
	Name      *string   `json:"name,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	RadiusKM  *float64  `json:"radius_km,omitempty"`
	GridSize  *int      `json:"grid_size,omitempty"`
	CenterLat *float64  `json:"center_lat,omitempty"`
	CenterLng *float64  `json:"center_lng,omitempty"`
	Schedule  *Schedule `json:"schedule,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ReportUpdate) IsEmpty() bool {
	return u.Name == nil && u.Keywords == nil && u.RadiusKM == nil && u.GridSize == nil &&
		u.CenterLat == nil && u.CenterLng == nil && u.Schedule == nil
}

// ReportSummary is the list view of a report with its latest run statistics.
type ReportSummary struct {
	Report
	LatestRun *Run `json:"latest_run,omitempty"`
}
