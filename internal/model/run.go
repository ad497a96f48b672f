package model

import (
	"time"
)

// RunStatus represents the current state of a rank run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of the ranking engine for a report.
type Run struct {
	ID              string     `json:"id"`
	ReportID        string     `json:"report_id"`
	Attempt         int        `json:"attempt"`
	Status          RunStatus  `json:"status"`
	PointsTotal     int        `json:"points_total"`
	PointsCompleted int        `json:"points_completed"`
	Stats           RunStats   `json:"stats"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// RunStats holds the aggregate statistics of a finished run.
type RunStats struct {
	AvgRank     *float64 `json:"avg_rank"`
	Top3Percent float64  `json:"top3_percent"`
	AvgScore    *float64 `json:"avg_score"`
	FoundCount  int      `json:"found_count"`
	FailedCount int      `json:"failed_count"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
