// Package dispatch hands rank jobs to an executor: in-process goroutines or a
// Temporal worker fleet. Either way a report has at most one job in flight.
package dispatch

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrAlreadyRunning is returned when the report already has a job in flight.
var ErrAlreadyRunning = eris.New("dispatch: report already has a run in flight")

// ErrClosed is returned by a dispatcher that is shutting down.
var ErrClosed = eris.New("dispatch: dispatcher closed")

// Dispatcher schedules the rank job for a report without waiting for it.
type Dispatcher interface {
	// Dispatch enqueues the job. It returns ErrAlreadyRunning when a job for
	// the report is already in flight.
	Dispatch(ctx context.Context, reportID string) error
	// InFlight reports whether a job for the report is queued or running.
	InFlight(ctx context.Context, reportID string) (bool, error)
}

// JobID is the stable handle of a report's job, returned to callers that
// trigger a run. Temporal uses it as the workflow ID, so one ID per report
// keeps concurrent runs of the same report out.
func JobID(reportID string) string {
	return "rank-report-" + reportID
}
