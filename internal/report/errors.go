package report

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when a profile, report, or run does not exist.
	ErrNotFound = eris.New("report: not found")
	// ErrConflict is returned when a run is requested while one is in flight.
	ErrConflict = eris.New("report: run already in progress")
	// ErrNoGeocoder is returned when a profile needs geocoding and the
	// service was built without a geocoder.
	ErrNoGeocoder = eris.New("report: no geocoder configured")
	// ErrNoDispatcher is returned when a run is requested from a service
	// built without a dispatcher.
	ErrNoDispatcher = eris.New("report: no dispatcher configured")
)

// ValidationError is a caller mistake in a request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(msg, args...)}
}
