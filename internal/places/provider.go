// Package places adapts the places and geocoding APIs to the calls the rank
// engine makes: geocode, find place, nearby search, and place details.
package places

import (
	"context"

	"github.com/sells-group/rankgrid/internal/rank"
)

// GeocodeResult is a resolved address.
type GeocodeResult struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address"`
	PlaceID          string  `json:"place_id,omitempty"`
}

// PlaceMatch is the best listing for a business name near a point.
type PlaceMatch struct {
	PlaceID string  `json:"place_id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// PlaceDetails holds the listing attributes used for scoring. Rating and
// ReviewCount are nil when the listing has none.
type PlaceDetails struct {
	PlaceID        string   `json:"place_id"`
	Name           string   `json:"name"`
	Rating         *float64 `json:"rating,omitempty"`
	ReviewCount    *int     `json:"review_count,omitempty"`
	BusinessStatus string   `json:"business_status,omitempty"`
}

// NearbyRequest is one keyword query biased to a circle around a point.
type NearbyRequest struct {
	Keyword string
	Lat     float64
	Lng     float64
	RadiusM float64
}

// Provider is the places-search collaborator of the rank engine. Geocode,
// FindPlace, and PlaceDetails return nil with no error when nothing matches.
type Provider interface {
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
	FindPlace(ctx context.Context, name string, lat, lng float64) (*PlaceMatch, error)
	NearbySearch(ctx context.Context, req NearbyRequest) ([]rank.Place, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
}
