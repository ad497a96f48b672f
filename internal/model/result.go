package model

import (
	"time"
)

// Competitor is one entry of a result's competitor snapshot.
type Competitor struct {
	PlaceID        string  `json:"place_id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating,omitempty"`
	ReviewCount    int     `json:"review_count,omitempty"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	BusinessStatus string  `json:"business_status,omitempty"`
}

// Result is the outcome for one keyword x grid point sample within a run.
type Result struct {
	ID            int64        `json:"id,omitempty"`
	RunID         string       `json:"run_id"`
	Keyword       string       `json:"keyword"`
	Row           int          `json:"row"`
	Col           int          `json:"col"`
	Lat           float64      `json:"lat"`
	Lng           float64      `json:"lng"`
	Rank          *int         `json:"rank"`
	TotalResults  int          `json:"total_results"`
	TopCompetitor string       `json:"top_competitor,omitempty"`
	Competitors   []Competitor `json:"competitors,omitempty"`
	Score         *int         `json:"score"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Failed reports whether the sample's provider query failed.
func (r *Result) Failed() bool {
	return r.Score == nil
}
