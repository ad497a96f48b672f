// Package rank detects a target business within a provider's ordered search results.
package rank

import (
	"github.com/sells-group/rankgrid/internal/model"
)

// MaxResults is the number of provider positions considered for ranking and
// retained in the competitor snapshot.
const MaxResults = 20

// Place is one provider search result, in provider relevance order.
type Place struct {
	PlaceID        string  `json:"place_id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating,omitempty"`
	ReviewCount    int     `json:"review_count,omitempty"`
	Vicinity       string  `json:"vicinity,omitempty"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	BusinessStatus string  `json:"business_status,omitempty"`
}

// Detection is the outcome of ranking one keyword/point query.
type Detection struct {
	// Rank is the 1-based position of the target, nil when not found.
	Rank *int
	// TotalResults is the raw number of results the provider returned.
	TotalResults int
	// TopCompetitor is the name of the first-ranked result, target or not.
	TopCompetitor string
	// Competitors is the deduplicated snapshot, at most MaxResults entries.
	Competitors []model.Competitor
}

// Detect deduplicates places by ID, keeping the first occurrence, and locates
// targetID within the first MaxResults unique entries. An empty targetID never
// matches.
func Detect(places []Place, targetID string) Detection {
	d := Detection{TotalResults: len(places)}

	unique := Dedupe(places)
	if len(unique) > MaxResults {
		unique = unique[:MaxResults]
	}
	if len(unique) > 0 {
		d.TopCompetitor = unique[0].Name
	}

	d.Competitors = make([]model.Competitor, 0, len(unique))
	for i, p := range unique {
		if targetID != "" && d.Rank == nil && p.PlaceID == targetID {
			pos := i + 1
			d.Rank = &pos
		}
		d.Competitors = append(d.Competitors, model.Competitor{
			PlaceID:        p.PlaceID,
			Name:           p.Name,
			Rating:         p.Rating,
			ReviewCount:    p.ReviewCount,
			Lat:            p.Lat,
			Lng:            p.Lng,
			BusinessStatus: p.BusinessStatus,
		})
	}
	return d
}

// Dedupe drops repeated place IDs, preserving provider order. Places without an
// ID are kept since they cannot be compared.
func Dedupe(places []Place) []Place {
	seen := make(map[string]struct{}, len(places))
	out := make([]Place, 0, len(places))
	for _, p := range places {
		if p.PlaceID != "" {
			if _, ok := seen[p.PlaceID]; ok {
				continue
			}
			seen[p.PlaceID] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}
