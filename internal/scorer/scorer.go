// Package scorer computes the composite 0-100 visibility score for one grid sample.
package scorer

import (
	"math"

	"github.com/sells-group/rankgrid/internal/model"
)

// Component bounds.
const (
	MaxVisibility  = 50
	MaxOpportunity = 30
	MaxAdvantage   = 20
	MaxScore       = 100

	// neutralAdvantage is used when the target or its competitors lack ratings.
	neutralAdvantage = 10

	// visibilityFloor is the visibility awarded at the last tracked rank.
	visibilityFloor = 3
	lastRank        = 20
)

// Input holds everything needed to score one sample.
type Input struct {
	Rank          *int
	TotalResults  int
	Competitors   []model.Competitor
	TargetRating  *float64
	TargetReviews *int
}

// Breakdown is the score split into its bounded components.
type Breakdown struct {
	Visibility  int `json:"visibility"`
	Opportunity int `json:"opportunity"`
	Advantage   int `json:"advantage"`
	Total       int `json:"total"`
}

// Score computes the composite score for in.
func Score(in Input) Breakdown {
	b := Breakdown{
		Visibility:  Visibility(in.Rank),
		Opportunity: Opportunity(in.TotalResults),
		Advantage:   Advantage(in.Competitors, in.TargetRating, in.TargetReviews),
	}
	b.Total = clamp(b.Visibility+b.Opportunity+b.Advantage, 0, MaxScore)
	return b
}

// Visibility interpolates linearly from 50 at rank 1 to 3 at rank 20. Missing
// ranks and ranks past 20 score zero.
func Visibility(rank *int) int {
	if rank == nil || *rank < 1 || *rank > lastRank {
		return 0
	}
	slope := float64(MaxVisibility-visibilityFloor) / float64(lastRank-1)
	return int(math.Round(MaxVisibility - float64(*rank-1)*slope))
}

// Opportunity rewards sparse result pages.
func Opportunity(totalResults int) int {
	switch {
	case totalResults <= 0:
		return 30
	case totalResults <= 5:
		return 25
	case totalResults <= 10:
		return 15
	default:
		return 5
	}
}

// Advantage compares the target's rating and review count with the mean of
// the rated competitors.
func Advantage(competitors []model.Competitor, targetRating *float64, targetReviews *int) int {
	if targetRating == nil {
		return neutralAdvantage
	}

	var (
		rated      int
		sumRating  float64
		sumReviews float64
	)
	for _, c := range competitors {
		if c.Rating <= 0 {
			continue
		}
		rated++
		sumRating += c.Rating
		sumReviews += float64(c.ReviewCount)
	}
	if rated == 0 {
		return neutralAdvantage
	}

	meanRating := sumRating / float64(rated)
	meanReviews := sumReviews / float64(rated)

	ratingDiff := (*targetRating - meanRating) / 5

	var reviewDiff float64
	if meanReviews > 0 {
		reviews := 0
		if targetReviews != nil {
			reviews = *targetReviews
		}
		reviewDiff = clampFloat((float64(reviews)-meanReviews)/meanReviews, -1, 1)
	}

	adv := int(math.Round(neutralAdvantage + ratingDiff*7 + reviewDiff*3))
	return clamp(adv, 0, MaxAdvantage)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
