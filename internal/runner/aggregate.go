package runner

import (
	"math"

	"github.com/sells-group/rankgrid/internal/model"
)

// Aggregate computes run statistics over every attempted sample. Average rank
// and average score are nil when no sample contributes.
func Aggregate(results []model.Result) model.RunStats {
	var stats model.RunStats
	var rankSum, scoreSum float64
	var ranked, scored, top3 int

	for _, r := range results {
		if r.Rank != nil {
			ranked++
			rankSum += float64(*r.Rank)
			if *r.Rank <= 3 {
				top3++
			}
		}
		if r.Score != nil {
			scored++
			scoreSum += float64(*r.Score)
		} else {
			stats.FailedCount++
		}
	}

	stats.FoundCount = ranked
	if ranked > 0 {
		avg := rankSum / float64(ranked)
		stats.AvgRank = &avg
	}
	if scored > 0 {
		avg := scoreSum / float64(scored)
		stats.AvgScore = &avg
	}
	if len(results) > 0 {
		stats.Top3Percent = round2(float64(top3) / float64(len(results)) * 100)
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
