// Package stats computes dispersion and agreement metrics over the trials
// of one (case, variant) group.
//
// Two views are deliberately kept side by side: numeric dispersion of the
// per-trial scores and set-level agreement of the finding sets. Two trials
// can score identically while flagging entirely different risks; the CV
// alone would hide that.
package stats

import (
	"math"
	"sort"

	"github.com/sells-group/reviewbench/internal/model"
)

// ScoredTrial pairs a trial result with its scorer output.
type ScoredTrial struct {
	Result model.TrialResult
	Score  float64
}

// Consistency computes the stability metrics for one (case, variant)
// group. Trials are re-sorted by trial index first; arrival order is never
// trusted. Failures contribute score 0 and an empty finding set.
//
// The coefficient of variation is nil (undefined, not zero) when the group
// has fewer than two trials or a zero mean. Mean pairwise similarity is
// vacuously 1.0 for a single trial.
func Consistency(caseID string, variant model.VariantName, trials []ScoredTrial) model.ConsistencyStats {
	sorted := make([]ScoredTrial, len(trials))
	copy(sorted, trials)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Result.TrialIndex < sorted[j].Result.TrialIndex
	})

	stats := model.ConsistencyStats{
		CaseID:  caseID,
		Variant: variant,
		Trials:  len(sorted),
	}

	scores := make([]float64, len(sorted))
	for i, t := range sorted {
		scores[i] = t.Score
		if !t.Result.Outcome.Success() {
			stats.Failures++
		}
	}

	stats.MeanScore = mean(scores)
	stats.StdDev = stdDev(scores, stats.MeanScore)
	if len(sorted) >= 2 && stats.MeanScore > 0 {
		cv := stats.StdDev / stats.MeanScore
		stats.CV = &cv
	}
	stats.MeanPairwiseSimilarity = meanPairwiseSimilarity(sorted)

	return stats
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// meanPairwiseSimilarity averages the Jaccard similarity of finding-title
// sets over every unordered pair of trials. One trial is vacuously
// consistent with itself.
func meanPairwiseSimilarity(trials []ScoredTrial) float64 {
	if len(trials) <= 1 {
		return 1.0
	}

	sets := make([]map[string]struct{}, len(trials))
	for i, t := range trials {
		sets[i] = t.Result.Outcome.TitleSet()
	}

	var sum float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += JaccardSets(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// JaccardSets returns |a∩b| / |a∪b|, with two empty sets defined as 1.0
// (both trials agree that there is nothing to report).
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
