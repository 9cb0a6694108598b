// Package scorer turns trial outcomes into scalar scores and pairwise
// win/tie/loss decisions.
package scorer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/sells-group/reviewbench/internal/model"
)

// Config holds the tunable scoring parameters. Both knobs come from run
// configuration so a persisted run can be re-scored identically.
type Config struct {
	// SimilarityThreshold is the minimum title similarity for two findings
	// to count as the same risk. Titles are free text; exact equality is
	// deliberately not the matching rule.
	SimilarityThreshold float64

	// TieEpsilon is the score difference below which a pairwise comparison
	// is a tie. Ties are the expected common case.
	TieEpsilon float64
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		TieEpsilon:          1.0,
	}
}

var titleFolder = cases.Fold()

// NormalizeTitle lowercases (Unicode case folding), strips punctuation and
// splits a finding title into a token set.
func NormalizeTitle(title string) map[string]struct{} {
	folded := titleFolder.String(title)
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// TitleSimilarity returns the token-set Jaccard similarity of two finding
// titles in [0,1]. Two empty titles are vacuously identical.
func TitleSimilarity(a, b string) float64 {
	sa, sb := NormalizeTitle(a), NormalizeTitle(b)
	return jaccard(sa, sb)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

// Matches reports whether a produced finding and a reference finding
// describe the same risk under the configured threshold. Domain-tag overlap
// counts as supporting evidence when titles alone are borderline.
func (c Config) Matches(produced, reference model.Finding) bool {
	sim := TitleSimilarity(produced.Title, reference.Title)
	if sim >= c.SimilarityThreshold {
		return true
	}
	// Borderline titles with a shared domain tag still match.
	if sim >= c.SimilarityThreshold/2 && domainsOverlap(produced.Domains, reference.Domains) {
		return true
	}
	return false
}

func domainsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, da := range a {
		for _, db := range b {
			if strings.EqualFold(da, db) {
				return true
			}
		}
	}
	return false
}

// AbsoluteScore scores a trial outcome against the case's expected finding
// set: severity-weighted F1 between produced and expected findings, scaled
// to [0,100]. A Failure outcome scores 0.
func (c Config) AbsoluteScore(outcome model.Outcome, expected []model.Finding) float64 {
	if !outcome.Success() {
		return 0
	}
	if len(expected) == 0 {
		// Negative-test cases: producing nothing is a perfect score,
		// producing anything is pure noise.
		if len(outcome.Findings) == 0 {
			return 100
		}
		return 0
	}
	if len(outcome.Findings) == 0 {
		return 0
	}

	matchedExpected := make([]bool, len(expected))
	var matchedWeight, producedWeight, expectedWeight float64

	for _, e := range expected {
		expectedWeight += e.Severity.Weight()
	}
	for _, p := range outcome.Findings {
		producedWeight += p.Severity.Weight()
		for i, e := range expected {
			if !matchedExpected[i] && c.Matches(p, e) {
				matchedExpected[i] = true
				matchedWeight += e.Severity.Weight()
				break
			}
		}
	}

	if matchedWeight == 0 {
		return 0
	}
	recall := matchedWeight / expectedWeight
	precision := matchedWeight / producedWeight
	if precision > 1 {
		precision = 1
	}
	return 100 * 2 * precision * recall / (precision + recall)
}

// RelativeScores scores two variants' outcomes for the same trial against
// the severity-weighted union of both finding sets. Each side's score is
// the fraction of the union's weight it covers, in [0,100]. The function
// is symmetric: swapping the arguments swaps the returned scores.
func (c Config) RelativeScores(a, b model.Outcome) (float64, float64) {
	switch {
	case !a.Success() && !b.Success():
		return 0, 0
	case !a.Success():
		return 0, c.coverage(b, c.union(a, b))
	case !b.Success():
		return c.coverage(a, c.union(a, b)), 0
	}
	union := c.union(a, b)
	return c.coverage(a, union), c.coverage(b, union)
}

// union merges both outcomes' findings, collapsing entries that match each
// other so a shared risk appears once. When a matched pair disagrees on
// severity the heavier one is canonical, so the union's weight is the same
// whichever side is merged first.
func (c Config) union(a, b model.Outcome) []model.Finding {
	merged := make([]model.Finding, 0, len(a.Findings)+len(b.Findings))
	merged = append(merged, a.Findings...)
	for _, f := range b.Findings {
		dup := false
		for i, existing := range merged {
			if c.Matches(f, existing) {
				if f.Severity.Weight() > existing.Severity.Weight() {
					merged[i] = f
				}
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, f)
		}
	}
	return merged
}

// coverage is the severity-weighted fraction of union findings this
// outcome surfaced, scaled to [0,100].
func (c Config) coverage(o model.Outcome, union []model.Finding) float64 {
	if len(union) == 0 {
		// Both sides produced nothing: full agreement.
		return 100
	}
	var total, covered float64
	for _, u := range union {
		w := u.Severity.Weight()
		total += w
		for _, f := range o.Findings {
			if c.Matches(f, u) {
				covered += w
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * covered / total
}

// ScoredSide is one variant's already-scored result for a trial, fed to
// Compare. Success distinguishes a genuine zero-finding run from a Failure
// that defaulted to score 0.
type ScoredSide struct {
	Name    model.VariantName
	Score   float64
	Success bool
}

// Compare decides a pairwise outcome between two scored variants for one
// trial. Failure loses to Success regardless of scores; two Failures tie.
// Otherwise the higher score wins unless the difference is within epsilon.
// Symmetric: swapping a and b never changes whether the outcome is a tie,
// and flips the winner consistently.
func (c Config) Compare(caseID string, trialIndex int, a, b ScoredSide) model.PairwiseOutcome {
	out := model.PairwiseOutcome{CaseID: caseID, TrialIndex: trialIndex}

	switch {
	case !a.Success && !b.Success:
		return out // tie
	case !a.Success:
		out.Winner = b.Name
		return out
	case !b.Success:
		out.Winner = a.Name
		return out
	}

	diff := a.Score - b.Score
	if diff < 0 {
		diff = -diff
	}
	if diff <= c.TieEpsilon {
		return out
	}
	if a.Score > b.Score {
		out.Winner = a.Name
	} else {
		out.Winner = b.Name
	}
	return out
}
