package model

import "time"

// FailureKind classifies why a trial produced no findings.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureTransport       FailureKind = "transport"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureInvalidResponse FailureKind = "invalid_response"
	// FailureRunTimeout marks a job that was cancelled or never admitted
	// because the run-level deadline expired.
	FailureRunTimeout FailureKind = "run_timeout"
)

// Failure records a classified trial failure.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// Outcome is the result of one trial: either an ordered finding list or a
// classified failure. A successful trial with zero findings is a Success
// with an empty Findings slice, never a Failure.
type Outcome struct {
	Findings []Finding `json:"findings,omitempty"`
	Failure  *Failure  `json:"failure,omitempty"`
}

// Success reports whether the outcome carries findings rather than a failure.
func (o Outcome) Success() bool {
	return o.Failure == nil
}

// TitleSet returns the set of finding titles for set-similarity comparison.
// Failures yield the empty set.
func (o Outcome) TitleSet() map[string]struct{} {
	set := make(map[string]struct{}, len(o.Findings))
	for _, f := range o.Findings {
		set[f.Title] = struct{}{}
	}
	return set
}

// TrialResult is the write-once record of one (case, variant, trial)
// execution. Trial indices are 0-based and dense per (case, variant).
type TrialResult struct {
	CaseID     string        `json:"case_id"`
	Variant    VariantName   `json:"variant"`
	TrialIndex int           `json:"trial_index"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration_ns"`
	Timestamp  time.Time     `json:"timestamp"`
}

// PairwiseOutcome is the derived result of comparing two variants on the
// same case and trial. Winner is empty for a tie.
type PairwiseOutcome struct {
	CaseID     string      `json:"case_id"`
	TrialIndex int         `json:"trial_index"`
	Winner     VariantName `json:"winner,omitempty"`
}

// Tie reports whether neither variant won.
func (p PairwiseOutcome) Tie() bool {
	return p.Winner == ""
}

// ConsistencyStats quantifies how stable one variant's output is across
// the trials of a single case. CV is nil when undefined (single trial or
// zero mean) — undefined is reported, never defaulted to zero.
type ConsistencyStats struct {
	CaseID                 string      `json:"case_id"`
	Variant                VariantName `json:"variant"`
	MeanScore              float64     `json:"mean_score"`
	StdDev                 float64     `json:"std_dev"`
	CV                     *float64    `json:"coefficient_of_variation"`
	MeanPairwiseSimilarity float64     `json:"mean_pairwise_similarity"`
	Trials                 int         `json:"trials"`
	Failures               int         `json:"failures"`
}
