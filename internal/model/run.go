package model

import "time"

// ComparisonMode selects how trials are scored.
type ComparisonMode string

const (
	// ModeAbsolute scores each variant against the case's expected findings.
	ModeAbsolute ComparisonMode = "absolute"
	// ModeRelative scores two variants against each other's union.
	ModeRelative ComparisonMode = "relative"
)

// Valid reports whether m is a recognized comparison mode.
func (m ComparisonMode) Valid() bool {
	return m == ModeAbsolute || m == ModeRelative
}

// RunStatus tracks the lifecycle of an evaluation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunConfig is the snapshot of scoring-relevant settings persisted with a
// run so that re-aggregation uses identical parameters.
type RunConfig struct {
	TrialsPerCase       int            `json:"trials_per_case"`
	Workers             int            `json:"workers"`
	Mode                ComparisonMode `json:"mode"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	TieEpsilon          float64        `json:"tie_epsilon"`
}

// Run is the stored record of one evaluation run. CaseDomains indexes
// every corpus case id to its domain so a summary can be rebuilt from
// persisted trial results alone.
type Run struct {
	ID          string            `json:"id"`
	Status      RunStatus         `json:"status"`
	Config      RunConfig         `json:"config"`
	Variants    []string          `json:"variants"`
	CaseDomains map[string]string `json:"case_domains"`
	Summary     *RunSummary       `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// VariantSummary aggregates one variant's scores and stability across a
// set of cases.
type VariantSummary struct {
	MeanScore       float64        `json:"mean_score"`
	MeanSimilarity  float64        `json:"mean_similarity"`
	SuccessTrials   int            `json:"success_trials"`
	FailedTrials    int            `json:"failed_trials"`
	EmptyTrials     int            `json:"empty_trials"` // Success with zero findings
	FailuresByKind  map[string]int `json:"failures_by_kind,omitempty"`
}

// DomainSummary rolls up win/tie/loss and per-variant means for one domain.
type DomainSummary struct {
	Cases     int                       `json:"cases"`
	WinCounts map[string]int            `json:"win_counts"`
	TieCount  int                       `json:"tie_count"`
	Variants  map[string]VariantSummary `json:"variants"`
}

// RunSummary is the terminal artifact of a run: the full rollup handed to
// downstream renderers. Maps are keyed by plain strings so JSON encoding
// is byte-stable across recomputations.
type RunSummary struct {
	RunID         string                    `json:"run_id"`
	Mode          ComparisonMode            `json:"mode"`
	TotalCases    int                       `json:"total_cases"`
	TrialsPerCase int                       `json:"trials_per_case"`
	WinCounts     map[string]int            `json:"win_counts"`
	TieCount      int                       `json:"tie_count"`
	Variants      map[string]VariantSummary `json:"variants"`
	PerDomain     map[string]DomainSummary  `json:"per_domain"`
	Consistency   []ConsistencyStats        `json:"consistency"`
}
