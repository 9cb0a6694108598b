// Package store persists runs and their trial results. Every completed
// trial is written as a durable record sufficient to rebuild the run
// summary offline, without replaying any analyzer call.
package store

import (
	"context"

	"github.com/sells-group/reviewbench/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for evaluation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, cfg model.RunConfig, variants []string, caseDomains map[string]string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause string) error
	UpdateRunSummary(ctx context.Context, runID string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Trial results
	SaveTrialResult(ctx context.Context, runID string, result model.TrialResult) error
	SaveTrialResults(ctx context.Context, runID string, results []model.TrialResult) error
	ListTrialResults(ctx context.Context, runID string) ([]model.TrialResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
