package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reviewbench/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRunConfig() model.RunConfig {
	return model.RunConfig{
		TrialsPerCase:       3,
		Workers:             4,
		Mode:                model.ModeAbsolute,
		SimilarityThreshold: 0.5,
		TieEpsilon:          1.0,
	}
}

func createTestRun(t *testing.T, st *SQLiteStore) *model.Run {
	t.Helper()
	run, err := st.CreateRun(context.Background(), testRunConfig(),
		[]string{"baseline", "pattern"},
		map[string]string{"auth-01": "auth", "db-01": "database"},
	)
	require.NoError(t, err)
	return run
}

func sampleResult(trial int) model.TrialResult {
	return model.TrialResult{
		CaseID:     "auth-01",
		Variant:    "pattern",
		TrialIndex: trial,
		Outcome: model.Outcome{Findings: []model.Finding{
			{Severity: model.SeverityCritical, Confidence: 90, Title: "sql injection", Domains: []string{"database"}},
		}},
		Duration:  1500 * time.Millisecond,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, testRunConfig(), got.Config)
	assert.Equal(t, []string{"baseline", "pattern"}, got.Variants)
	assert.Equal(t, "auth", got.CaseDomains["auth-01"])
	assert.Nil(t, got.Summary)
}

func TestSQLite_GetRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_CompleteRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)

	summary := &model.RunSummary{
		RunID:      run.ID,
		Mode:       model.ModeAbsolute,
		TotalCases: 2,
		WinCounts:  map[string]int{"pattern": 3},
		TieCount:   1,
	}
	require.NoError(t, st.CompleteRun(context.Background(), run.ID, summary))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 3, got.Summary.WinCounts["pattern"])
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)

	require.NoError(t, st.FailRun(context.Background(), run.ID, "corpus vanished"))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "corpus vanished", got.Error)
}

func TestSQLite_CompleteRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteRun(context.Background(), "ghost", &model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_SaveAndListTrialResults(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()

	require.NoError(t, st.SaveTrialResult(ctx, run.ID, sampleResult(1)))
	require.NoError(t, st.SaveTrialResult(ctx, run.ID, sampleResult(0)))

	failed := model.TrialResult{
		CaseID:     "db-01",
		Variant:    "baseline",
		TrialIndex: 0,
		Outcome:    model.Outcome{Failure: &model.Failure{Kind: model.FailureTimeout, Message: "deadline"}},
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.SaveTrialResult(ctx, run.ID, failed))

	results, err := st.ListTrialResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Ordered by case, variant, trial.
	assert.Equal(t, "auth-01", results[0].CaseID)
	assert.Equal(t, 0, results[0].TrialIndex)
	assert.Equal(t, 1, results[1].TrialIndex)
	assert.Equal(t, "sql injection", results[1].Outcome.Findings[0].Title)
	assert.Equal(t, 1500*time.Millisecond, results[1].Duration)

	assert.Equal(t, "db-01", results[2].CaseID)
	require.False(t, results[2].Outcome.Success())
	assert.Equal(t, model.FailureTimeout, results[2].Outcome.Failure.Kind)
}

func TestSQLite_SaveTrialResults_Bulk(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()

	batch := []model.TrialResult{sampleResult(0), sampleResult(1), sampleResult(2)}
	require.NoError(t, st.SaveTrialResults(ctx, run.ID, batch))

	results, err := st.ListTrialResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSQLite_DuplicateTrialRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()

	require.NoError(t, st.SaveTrialResult(ctx, run.ID, sampleResult(0)))
	assert.Error(t, st.SaveTrialResult(ctx, run.ID, sampleResult(0)),
		"trial results are write-once")
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := createTestRun(t, st)
	createTestRun(t, st)
	require.NoError(t, st.FailRun(ctx, first.ID, "boom"))

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, first.ID, failed[0].ID)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_ListRuns_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)

	for i := 0; i < 3; i++ {
		createTestRun(t, st)
	}

	runs, err := st.ListRuns(context.Background(), RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
