package harness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reviewbench/internal/corpus"
	"github.com/sells-group/reviewbench/internal/model"
)

const harnessCorpus = `
cases:
  - id: case-b
    domain: api
    sample: "func b() {}"
    variants:
      baseline:
        model: m
      pattern:
        model: m
  - id: case-a
    domain: auth
    sample: "func a() {}"
    variants:
      baseline:
        model: m
      pattern:
        model: m
`

func loadCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	c, err := corpus.Parse([]byte(harnessCorpus))
	require.NoError(t, err)
	return c
}

func successAnalyze(context.Context, string, model.VariantConfig) model.Outcome {
	return model.Outcome{Findings: []model.Finding{
		{Severity: model.SeverityLow, Confidence: 50, Title: "note"},
	}}
}

// resultSink collects results under a mutex purely for test inspection;
// the harness itself guarantees single-goroutine delivery.
type resultSink struct {
	mu      sync.Mutex
	results []model.TrialResult
}

func (s *resultSink) collect(r model.TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func TestBuildJobs_DeterministicOrder(t *testing.T) {
	c := loadCorpus(t)

	jobs := BuildJobs(c, 2)
	require.Len(t, jobs, 8) // 2 cases x 2 variants x 2 trials

	// Cases sorted by id, variants sorted by name, trials ascending.
	assert.Equal(t, "case-a", jobs[0].Case.ID)
	assert.Equal(t, model.VariantName("baseline"), jobs[0].Variant)
	assert.Equal(t, 0, jobs[0].Trial)
	assert.Equal(t, 1, jobs[1].Trial)
	assert.Equal(t, model.VariantName("pattern"), jobs[2].Variant)
	assert.Equal(t, "case-b", jobs[4].Case.ID)

	again := BuildJobs(c, 2)
	assert.Equal(t, jobs, again)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{Workers: 0, TrialsPerCase: 1}.Validate())
	assert.Error(t, Config{Workers: 1, TrialsPerCase: 0}.Validate())
	assert.NoError(t, Config{Workers: 1, TrialsPerCase: 1}.Validate())
}

func TestRun_OneResultPerJob(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 3)
	sink := &resultSink{}

	err := Run(context.Background(), Config{Workers: 4, TrialsPerCase: 3}, jobs, successAnalyze, sink.collect)
	require.NoError(t, err)
	require.Len(t, sink.results, len(jobs))

	seen := map[string]int{}
	for _, r := range sink.results {
		require.True(t, r.Outcome.Success())
		seen[r.CaseID+"/"+string(r.Variant)]++
	}
	for key, n := range seen {
		assert.Equal(t, 3, n, "trial count for %s", key)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 5)
	sink := &resultSink{}

	var running, peak atomic.Int64
	analyze := func(context.Context, string, model.VariantConfig) model.Outcome {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return model.Outcome{}
	}

	err := Run(context.Background(), Config{Workers: 3, TrialsPerCase: 5}, jobs, analyze, sink.collect)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(3), "more than Workers jobs were in flight")
	assert.Greater(t, peak.Load(), int64(1), "pool never ran jobs concurrently")
}

func TestRun_SingleWorkerIsSequential(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 2)
	sink := &resultSink{}

	var running, peak atomic.Int64
	analyze := func(context.Context, string, model.VariantConfig) model.Outcome {
		n := running.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return model.Outcome{}
	}

	err := Run(context.Background(), Config{Workers: 1, TrialsPerCase: 2}, jobs, analyze, sink.collect)
	require.NoError(t, err)
	require.Len(t, sink.results, len(jobs))
	assert.Equal(t, int64(1), peak.Load())
}

func TestRun_DeadlineStopsAdmission(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 1) // 4 jobs
	sink := &resultSink{}

	analyze := func(context.Context, string, model.VariantConfig) model.Outcome {
		time.Sleep(100 * time.Millisecond)
		return model.Outcome{}
	}

	cfg := Config{Workers: 1, TrialsPerCase: 1, RunTimeout: 50 * time.Millisecond, Grace: time.Second}
	err := Run(context.Background(), cfg, jobs, analyze, sink.collect)
	require.NoError(t, err)
	require.Len(t, sink.results, len(jobs), "undispatched jobs must still produce results")

	var completed, timedOut int
	for _, r := range sink.results {
		if r.Outcome.Success() {
			completed++
		} else {
			assert.Equal(t, model.FailureRunTimeout, r.Outcome.Failure.Kind)
			timedOut++
		}
	}
	assert.Greater(t, completed, 0)
	assert.Greater(t, timedOut, 0)
}

func TestRun_GraceCutsInFlightJobs(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 1)[:1]
	sink := &resultSink{}

	analyze := func(ctx context.Context, _ string, _ model.VariantConfig) model.Outcome {
		<-ctx.Done()
		return model.Outcome{Failure: &model.Failure{Kind: model.FailureTransport, Message: "cut"}}
	}

	cfg := Config{Workers: 1, TrialsPerCase: 1, RunTimeout: 10 * time.Millisecond, Grace: 10 * time.Millisecond}
	err := Run(context.Background(), cfg, jobs, analyze, sink.collect)
	require.NoError(t, err)
	require.Len(t, sink.results, 1)
	require.False(t, sink.results[0].Outcome.Success())
	assert.Equal(t, model.FailureRunTimeout, sink.results[0].Outcome.Failure.Kind,
		"failures after the run deadline are re-marked run_timeout")
}

func TestRun_CollectErrorAborts(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 1)

	collect := func(model.TrialResult) error {
		return assert.AnError
	}

	err := Run(context.Background(), Config{Workers: 2, TrialsPerCase: 1}, jobs, successAnalyze, collect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect")
}

func TestRun_InvalidConfigRejected(t *testing.T) {
	c := loadCorpus(t)
	jobs := BuildJobs(c, 1)
	sink := &resultSink{}

	err := Run(context.Background(), Config{Workers: 0, TrialsPerCase: 1}, jobs, successAnalyze, sink.collect)
	require.Error(t, err)
	assert.Empty(t, sink.results, "no job may be dispatched under an invalid config")
}
