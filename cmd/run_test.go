//go:build !integration

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reviewbench/internal/config"
	"github.com/sells-group/reviewbench/internal/corpus"
	"github.com/sells-group/reviewbench/internal/model"
)

func withTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Eval: config.EvalConfig{
			TrialsPerCase:       3,
			Workers:             4,
			Mode:                "absolute",
			SimilarityThreshold: 0.5,
			TieEpsilon:          1.0,
		},
	}
	t.Cleanup(func() { cfg = prev })
}

func resetRunFlags(t *testing.T) {
	t.Helper()
	prevTrials, prevWorkers, prevMode := runTrials, runWorkers, runMode
	t.Cleanup(func() {
		runTrials, runWorkers, runMode = prevTrials, prevWorkers, prevMode
	})
	runTrials, runWorkers, runMode = 0, 0, ""
}

func TestResolveRunConfig_Defaults(t *testing.T) {
	withTestConfig(t)
	resetRunFlags(t)

	rc, err := resolveRunConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, rc.TrialsPerCase)
	assert.Equal(t, 4, rc.Workers)
	assert.Equal(t, model.ModeAbsolute, rc.Mode)
	assert.Equal(t, 0.5, rc.SimilarityThreshold)
	assert.Equal(t, 1.0, rc.TieEpsilon)
}

func TestResolveRunConfig_FlagsOverride(t *testing.T) {
	withTestConfig(t)
	resetRunFlags(t)
	runTrials = 5
	runWorkers = 1
	runMode = "relative"

	rc, err := resolveRunConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, rc.TrialsPerCase)
	assert.Equal(t, 1, rc.Workers)
	assert.Equal(t, model.ModeRelative, rc.Mode)
}

func TestResolveRunConfig_BadMode(t *testing.T) {
	withTestConfig(t)
	resetRunFlags(t)
	runMode = "sideways"

	_, err := resolveRunConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown comparison mode")
}

func TestExecuteRun_CancelledContextAborts(t *testing.T) {
	withTestConfig(t)
	cfg.Anthropic = config.AnthropicConfig{
		Key:               "test-key",
		DefaultModel:      "claude-sonnet-4-5-20250929",
		RequestsPerSecond: 10,
		Burst:             1,
		CallTimeoutSecs:   5,
	}

	st := newServeTestStore(t)
	c, err := corpus.Parse([]byte(`
cases:
  - id: auth-01
    domain: auth
    sample: "func login() {}"
    variants:
      pattern:
        model: claude-sonnet-4-5-20250929
      baseline:
        model: claude-sonnet-4-5-20250929
`))
	require.NoError(t, err)

	runCfg := model.RunConfig{
		TrialsPerCase:       2,
		Workers:             2,
		Mode:                model.ModeAbsolute,
		SimilarityThreshold: 0.5,
		TieEpsilon:          1.0,
	}
	run, err := st.CreateRun(context.Background(), runCfg, variantNames(c), c.DomainIndex())
	require.NoError(t, err)

	// A cancelled context must abort the run with an error rather than
	// dispatch any trial, so the caller can mark the run failed.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := executeRun(ctx, st, c, run, runCfg)
	require.Error(t, err)
	assert.Nil(t, summary)
}

func TestVariantNames(t *testing.T) {
	c, err := corpus.Parse([]byte(`
cases:
  - id: auth-01
    domain: auth
    sample: "func login() {}"
    variants:
      pattern:
        model: claude-sonnet-4-5-20250929
        patterns: ["missing rate limit"]
      baseline:
        model: claude-sonnet-4-5-20250929
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline", "pattern"}, variantNames(c))
}
