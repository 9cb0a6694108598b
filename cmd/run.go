package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reviewbench/internal/aggregate"
	"github.com/sells-group/reviewbench/internal/analyzer"
	"github.com/sells-group/reviewbench/internal/corpus"
	"github.com/sells-group/reviewbench/internal/harness"
	"github.com/sells-group/reviewbench/internal/model"
	"github.com/sells-group/reviewbench/internal/store"
	anthropicpkg "github.com/sells-group/reviewbench/pkg/anthropic"
)

var (
	runCorpusPath string
	runTrials     int
	runWorkers    int
	runMode       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an evaluation run over the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (REVIEWBENCH_ANTHROPIC_KEY)")
		}

		// Init store
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// Load corpus
		corpusPath := runCorpusPath
		if corpusPath == "" {
			corpusPath = cfg.Eval.CorpusPath
		}
		c, err := corpus.Load(corpusPath)
		if err != nil {
			return err
		}

		runCfg, err := resolveRunConfig()
		if err != nil {
			return err
		}

		// Record the run before any trial executes so partial failures
		// still leave an inspectable row behind.
		run, err := st.CreateRun(ctx, runCfg, variantNames(c), c.DomainIndex())
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		zap.L().Info("run started",
			zap.String("run_id", run.ID),
			zap.String("corpus", corpusPath),
			zap.Int("cases", c.Len()),
			zap.Int("trials_per_case", runCfg.TrialsPerCase),
			zap.Int("workers", runCfg.Workers),
			zap.String("mode", string(runCfg.Mode)),
		)

		summary, err := executeRun(ctx, st, c, run, runCfg)
		if err != nil {
			if failErr := st.FailRun(ctx, run.ID, err.Error()); failErr != nil {
				zap.L().Error("mark run failed", zap.String("run_id", run.ID), zap.Error(failErr))
			}
			return err
		}

		if err := st.CompleteRun(ctx, run.ID, summary); err != nil {
			return eris.Wrap(err, "complete run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// executeRun drives the trial pool to completion and folds the collected
// results into the run summary. The collector closure is the only writer
// to both the accumulator and the store.
func executeRun(ctx context.Context, st store.Store, c *corpus.Corpus, run *model.Run, runCfg model.RunConfig) (*model.RunSummary, error) {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	base := analyzer.NewClaudeAnalyzer(client)

	adapterCfg := analyzer.DefaultAdapterConfig()
	adapterCfg.RequestsPerSecond = cfg.Anthropic.RequestsPerSecond
	adapterCfg.Burst = cfg.Anthropic.Burst
	adapterCfg.CallTimeout = time.Duration(cfg.Anthropic.CallTimeoutSecs) * time.Second
	if cfg.Anthropic.MaxRetries > 0 {
		adapterCfg.Retry.MaxAttempts = cfg.Anthropic.MaxRetries
	}
	adapter := analyzer.NewAdapter(base, adapterCfg)

	analyze := func(ctx context.Context, sample string, vc model.VariantConfig) model.Outcome {
		if vc.Model == "" {
			vc.Model = cfg.Anthropic.DefaultModel
		}
		return adapter.Analyze(ctx, sample, vc)
	}

	acc := aggregate.NewAccumulator(c)
	collect := func(result model.TrialResult) error {
		if err := acc.Add(result); err != nil {
			return err
		}
		return st.SaveTrialResult(ctx, run.ID, result)
	}

	harnessCfg := harness.Config{
		Workers:       runCfg.Workers,
		TrialsPerCase: runCfg.TrialsPerCase,
		RunTimeout:    cfg.Eval.RunTimeout(),
		Grace:         cfg.Eval.Grace(),
	}
	jobs := harness.BuildJobs(c, runCfg.TrialsPerCase)
	if err := harness.Run(ctx, harnessCfg, jobs, analyze, collect); err != nil {
		return nil, err
	}

	return aggregate.BuildSummary(run.ID, runCfg, c, acc.Results())
}

// resolveRunConfig merges command-line flags over the configured eval
// defaults and validates the result.
func resolveRunConfig() (model.RunConfig, error) {
	rc := model.RunConfig{
		TrialsPerCase:       cfg.Eval.TrialsPerCase,
		Workers:             cfg.Eval.Workers,
		Mode:                model.ComparisonMode(cfg.Eval.Mode),
		SimilarityThreshold: cfg.Eval.SimilarityThreshold,
		TieEpsilon:          cfg.Eval.TieEpsilon,
	}
	if runTrials > 0 {
		rc.TrialsPerCase = runTrials
	}
	if runWorkers > 0 {
		rc.Workers = runWorkers
	}
	if runMode != "" {
		rc.Mode = model.ComparisonMode(runMode)
	}
	if !rc.Mode.Valid() {
		return model.RunConfig{}, eris.Errorf("unknown comparison mode: %s", rc.Mode)
	}
	return rc, nil
}

func variantNames(c *corpus.Corpus) []string {
	vs := c.Variants()
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = string(v)
	}
	return names
}

func init() {
	runCmd.Flags().StringVar(&runCorpusPath, "corpus", "", "corpus YAML path (default from config)")
	runCmd.Flags().IntVar(&runTrials, "trials", 0, "trials per case (default from config)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent workers (default from config)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "comparison mode: absolute or relative (default from config)")
	rootCmd.AddCommand(runCmd)
}
