// Package harness schedules trial jobs across a bounded worker pool and
// funnels every completed trial through a single collector.
package harness

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reviewbench/internal/corpus"
	"github.com/sells-group/reviewbench/internal/model"
)

// Job is one (case, variant, trial) unit of work.
type Job struct {
	Case    model.Case
	Variant model.VariantName
	Config  model.VariantConfig
	Trial   int
}

// AnalyzeFunc runs one analyzer call. The adapter satisfies this; tests
// substitute their own.
type AnalyzeFunc func(ctx context.Context, sample string, cfg model.VariantConfig) model.Outcome

// CollectFunc receives each completed trial exactly once, from a single
// goroutine. An error aborts the run.
type CollectFunc func(result model.TrialResult) error

// Config controls the worker pool.
type Config struct {
	// Workers is the number of concurrent trial executors.
	Workers int
	// TrialsPerCase is how many times each (case, variant) is executed.
	TrialsPerCase int
	// RunTimeout stops admission of new jobs once elapsed. Zero means no
	// run-level deadline.
	RunTimeout time.Duration
	// Grace is how long already-dispatched jobs may keep running after the
	// run deadline before being cut off.
	Grace time.Duration
}

// Validate rejects pool misconfiguration before any job is dispatched.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return eris.Errorf("harness: workers must be >= 1, got %d", c.Workers)
	}
	if c.TrialsPerCase < 1 {
		return eris.Errorf("harness: trials per case must be >= 1, got %d", c.TrialsPerCase)
	}
	return nil
}

// BuildJobs expands the corpus into the full (case, variant, trial) cross
// product. The order is a pure function of the corpus and trial count:
// cases sorted by id, variants sorted by name, trial indices ascending.
// Two runs over the same inputs always produce the same job list.
func BuildJobs(c *corpus.Corpus, trialsPerCase int) []Job {
	var jobs []Job
	for _, cs := range c.Cases() {
		variants := make([]model.VariantName, 0, len(cs.Variants))
		for name := range cs.Variants {
			variants = append(variants, name)
		}
		sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })

		for _, v := range variants {
			for trial := 0; trial < trialsPerCase; trial++ {
				jobs = append(jobs, Job{
					Case:    cs,
					Variant: v,
					Config:  cs.Variants[v],
					Trial:   trial,
				})
			}
		}
	}
	return jobs
}

// Run executes the job list. At most cfg.Workers jobs are in flight at any
// moment; completed trials are handed to collect from one dedicated
// goroutine, so collectors need no locking.
//
// When the run deadline expires, jobs not yet admitted are recorded as
// run_timeout failures immediately; jobs already in flight get cfg.Grace
// to finish before their context is cut.
func Run(ctx context.Context, cfg Config, jobs []Job, analyze AnalyzeFunc, collect CollectFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := zap.L().Named("harness")
	log.Info("starting run",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", cfg.Workers),
		zap.Duration("run_timeout", cfg.RunTimeout),
	)

	// admitCtx gates admission; jobCtx is what workers run under and
	// outlives admission by the grace period.
	admitCtx := ctx
	jobCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancelAdmit, cancelJobs context.CancelFunc
		admitCtx, cancelAdmit = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancelAdmit()
		jobCtx, cancelJobs = context.WithTimeout(ctx, cfg.RunTimeout+cfg.Grace)
		defer cancelJobs()
	}

	results := make(chan model.TrialResult, cfg.Workers)

	// Single collector goroutine: the only writer into aggregation state.
	collectDone := make(chan error, 1)
	go func() {
		for r := range results {
			if err := collect(r); err != nil {
				collectDone <- err
				// Drain so workers never block on a dead collector.
				for range results {
				}
				return
			}
		}
		collectDone <- nil
	}()

	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)

	for _, job := range jobs {
		// Admission control: once the run deadline passes, remaining jobs
		// are failed without dispatch.
		select {
		case <-admitCtx.Done():
			results <- runTimeoutResult(job)
			continue
		default:
		}

		g.Go(func() error {
			results <- executeTrial(jobCtx, job, analyze)
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	if err := <-collectDone; err != nil {
		return eris.Wrap(err, "harness: collect")
	}
	return ctx.Err()
}

// executeTrial runs one job and stamps the result. A failure produced
// after the run deadline is re-marked run_timeout: the job did not fail on
// its own terms, the run gave up on it.
func executeTrial(ctx context.Context, job Job, analyze AnalyzeFunc) model.TrialResult {
	start := time.Now()
	outcome := analyze(ctx, job.Case.Sample, job.Config)
	if !outcome.Success() && ctx.Err() != nil {
		outcome.Failure.Kind = model.FailureRunTimeout
	}
	return model.TrialResult{
		CaseID:     job.Case.ID,
		Variant:    job.Variant,
		TrialIndex: job.Trial,
		Outcome:    outcome,
		Duration:   time.Since(start),
		Timestamp:  start.UTC(),
	}
}

func runTimeoutResult(job Job) model.TrialResult {
	now := time.Now().UTC()
	return model.TrialResult{
		CaseID:     job.Case.ID,
		Variant:    job.Variant,
		TrialIndex: job.Trial,
		Outcome: model.Outcome{Failure: &model.Failure{
			Kind:    model.FailureRunTimeout,
			Message: "run deadline expired before dispatch",
		}},
		Timestamp: now,
	}
}
