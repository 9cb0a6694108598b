package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reviewbench/internal/aggregate"
	"github.com/sells-group/reviewbench/internal/corpus"
)

var rescoreCorpusPath string

var rescoreCmd = &cobra.Command{
	Use:   "rescore <run-id>",
	Short: "Rebuild a run's summary from its persisted trial results",
	Long:  "Re-aggregates stored trial results under the run's original scoring parameters. Makes no analyzer calls; rescoring the same run twice yields byte-identical summaries.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "rescore")
		}

		corpusPath := rescoreCorpusPath
		if corpusPath == "" {
			corpusPath = cfg.Eval.CorpusPath
		}
		c, err := corpus.Load(corpusPath)
		if err != nil {
			return err
		}

		// Expected findings live in the corpus, not the store, so scoring
		// against a corpus that drifted since the run would silently change
		// the numbers. The persisted domain index catches that.
		for id, domain := range run.CaseDomains {
			cs, ok := c.Get(id)
			if !ok {
				return eris.Errorf("rescore: case %s from run %s is missing from the corpus", id, runID)
			}
			if string(cs.Domain) != domain {
				return eris.Errorf("rescore: case %s changed domain (%s -> %s) since the run", id, domain, cs.Domain)
			}
		}

		results, err := st.ListTrialResults(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "rescore")
		}
		if len(results) == 0 {
			return eris.Errorf("rescore: run %s has no trial results", runID)
		}

		summary, err := aggregate.BuildSummary(runID, run.Config, c, results)
		if err != nil {
			return err
		}

		if err := st.UpdateRunSummary(ctx, runID, summary); err != nil {
			return eris.Wrap(err, "rescore")
		}

		zap.L().Info("run rescored",
			zap.String("run_id", runID),
			zap.Int("trial_results", len(results)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreCorpusPath, "corpus", "", "corpus YAML path (default from config)")
	rootCmd.AddCommand(rescoreCmd)
}
