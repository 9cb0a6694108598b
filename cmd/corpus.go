package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reviewbench/internal/corpus"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Work with the evaluation case corpus",
}

var corpusValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse the corpus and report its shape",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Eval.CorpusPath
		if len(args) > 0 {
			path = args[0]
		}

		c, err := corpus.Load(path)
		if err != nil {
			return err
		}

		byDomain := map[string]int{}
		expected := 0
		for _, cs := range c.Cases() {
			byDomain[string(cs.Domain)]++
			expected += len(cs.Expected)
		}
		domains := make([]string, 0, len(byDomain))
		for d := range byDomain {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		zap.L().Info("corpus valid",
			zap.String("path", path),
			zap.Int("cases", c.Len()),
			zap.Int("variants", len(c.Variants())),
			zap.Int("expected_findings", expected),
		)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DOMAIN\tCASES")
		_, _ = fmt.Fprintln(w, "------\t-----")
		for _, d := range domains {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", d, byDomain[d])
		}
		_ = w.Flush()

		fmt.Printf("\n%d cases, %d variants (", c.Len(), len(c.Variants()))
		for i, v := range c.Variants() {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(v)
		}
		fmt.Println(")")
		return nil
	},
}

func init() {
	corpusCmd.AddCommand(corpusValidateCmd)
	rootCmd.AddCommand(corpusCmd)
}
