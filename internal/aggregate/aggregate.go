// Package aggregate turns completed trial results into a run summary.
//
// Collection and computation are split on purpose. The Accumulator is the
// single serialized owner of results while workers are still producing
// them; BuildSummary is a pure fold over a finished result set and can be
// re-run at any time against persisted results without touching the
// external analyzer.
package aggregate

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reviewbench/internal/corpus"
	"github.com/sells-group/reviewbench/internal/model"
	"github.com/sells-group/reviewbench/internal/scorer"
	"github.com/sells-group/reviewbench/internal/stats"
)

// Accumulator collects trial results from concurrent workers. All writes
// go through Add, which validates each result against the corpus before
// accepting it; a result referencing an unknown case or variant means the
// job list was corrupted and is reported as a non-recoverable error.
type Accumulator struct {
	corpus  *corpus.Corpus
	results []model.TrialResult
	seen    map[trialKey]struct{}
}

type trialKey struct {
	caseID  string
	variant model.VariantName
	trial   int
}

// NewAccumulator returns an empty accumulator validating against c.
//
// The accumulator itself is not lock-protected: the harness routes every
// completed job through one collector goroutine, so Add is never called
// concurrently. Guarding here as well would only hide a broken caller.
func NewAccumulator(c *corpus.Corpus) *Accumulator {
	return &Accumulator{
		corpus: c,
		seen:   make(map[trialKey]struct{}),
	}
}

// Add records one completed trial. It rejects results that reference a
// case or variant outside the corpus, duplicate (case, variant, trial)
// records, and negative trial indices.
func (a *Accumulator) Add(r model.TrialResult) error {
	cs, ok := a.corpus.Get(r.CaseID)
	if !ok {
		return eris.Errorf("trial result references unknown case %q", r.CaseID)
	}
	if _, ok := cs.Variants[r.Variant]; !ok {
		return eris.Errorf("trial result references unknown variant %q for case %q", r.Variant, r.CaseID)
	}
	if r.TrialIndex < 0 {
		return eris.Errorf("trial result for case %q has negative trial index %d", r.CaseID, r.TrialIndex)
	}
	key := trialKey{r.CaseID, r.Variant, r.TrialIndex}
	if _, dup := a.seen[key]; dup {
		return eris.Errorf("duplicate trial result for case %q variant %q trial %d", r.CaseID, r.Variant, r.TrialIndex)
	}
	a.seen[key] = struct{}{}
	a.results = append(a.results, r)
	return nil
}

// Len returns the number of accepted results.
func (a *Accumulator) Len() int {
	return len(a.results)
}

// Results returns the accepted results sorted by (case, variant, trial).
func (a *Accumulator) Results() []model.TrialResult {
	out := make([]model.TrialResult, len(a.results))
	copy(out, a.results)
	sortResults(out)
	return out
}

func sortResults(rs []model.TrialResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CaseID != rs[j].CaseID {
			return rs[i].CaseID < rs[j].CaseID
		}
		if rs[i].Variant != rs[j].Variant {
			return rs[i].Variant < rs[j].Variant
		}
		return rs[i].TrialIndex < rs[j].TrialIndex
	})
}

// BuildSummary folds a completed result set into a RunSummary. It is a
// pure function of its inputs: feeding it the same corpus, config, and
// results produces an identical summary regardless of result order, so
// persisted runs can be re-scored offline.
func BuildSummary(runID string, cfg model.RunConfig, c *corpus.Corpus, results []model.TrialResult) (*model.RunSummary, error) {
	scoring := scorer.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		TieEpsilon:          cfg.TieEpsilon,
	}

	grouped, err := groupResults(c, results)
	if err != nil {
		return nil, err
	}

	summary := &model.RunSummary{
		RunID:         runID,
		Mode:          cfg.Mode,
		TotalCases:    len(grouped),
		TrialsPerCase: cfg.TrialsPerCase,
		WinCounts:     map[string]int{},
		Variants:      map[string]model.VariantSummary{},
		PerDomain:     map[string]model.DomainSummary{},
	}

	overall := newRollup()
	domains := map[string]*rollup{}

	caseIDs := make([]string, 0, len(grouped))
	for id := range grouped {
		caseIDs = append(caseIDs, id)
	}
	sort.Strings(caseIDs)

	for _, caseID := range caseIDs {
		cs, _ := c.Get(caseID)
		byVariant := grouped[caseID]

		variants := make([]model.VariantName, 0, len(byVariant))
		for v := range byVariant {
			variants = append(variants, v)
		}
		sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })

		dom, ok := domains[string(cs.Domain)]
		if !ok {
			dom = newRollup()
			domains[string(cs.Domain)] = dom
		}
		dom.cases++

		scored, outcomes, err := scoreCase(scoring, cfg.Mode, cs, variants, byVariant)
		if err != nil {
			return nil, err
		}

		for _, v := range variants {
			cstats := stats.Consistency(caseID, v, scored[v])
			summary.Consistency = append(summary.Consistency, cstats)
			overall.observeVariant(v, scored[v], cstats)
			dom.observeVariant(v, scored[v], cstats)
		}
		for _, po := range outcomes {
			overall.observeOutcome(po)
			dom.observeOutcome(po)
		}
	}

	summary.WinCounts = overall.winCounts
	summary.TieCount = overall.tieCount
	summary.Variants = overall.variantSummaries()
	for name, dom := range domains {
		summary.PerDomain[name] = model.DomainSummary{
			Cases:     dom.cases,
			WinCounts: dom.winCounts,
			TieCount:  dom.tieCount,
			Variants:  dom.variantSummaries(),
		}
	}

	return summary, nil
}

// groupResults indexes results by case then variant, validating every
// record against the corpus. Trials within each group are sorted by index.
func groupResults(c *corpus.Corpus, results []model.TrialResult) (map[string]map[model.VariantName][]model.TrialResult, error) {
	grouped := map[string]map[model.VariantName][]model.TrialResult{}
	seen := map[trialKey]struct{}{}
	for _, r := range results {
		cs, ok := c.Get(r.CaseID)
		if !ok {
			return nil, eris.Errorf("result set references unknown case %q", r.CaseID)
		}
		if _, ok := cs.Variants[r.Variant]; !ok {
			return nil, eris.Errorf("result set references unknown variant %q for case %q", r.Variant, r.CaseID)
		}
		key := trialKey{r.CaseID, r.Variant, r.TrialIndex}
		if _, dup := seen[key]; dup {
			return nil, eris.Errorf("result set contains duplicate trial %q/%s/%d", r.CaseID, r.Variant, r.TrialIndex)
		}
		seen[key] = struct{}{}
		if grouped[r.CaseID] == nil {
			grouped[r.CaseID] = map[model.VariantName][]model.TrialResult{}
		}
		grouped[r.CaseID][r.Variant] = append(grouped[r.CaseID][r.Variant], r)
	}
	for _, byVariant := range grouped {
		for v := range byVariant {
			trials := byVariant[v]
			sort.Slice(trials, func(i, j int) bool { return trials[i].TrialIndex < trials[j].TrialIndex })
		}
	}
	return grouped, nil
}

// scoreCase computes per-trial scores and pairwise outcomes for one case.
//
// In absolute mode every trial is scored against the case's expected
// findings and variants are compared on those independent scores. In
// relative mode each variant pair is scored against the union of the
// pair's findings; a variant compared against several others carries the
// mean of its per-pair scores into the consistency metrics.
func scoreCase(
	scoring scorer.Config,
	mode model.ComparisonMode,
	cs model.Case,
	variants []model.VariantName,
	byVariant map[model.VariantName][]model.TrialResult,
) (map[model.VariantName][]stats.ScoredTrial, []model.PairwiseOutcome, error) {
	relative := map[trialKey]*relScore{}
	absolute := map[trialKey]float64{}

	if mode == model.ModeAbsolute {
		for _, v := range variants {
			for _, r := range byVariant[v] {
				absolute[trialKey{cs.ID, v, r.TrialIndex}] = scoring.AbsoluteScore(r.Outcome, cs.Expected)
			}
		}
	}

	var outcomes []model.PairwiseOutcome
	for i := 0; i < len(variants); i++ {
		for j := i + 1; j < len(variants); j++ {
			va, vb := variants[i], variants[j]
			indexed := indexByTrial(byVariant[vb])
			for _, ra := range byVariant[va] {
				rb, ok := indexed[ra.TrialIndex]
				if !ok {
					continue
				}
				var sa, sb float64
				switch mode {
				case model.ModeAbsolute:
					sa = absolute[trialKey{cs.ID, va, ra.TrialIndex}]
					sb = absolute[trialKey{cs.ID, vb, rb.TrialIndex}]
				case model.ModeRelative:
					sa, sb = scoring.RelativeScores(ra.Outcome, rb.Outcome)
					addSlot(relative, trialKey{cs.ID, va, ra.TrialIndex}, sa)
					addSlot(relative, trialKey{cs.ID, vb, rb.TrialIndex}, sb)
				default:
					return nil, nil, eris.Errorf("unsupported comparison mode %q", mode)
				}
				outcomes = append(outcomes, scoring.Compare(cs.ID, ra.TrialIndex,
					scorer.ScoredSide{Name: va, Score: sa, Success: ra.Outcome.Success()},
					scorer.ScoredSide{Name: vb, Score: sb, Success: rb.Outcome.Success()},
				))
			}
		}
	}

	scored := make(map[model.VariantName][]stats.ScoredTrial, len(variants))
	for _, v := range variants {
		for _, r := range byVariant[v] {
			key := trialKey{cs.ID, v, r.TrialIndex}
			var score float64
			switch mode {
			case model.ModeAbsolute:
				score = absolute[key]
			case model.ModeRelative:
				if s, ok := relative[key]; ok && s.pairs > 0 {
					score = s.sum / float64(s.pairs)
				}
			}
			scored[v] = append(scored[v], stats.ScoredTrial{Result: r, Score: score})
		}
	}
	return scored, outcomes, nil
}

// relScore accumulates a variant trial's scores across the pairings it
// participated in; the consistency metrics use the mean.
type relScore struct {
	sum   float64
	pairs int
}

func addSlot(m map[trialKey]*relScore, k trialKey, v float64) {
	s, ok := m[k]
	if !ok {
		s = &relScore{}
		m[k] = s
	}
	s.sum += v
	s.pairs++
}

func indexByTrial(rs []model.TrialResult) map[int]model.TrialResult {
	m := make(map[int]model.TrialResult, len(rs))
	for _, r := range rs {
		m[r.TrialIndex] = r
	}
	return m
}

// rollup accumulates counters for one scope (overall or one domain).
type rollup struct {
	cases     int
	winCounts map[string]int
	tieCount  int
	variants  map[string]*variantAccum
}

type variantAccum struct {
	scoreSum       float64
	trials         int
	simSum         float64
	caseGroups     int
	success        int
	failed         int
	empty          int
	failuresByKind map[string]int
}

func newRollup() *rollup {
	return &rollup{
		winCounts: map[string]int{},
		variants:  map[string]*variantAccum{},
	}
}

func (r *rollup) observeOutcome(po model.PairwiseOutcome) {
	if po.Tie() {
		r.tieCount++
		return
	}
	r.winCounts[string(po.Winner)]++
}

func (r *rollup) observeVariant(v model.VariantName, trials []stats.ScoredTrial, cstats model.ConsistencyStats) {
	acc, ok := r.variants[string(v)]
	if !ok {
		acc = &variantAccum{failuresByKind: map[string]int{}}
		r.variants[string(v)] = acc
	}
	acc.caseGroups++
	acc.simSum += cstats.MeanPairwiseSimilarity
	for _, t := range trials {
		acc.trials++
		acc.scoreSum += t.Score
		out := t.Result.Outcome
		if out.Success() {
			acc.success++
			if len(out.Findings) == 0 {
				acc.empty++
			}
			continue
		}
		acc.failed++
		acc.failuresByKind[string(out.Failure.Kind)]++
	}
}

func (r *rollup) variantSummaries() map[string]model.VariantSummary {
	out := make(map[string]model.VariantSummary, len(r.variants))
	for name, acc := range r.variants {
		vs := model.VariantSummary{
			SuccessTrials: acc.success,
			FailedTrials:  acc.failed,
			EmptyTrials:   acc.empty,
		}
		if acc.trials > 0 {
			vs.MeanScore = acc.scoreSum / float64(acc.trials)
		}
		if acc.caseGroups > 0 {
			vs.MeanSimilarity = acc.simSum / float64(acc.caseGroups)
		}
		if len(acc.failuresByKind) > 0 {
			vs.FailuresByKind = acc.failuresByKind
		}
		out[name] = vs
	}
	return out
}
