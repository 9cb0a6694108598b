// Package corpus loads and validates the immutable evaluation case set.
package corpus

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reviewbench/internal/model"
)

// Corpus is the read-only case set for one run. Loaded once, never mutated.
type Corpus struct {
	cases []model.Case
	byID  map[string]model.Case
}

type corpusFile struct {
	Cases []model.Case `yaml:"cases"`
}

// Load reads a YAML corpus file and validates every case. Validation
// failures are fatal: a run must never start against a malformed corpus.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates corpus YAML.
func Parse(data []byte) (*Corpus, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "corpus: decode yaml")
	}
	if len(file.Cases) == 0 {
		return nil, eris.New("corpus: no cases defined")
	}

	byID := make(map[string]model.Case, len(file.Cases))
	for i, c := range file.Cases {
		if c.ID == "" {
			return nil, eris.Errorf("corpus: case %d has no id", i)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, eris.Errorf("corpus: duplicate case id %q", c.ID)
		}
		if !c.Domain.Valid() {
			return nil, eris.Errorf("corpus: case %q has unknown domain %q", c.ID, c.Domain)
		}
		if c.Sample == "" {
			return nil, eris.Errorf("corpus: case %q has empty sample", c.ID)
		}
		if len(c.Variants) == 0 {
			return nil, eris.Errorf("corpus: case %q has no variant configs", c.ID)
		}
		for _, f := range c.Expected {
			if _, err := model.ParseSeverity(string(f.Severity)); err != nil {
				return nil, eris.Wrapf(err, "corpus: case %q expected finding %q", c.ID, f.Title)
			}
		}
		byID[c.ID] = c
	}

	cases := make([]model.Case, len(file.Cases))
	copy(cases, file.Cases)
	// Sorted case order is the determinism source for the job list.
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })

	return &Corpus{cases: cases, byID: byID}, nil
}

// Cases returns all cases ordered by id.
func (c *Corpus) Cases() []model.Case {
	return c.cases
}

// Get returns the case with the given id.
func (c *Corpus) Get(id string) (model.Case, bool) {
	cs, ok := c.byID[id]
	return cs, ok
}

// Len returns the number of cases.
func (c *Corpus) Len() int {
	return len(c.cases)
}

// Variants returns the sorted union of variant names across all cases.
func (c *Corpus) Variants() []model.VariantName {
	seen := make(map[model.VariantName]struct{})
	for _, cs := range c.cases {
		for name := range cs.Variants {
			seen[name] = struct{}{}
		}
	}
	names := make([]model.VariantName, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DomainIndex maps every case id to its domain tag. Persisted with the run
// record so summaries can be rebuilt without reloading the corpus.
func (c *Corpus) DomainIndex() map[string]string {
	idx := make(map[string]string, len(c.cases))
	for _, cs := range c.cases {
		idx[cs.ID] = string(cs.Domain)
	}
	return idx
}
