package model

// Domain tags a case with the area of the codebase it exercises.
type Domain string

const (
	DomainAuth           Domain = "auth"
	DomainPayments       Domain = "payments"
	DomainDatabase       Domain = "database"
	DomainAPI            Domain = "api"
	DomainFileUpload     Domain = "file-upload"
	DomainDeployment     Domain = "deployment"
	DomainInfrastructure Domain = "infrastructure"
	DomainDependencies   Domain = "dependencies"
	DomainSecurity       Domain = "security"
	DomainFrontend       Domain = "frontend"
	DomainSearch         Domain = "search"
	DomainNegativeTest   Domain = "negative-test"
)

// Domains lists every recognized domain tag.
var Domains = []Domain{
	DomainAuth, DomainPayments, DomainDatabase, DomainAPI,
	DomainFileUpload, DomainDeployment, DomainInfrastructure,
	DomainDependencies, DomainSecurity, DomainFrontend,
	DomainSearch, DomainNegativeTest,
}

// Valid reports whether d is one of the recognized domain tags.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// VariantName identifies one analyzer configuration under comparison,
// e.g. "pattern" vs "baseline".
type VariantName string

// VariantConfig is the per-variant analyzer configuration. Patterns is
// the pattern set injected into the review prompt; the baseline variant
// carries none.
type VariantConfig struct {
	Model        string   `json:"model" yaml:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Patterns     []string `json:"patterns,omitempty" yaml:"patterns"`
	MaxTokens    int64    `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature"`
}

// Case is one code sample plus its evaluation configuration. Immutable
// once loaded from the corpus.
type Case struct {
	ID       string                        `json:"id" yaml:"id"`
	Domain   Domain                        `json:"domain" yaml:"domain"`
	Sample   string                        `json:"sample" yaml:"sample"`
	Expected []Finding                     `json:"expected,omitempty" yaml:"expected"`
	Variants map[VariantName]VariantConfig `json:"variants" yaml:"variants"`
}
