// Package analyzer is the sole point of contact with the LLM-backed code
// review service. The Analyzer interface is the substitution seam: the
// harness runs identically against the Claude implementation or a test
// double.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reviewbench/internal/model"
	"github.com/sells-group/reviewbench/pkg/anthropic"
)

// Analyzer reviews one code sample under one variant configuration and
// returns the findings it produced. Errors are always *CallError.
type Analyzer interface {
	Analyze(ctx context.Context, sample string, cfg model.VariantConfig) ([]model.Finding, error)
}

const defaultSystemPrompt = `You are an expert code reviewer. Review the submitted code sample and report every defect you find: security vulnerabilities, correctness bugs, performance problems, and operational risks. Respond with a JSON array only, no prose. Each element must be an object with fields: "severity" (CRITICAL, HIGH, MEDIUM, or LOW), "confidence" (0-100), "title" (short, specific), "description", and "domains" (array of affected area tags). If the code has no defects worth reporting, respond with an empty JSON array.`

const defaultMaxTokens = 4096

// ClaudeAnalyzer implements Analyzer against the Anthropic API.
type ClaudeAnalyzer struct {
	client anthropic.Client
	log    *zap.Logger
}

// NewClaudeAnalyzer builds an analyzer backed by the given client.
func NewClaudeAnalyzer(client anthropic.Client) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{
		client: client,
		log:    zap.L().Named("analyzer"),
	}
}

// Analyze sends the code sample to the model under the variant's
// configuration and parses the returned finding list. A response that is
// not a valid finding array is an invalid_response failure, never a
// silent empty result.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, sample string, cfg model.VariantConfig) ([]model.Finding, error) {
	req := anthropic.MessageRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		System:      cfg.SystemPrompt,
		Temperature: cfg.Temperature,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildReviewPrompt(sample, cfg.Patterns)},
		},
	}
	if req.System == "" {
		req.System = defaultSystemPrompt
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		kind := classify(err)
		a.log.Debug("analyzer call failed",
			zap.String("model", cfg.Model),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, NewCallError(kind, err)
	}

	resp.Usage.LogUsage(cfg.Model, "review")

	findings, err := parseFindings(extractText(resp))
	if err != nil {
		return nil, NewCallError(model.FailureInvalidResponse, err)
	}
	return findings, nil
}

// buildReviewPrompt assembles the user message: the optional pattern set
// first, then the code sample. The pattern section is what distinguishes
// the augmented variant from the baseline.
func buildReviewPrompt(sample string, patterns []string) string {
	var b strings.Builder
	if len(patterns) > 0 {
		b.WriteString("Known issue patterns for this codebase. Check each one against the sample:\n")
		for i, p := range patterns {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		b.WriteString("\n")
	}
	b.WriteString("Code sample to review:\n\n```\n")
	b.WriteString(sample)
	b.WriteString("\n```")
	return b.String()
}

func extractText(resp *anthropic.MessageResponse) string {
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseFindings decodes the model's JSON finding array. Unknown severities
// and out-of-range confidences are rejected rather than coerced; a lenient
// parse here would silently reward a misbehaving variant.
func parseFindings(text string) ([]model.Finding, error) {
	cleaned := cleanJSONArray(text)
	if cleaned == "" {
		return nil, eris.New("response contains no JSON array")
	}

	var raw []struct {
		Severity    string   `json:"severity"`
		Confidence  int      `json:"confidence"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Domains     []string `json:"domains"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "decode finding array")
	}

	findings := make([]model.Finding, 0, len(raw))
	for i, f := range raw {
		sev, err := model.ParseSeverity(f.Severity)
		if err != nil {
			return nil, eris.Wrapf(err, "finding %d", i)
		}
		if f.Title == "" {
			return nil, eris.Errorf("finding %d has no title", i)
		}
		findings = append(findings, model.Finding{
			Severity:    sev,
			Confidence:  model.ClampConfidence(f.Confidence),
			Title:       f.Title,
			Description: f.Description,
			Domains:     f.Domains,
		})
	}
	return findings, nil
}

// cleanJSONArray extracts a JSON array from text that may contain markdown
// code fences or other wrapping.
func cleanJSONArray(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first [ and last ].
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	} else {
		return ""
	}

	return strings.TrimSpace(text)
}
