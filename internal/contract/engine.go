package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/maypok86/otter"

	"github.com/Iron-Ham/handoff/internal/logging"
)

// Engine generates verification contracts. A contract is a pure function
// of its inputs; the memo only saves recomputation, so an evicted entry or
// a second Engine yields an equal contract.
type Engine struct {
	rules  []Rule
	memo   otter.Cache[string, *Contract]
	logger *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRules replaces the classification rule table.
func WithRules(rules []Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine with the default rule table.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	memo, err := otter.MustBuilder[string, *Contract](1000).Build()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		rules:  DefaultRules(),
		memo:   memo,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate builds the contract for a task description and its expected
// artifacts. The returned contract is a copy the caller may keep. Its
// GeneratedAt is zero until the contract is attached to a task.
func (e *Engine) Generate(description string, expectedArtifacts []string) *Contract {
	artifacts := normalizeArtifacts(expectedArtifacts)
	fp := Fingerprint(description, artifacts)

	if c, ok := e.memo.Get(fp); ok {
		return c.clone()
	}

	kind, rule := classify(e.rules, description)
	c := &Contract{
		Type:     kind,
		Criteria: buildCriteria(kind, artifacts),
		GeneratedFrom: Source{
			Description:       description,
			ExpectedArtifacts: artifacts,
			Rule:              rule,
		},
		Fingerprint: fp,
	}
	e.memo.Set(fp, c)

	e.logger.Debug("contract generated",
		"type", kind.String(),
		"rule", rule,
		"criteria", len(c.Criteria),
		"fingerprint", fp,
	)
	return c.clone()
}

// Close releases the memo cache.
func (e *Engine) Close() {
	e.memo.Close()
}

func buildCriteria(kind Kind, artifacts []string) []Criterion {
	switch kind {
	case Advisory:
		return []Criterion{}
	case Skip:
		return []Criterion{{Activity: ActivityTypecheck}, {Activity: ActivityLint}}
	}

	criteria := []Criterion{{Activity: ActivityTypecheck}, {Activity: ActivityLint}}
	needE2E := false
	for _, a := range artifacts {
		switch ClassifyArtifact(a) {
		case ArtifactInteractive:
			needE2E = true
			fallthrough
		case ArtifactLogic:
			if p := DerivePattern(a); p != "" {
				criteria = append(criteria, Criterion{Activity: ActivityUnitTest, Pattern: p})
			}
		}
	}
	if needE2E {
		criteria = append(criteria, Criterion{Activity: ActivityE2ETest, Timing: TimingImmediate})
	}
	return dedupe(criteria)
}

func dedupe(criteria []Criterion) []Criterion {
	seen := make(map[string]bool, len(criteria))
	out := criteria[:0]
	for _, c := range criteria {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, c)
	}
	return out
}

func normalizeArtifacts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Fingerprint hashes the generation inputs. Artifacts must already be
// normalized (trimmed, sorted, unique).
func Fingerprint(description string, artifacts []string) string {
	h := sha256.New()
	h.Write([]byte(description))
	for _, a := range artifacts {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
