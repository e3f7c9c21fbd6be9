// Package fallback resolves the ordered executor chain for a task.
//
// A task's expected artifacts are classified into a [Category] with glob
// patterns (gobwas/glob, '/' as separator). Each category maps to a base
// chain of executor ids, which [Override] layers may extend or replace.
package fallback

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/handoff/internal/logging"
)

// Category is a task-type classification derived from artifact paths.
type Category string

const (
	CategoryInteractive    Category = "interactive"
	CategoryBackend        Category = "backend"
	CategoryInfrastructure Category = "infrastructure"
	CategoryGeneral        Category = "general"
)

// DefaultPatterns returns the built-in artifact patterns per category.
// Paths are lowercased before matching.
func DefaultPatterns() map[Category][]string {
	return map[Category][]string{
		CategoryInfrastructure: {
			"**dockerfile", "**docker-compose*.yml", "**docker-compose*.yaml",
			"**.tf", "**.tfvars", "**.hcl", "**.nix",
			"**k8s/**", "**helm/**", "**deploy/**", "**.github/workflows/**",
		},
		CategoryInteractive: {
			"**.ui", "**.tsx", "**.jsx", "**.vue", "**.svelte", "**.html",
			"**.css", "**.scss", "**.xib", "**.storyboard",
			"**components/**", "**pages/**", "**views/**", "**screens/**",
		},
		CategoryBackend: {
			"**.go", "**.py", "**.rs", "**.java", "**.kt", "**.rb", "**.ts",
			"**.js", "**.cs", "**.sql", "**.php", "**.ex", "**.proto",
		},
	}
}

// categoryOrder is the precedence used when an artifact matches several
// categories and to break ties between categories.
var categoryOrder = []Category{CategoryInfrastructure, CategoryInteractive, CategoryBackend}

// Override is one layer of project-level chain configuration.
type Override struct {
	Prepend   []string `json:"prepend,omitempty" yaml:"prepend,omitempty" mapstructure:"prepend"`
	Append    []string `json:"append,omitempty" yaml:"append,omitempty" mapstructure:"append"`
	Override  bool     `json:"override,omitempty" yaml:"override,omitempty" mapstructure:"override"`
	Executors []string `json:"executors,omitempty" yaml:"executors,omitempty" mapstructure:"executors"`
}

// Overrides maps category names to an override layer.
type Overrides map[string]Override

// Merge applies layers to base in order. An Override layer replaces the
// chain with its Executors before prepending and appending. Duplicates keep
// their first position.
func Merge(base []string, layers ...Override) []string {
	chain := slices.Clone(base)
	for _, l := range layers {
		if l.Override {
			chain = slices.Clone(l.Executors)
		}
		chain = append(slices.Clone(l.Prepend), chain...)
		chain = append(chain, l.Append...)
	}
	return dedupe(chain)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type compiledCategory struct {
	name     Category
	patterns []glob.Glob
}

// Resolver classifies artifacts and resolves chains. It is safe for
// concurrent use; project overrides may be swapped while a batch runs.
type Resolver struct {
	mu         sync.RWMutex
	categories []compiledCategory
	chains     map[Category][]string
	project    Overrides
	logger     *logging.Logger
}

// NewResolver compiles category patterns. Categories absent from patterns
// use DefaultPatterns; extra categories are evaluated after the built-ins
// in name order.
func NewResolver(patterns map[Category][]string, chains map[Category][]string, logger *logging.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	merged := DefaultPatterns()
	for c, p := range patterns {
		merged[c] = p
	}

	order := slices.Clone(categoryOrder)
	var extra []Category
	for c := range merged {
		if !slices.Contains(order, c) && c != CategoryGeneral {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order = append(order, extra...)

	r := &Resolver{chains: make(map[Category][]string), logger: logger}
	for _, c := range order {
		cc := compiledCategory{name: c}
		for _, p := range merged[c] {
			g, err := glob.Compile(strings.ToLower(p), '/')
			if err != nil {
				return nil, err
			}
			cc.patterns = append(cc.patterns, g)
		}
		r.categories = append(r.categories, cc)
	}
	for c, ids := range chains {
		r.chains[c] = dedupe(ids)
	}
	return r, nil
}

// Classify returns the category most artifacts fall into. Each artifact
// counts toward the first category it matches; ties go to the earlier
// category. Tasks with no matching artifacts are general.
func (r *Resolver) Classify(artifacts []string) Category {
	counts := make(map[Category]int)
	for _, a := range artifacts {
		p := strings.ToLower(strings.ReplaceAll(a, "\\", "/"))
		for _, c := range r.categories {
			if matchAny(c.patterns, p) {
				counts[c.name]++
				break
			}
		}
	}
	best, bestN := CategoryGeneral, 0
	for _, c := range r.categories {
		if counts[c.name] > bestN {
			best, bestN = c.name, counts[c.name]
		}
	}
	return best
}

func matchAny(gs []glob.Glob, s string) bool {
	for _, g := range gs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Resolve classifies artifacts and returns the merged chain for that
// category. A category with no base chain falls back to the general chain.
// Extra layers (for example a session's recorded overrides) apply after
// the project overrides.
func (r *Resolver) Resolve(artifacts []string, extra ...Overrides) (Category, []string) {
	cat := r.Classify(artifacts)
	return cat, r.ChainFor(cat, extra...)
}

// ChainFor returns the merged chain for a category.
func (r *Resolver) ChainFor(cat Category, extra ...Overrides) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	base, ok := r.chains[cat]
	if !ok || len(base) == 0 {
		base = r.chains[CategoryGeneral]
	}
	var layers []Override
	if o, ok := r.project[string(cat)]; ok {
		layers = append(layers, o)
	}
	for _, e := range extra {
		if o, ok := e[string(cat)]; ok {
			layers = append(layers, o)
		}
	}
	return Merge(base, layers...)
}

// SetProjectOverrides replaces the project override layer.
func (r *Resolver) SetProjectOverrides(o Overrides) {
	r.mu.Lock()
	r.project = o
	r.mu.Unlock()
	r.logger.Info("fallback overrides loaded", "categories", len(o))
}

// ProjectOverrides returns a copy of the project override layer.
func (r *Resolver) ProjectOverrides() Overrides {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.project == nil {
		return nil
	}
	out := make(Overrides, len(r.project))
	for k, v := range r.project {
		out[k] = v
	}
	return out
}

// Categories returns the category names in evaluation order.
func (r *Resolver) Categories() []Category {
	out := make([]Category, 0, len(r.categories)+1)
	for _, c := range r.categories {
		out = append(out, c.name)
	}
	return append(out, CategoryGeneral)
}
