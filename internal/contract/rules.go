package contract

import (
	"path"
	"regexp"
	"strings"
)

// Rule maps a predicate over the task description to a classification.
// Rules are evaluated in order; the first match wins.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(description string) bool
}

var (
	advisoryPattern = regexp.MustCompile(`(?i)\b(investigat\w*|research\w*|explor\w*|plan|plans|planned|planning|design\w*|audit\w*|review\w*|analy[sz]\w*)\b`)
	skipPattern     = regexp.MustCompile(`(?i)\b(document\w*|readme\w*|comment\w*|typos?|spelling|misspell\w*)\b`)
)

// DefaultRules returns the built-in rule table. Advisory precedes skip so
// exploratory framing wins when both keyword sets appear.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "advisory-keywords", Kind: Advisory, Match: advisoryPattern.MatchString},
		{Name: "skip-keywords", Kind: Skip, Match: skipPattern.MatchString},
	}
}

// classify returns the first matching rule, or the verifiable default.
func classify(rules []Rule, description string) (Kind, string) {
	for _, r := range rules {
		if r.Match(description) {
			return r.Kind, r.Name
		}
	}
	return Verifiable, "default"
}

// ArtifactClass is how an expected artifact path is treated.
type ArtifactClass int

const (
	ArtifactOther ArtifactClass = iota
	ArtifactInteractive
	ArtifactLogic
)

var (
	interactiveExts = map[string]bool{
		".ui": true, ".tsx": true, ".jsx": true, ".vue": true, ".svelte": true,
		".html": true, ".css": true, ".scss": true, ".xib": true, ".storyboard": true,
	}
	interactiveDirs = map[string]bool{
		"components": true, "pages": true, "views": true, "screens": true, "ui": true,
	}
	logicExts = map[string]bool{
		".go": true, ".ts": true, ".js": true, ".mjs": true, ".py": true, ".rs": true,
		".java": true, ".kt": true, ".rb": true, ".cs": true, ".swift": true,
		".c": true, ".cc": true, ".cpp": true, ".h": true, ".php": true, ".ex": true,
	}
)

// ClassifyArtifact decides whether a path hint looks like interactive
// surface code, pure logic, or neither.
func ClassifyArtifact(p string) ArtifactClass {
	p = strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	ext := path.Ext(p)
	if interactiveExts[ext] {
		return ArtifactInteractive
	}
	if logicExts[ext] {
		for _, dir := range strings.Split(path.Dir(p), "/") {
			if interactiveDirs[dir] {
				return ArtifactInteractive
			}
		}
		return ArtifactLogic
	}
	return ArtifactOther
}

var testSuffixes = []string{"_test", ".test", ".spec", "_spec"}

// DerivePattern turns an artifact path into a unit-test pattern: the base
// name without extension or test suffix. "src/SignupForm.ui" -> "SignupForm".
func DerivePattern(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.TrimPrefix(base, "test_")
	for _, s := range testSuffixes {
		base = strings.TrimSuffix(base, s)
	}
	return base
}
