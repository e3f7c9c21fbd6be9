// Package contract turns a task description into a verification contract
// and runs that contract against a quality checker.
//
// Classification is an ordered rule table evaluated top-down (see
// [DefaultRules]): the first matching rule decides whether a task is
// [Advisory], [Skip] or [Verifiable]. Generation is deterministic: the
// same description and artifact set always produce the same criteria and
// fingerprint.
package contract

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the contract classification.
type Kind int

const (
	// Verifiable tasks are gated on static analysis plus tests derived from artifacts.
	Verifiable Kind = iota
	// Advisory tasks have no automatable criteria; output is logged for review.
	Advisory
	// Skip tasks are trivial changes gated on static analysis only.
	Skip
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Advisory:
		return "advisory"
	case Skip:
		return "skip"
	case Verifiable:
		return "verifiable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a wire name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "verifiable":
		return Verifiable, nil
	case "advisory":
		return Advisory, nil
	case "skip":
		return Skip, nil
	default:
		return Verifiable, fmt.Errorf("unknown contract type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Activity names a quality checker activity.
type Activity string

const (
	ActivityTypecheck Activity = "typecheck"
	ActivityLint      Activity = "lint"
	ActivityUnitTest  Activity = "unit-test"
	ActivityE2ETest   Activity = "end-to-end-test"
)

// TimingImmediate runs end-to-end tests right after the task instead of
// deferring them to a batch run.
const TimingImmediate = "immediate"

// Criterion is one checkable {activity, descriptor} pair.
type Criterion struct {
	Activity Activity `json:"activity" yaml:"activity"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Timing   string   `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// Key identifies a criterion for deduplication.
func (c Criterion) Key() string {
	return string(c.Activity) + "|" + c.Pattern + "|" + c.Timing
}

// Descriptor renders the criterion's parameters, e.g. "pattern=SignupForm".
func (c Criterion) Descriptor() string {
	switch {
	case c.Pattern != "" && c.Timing != "":
		return "pattern=" + c.Pattern + " timing=" + c.Timing
	case c.Pattern != "":
		return "pattern=" + c.Pattern
	case c.Timing != "":
		return "timing=" + c.Timing
	default:
		return ""
	}
}

// String renders the criterion as "activity(descriptor)".
func (c Criterion) String() string {
	if d := c.Descriptor(); d != "" {
		return fmt.Sprintf("%s(%s)", c.Activity, d)
	}
	return string(c.Activity)
}

// Source records the inputs a contract was generated from.
type Source struct {
	Description       string   `json:"description" yaml:"description"`
	ExpectedArtifacts []string `json:"expected_artifacts,omitempty" yaml:"expected_artifacts,omitempty"`
	Rule              string   `json:"rule" yaml:"rule"`
}

// Contract is the immutable verification contract attached to a task.
// Everything but GeneratedAt derives from the generation inputs;
// GeneratedAt is stamped once, when the contract is attached.
type Contract struct {
	Type          Kind        `json:"type" yaml:"type"`
	Criteria      []Criterion `json:"criteria" yaml:"criteria"`
	GeneratedFrom Source      `json:"generated_from" yaml:"generated_from"`
	GeneratedAt   time.Time   `json:"generated_at,omitzero" yaml:"generated_at,omitempty"`
	Fingerprint   string      `json:"fingerprint" yaml:"fingerprint"`
}

// clone returns a copy that shares no slices with c.
func (c *Contract) clone() *Contract {
	out := *c
	out.Criteria = append([]Criterion(nil), c.Criteria...)
	out.GeneratedFrom.ExpectedArtifacts = append([]string(nil), c.GeneratedFrom.ExpectedArtifacts...)
	if out.Criteria == nil {
		out.Criteria = []Criterion{}
	}
	return &out
}

// MarshalYAML renders the kind by name for yaml.v3.
func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// String renders the contract as indented JSON.
func (c *Contract) String() string {
	b, _ := json.MarshalIndent(c, "", "  ")
	return string(b)
}
