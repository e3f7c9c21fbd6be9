package contract

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEngine_Generate(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		artifacts []string
		wantType  Kind
		wantRule  string
		want      []Criterion
	}{
		{
			name:      "interactive artifact",
			desc:      "Add input validation to signup form",
			artifacts: []string{"SignupForm.ui"},
			wantType:  Verifiable,
			wantRule:  "default",
			want: []Criterion{
				{Activity: ActivityTypecheck},
				{Activity: ActivityLint},
				{Activity: ActivityUnitTest, Pattern: "SignupForm"},
				{Activity: ActivityE2ETest, Timing: TimingImmediate},
			},
		},
		{
			name:      "advisory",
			desc:      "Investigate slow checkout query",
			artifacts: []string{"checkout.go"},
			wantType:  Advisory,
			wantRule:  "advisory-keywords",
			want:      []Criterion{},
		},
		{
			name:     "skip",
			desc:     "Fix typo in README",
			wantType: Skip,
			wantRule: "skip-keywords",
			want:     []Criterion{{Activity: ActivityTypecheck}, {Activity: ActivityLint}},
		},
		{
			name:     "advisory wins over skip",
			desc:     "Review the README for outdated sections",
			wantType: Advisory,
			wantRule: "advisory-keywords",
			want:     []Criterion{},
		},
		{
			name:     "empty description falls through",
			desc:     "",
			wantType: Verifiable,
			wantRule: "default",
			want:     []Criterion{{Activity: ActivityTypecheck}, {Activity: ActivityLint}},
		},
		{
			name:      "logic artifacts only get unit tests",
			desc:      "Add retry to payment client",
			artifacts: []string{"internal/payment/client.go", "internal/payment/client_test.go"},
			wantType:  Verifiable,
			wantRule:  "default",
			want: []Criterion{
				{Activity: ActivityTypecheck},
				{Activity: ActivityLint},
				{Activity: ActivityUnitTest, Pattern: "client"},
			},
		},
		{
			name:      "logic under a components dir is interactive",
			desc:      "Wire up the cart badge",
			artifacts: []string{"src/components/CartBadge.ts", "README.txt"},
			wantType:  Verifiable,
			wantRule:  "default",
			want: []Criterion{
				{Activity: ActivityTypecheck},
				{Activity: ActivityLint},
				{Activity: ActivityUnitTest, Pattern: "CartBadge"},
				{Activity: ActivityE2ETest, Timing: TimingImmediate},
			},
		},
		{
			name:     "keyword inside a longer word does not match",
			desc:     "Add explanation field to planner output",
			wantType: Verifiable,
			wantRule: "default",
			want:     []Criterion{{Activity: ActivityTypecheck}, {Activity: ActivityLint}},
		},
	}

	e := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.Generate(tt.desc, tt.artifacts)
			if c.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", c.Type, tt.wantType)
			}
			if c.GeneratedFrom.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", c.GeneratedFrom.Rule, tt.wantRule)
			}
			if diff := cmp.Diff(tt.want, c.Criteria); diff != "" {
				t.Errorf("Criteria mismatch (-want +got):\n%s", diff)
			}
			if len(c.Fingerprint) != 16 {
				t.Errorf("Fingerprint = %q", c.Fingerprint)
			}
		})
	}
}

func TestEngine_Deterministic(t *testing.T) {
	const desc = "Add input validation to signup form"
	a := newTestEngine(t)
	b := newTestEngine(t)

	first := a.Generate(desc, []string{"SignupForm.ui", "validate.go"})
	again := a.Generate(desc, []string{" validate.go", "SignupForm.ui", "validate.go"})
	other := b.Generate(desc, []string{"validate.go", "SignupForm.ui"})

	// Push the first contract out of the memo.
	for i := range 5000 {
		a.Generate(fmt.Sprintf("Refactor module %d", i), []string{fmt.Sprintf("pkg/m%d.go", i)})
	}
	evicted := a.Generate(desc, []string{"SignupForm.ui", "validate.go"})

	for name, c := range map[string]*Contract{"regenerated": again, "other engine": other, "after eviction": evicted} {
		if diff := cmp.Diff(first, c); diff != "" {
			t.Errorf("%s contract differs (-first +got):\n%s", name, diff)
		}
	}
	if !first.GeneratedAt.IsZero() {
		t.Errorf("GeneratedAt = %v, want zero until attached", first.GeneratedAt)
	}
}

func TestEngine_GenerateReturnsCopy(t *testing.T) {
	e := newTestEngine(t)
	c := e.Generate("Add login button", []string{"LoginButton.tsx"})
	c.Criteria[0].Activity = "mutated"
	c.GeneratedFrom.ExpectedArtifacts[0] = "mutated"

	again := e.Generate("Add login button", []string{"LoginButton.tsx"})
	if again.Criteria[0].Activity != ActivityTypecheck {
		t.Error("memoized contract was mutated through a returned copy")
	}
	if again.GeneratedFrom.ExpectedArtifacts[0] != "LoginButton.tsx" {
		t.Error("memoized artifacts were mutated through a returned copy")
	}
}

func TestEngine_WithRules(t *testing.T) {
	rules := append([]Rule{{
		Name:  "spike",
		Kind:  Advisory,
		Match: func(d string) bool { return strings.HasPrefix(d, "spike:") },
	}}, DefaultRules()...)
	e := newTestEngine(t, WithRules(rules))

	if c := e.Generate("spike: try a new cache", nil); c.Type != Advisory || c.GeneratedFrom.Rule != "spike" {
		t.Errorf("got %v via %q", c.Type, c.GeneratedFrom.Rule)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("a", []string{"b"}) == Fingerprint("ab", nil) {
		t.Error("fingerprint must separate description from artifacts")
	}
	if Fingerprint("x", []string{"a", "b"}) != Fingerprint("x", []string{"a", "b"}) {
		t.Error("fingerprint is not stable")
	}
}

func TestKind_Text(t *testing.T) {
	for _, k := range []Kind{Verifiable, Advisory, Skip} {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got Kind
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != k {
			t.Errorf("round trip %v -> %v", k, got)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Error("ParseKind(bogus) should fail")
	}
}

func TestCriterion_String(t *testing.T) {
	tests := []struct {
		c    Criterion
		want string
	}{
		{Criterion{Activity: ActivityLint}, "lint"},
		{Criterion{Activity: ActivityUnitTest, Pattern: "SignupForm"}, "unit-test(pattern=SignupForm)"},
		{Criterion{Activity: ActivityE2ETest, Timing: TimingImmediate}, "end-to-end-test(timing=immediate)"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
