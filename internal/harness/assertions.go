package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case TraceSyncType:
		return fmt.Sprintf("sync %s trainer=%s tier=%s success=%t", ev.Chain, ev.Trainer, ev.Tier, ev.Success)
	case TraceRefreshType:
		return fmt.Sprintf("refresh success=%t", ev.Success)
	}
	s := fmt.Sprintf("%s cert=%s trainer=%s -> %s", ev.Kind, ev.Cert, ev.Trainer, ev.Outcome)
	if ev.Reason != "" {
		s += " (" + ev.Reason + ")"
	}
	return s
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertPendingCount:
		return assertPendingCount(result, a)
	case AssertSpecializations:
		return assertSpecializations(result, a)
	case AssertSyncCount:
		return assertCount(result, a, int64(len(result.Syncs())))
	case AssertSyncTier:
		return assertSyncTier(result, a)
	case AssertReloadCount:
		return assertCount(result, a, result.Stats.Reloads)
	case AssertDroppedCount:
		return assertCount(result, a, result.Stats.Dropped)
	case AssertOutcomes:
		return assertOutcomes(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertPendingCount(result *Result, a Assertion) error {
	got := 0
	if result.Snapshot != nil {
		got = result.Snapshot.CountFor(a.Trainer)
	}
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d pending for %s", a.Count, a.Trainer),
			Actual:   fmt.Sprintf("%d pending", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSpecializations(result *Result, a Assertion) error {
	if result.Snapshot == nil {
		return &AssertionError{Type: a.Type, Expected: "a loaded trainer " + a.Trainer, Actual: "no snapshot"}
	}
	t, ok := result.Snapshot.Trainer(a.Trainer)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("trainer %s with specializations %v", a.Trainer, a.Values),
			Actual:   "trainer not loaded",
		}
	}
	want := a.Values
	if want == nil {
		want = []string{}
	}
	got := t.Specializations
	if got == nil {
		got = []string{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSyncTier(result *Result, a Assertion) error {
	var last *TraceEvent
	for _, s := range result.Syncs() {
		if s.Trainer == a.Trainer {
			last = &s
		}
	}
	if last == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a sync chain for %s ending in %s", a.Trainer, a.Tier),
			Actual:   "no sync chain for trainer",
			Trace:    result.Trace,
		}
	}
	if last.Tier != a.Tier {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("last chain for %s ending in %s", a.Trainer, a.Tier),
			Actual:   fmt.Sprintf("ended in %s", last.Tier),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCount(result *Result, a Assertion, got int64) error {
	if got != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d", a.Count),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertOutcomes(result *Result, a Assertion) error {
	got := result.Outcomes()
	if !slices.Equal(got, a.Outcomes) {
		return &AssertionError{
			Type:     a.Type,
			Expected: strings.Join(a.Outcomes, ", "),
			Actual:   strings.Join(got, ", "),
			Trace:    result.Trace,
		}
	}
	return nil
}
