package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the rendered trace to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Trace    string // Rendered trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Trace != "" {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, line := range strings.Split(strings.TrimRight(e.Trace, "\n"), "\n") {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	return buf.String()
}

// evaluate runs every assertion and records failures on result.
func evaluate(assertions []Assertion, result *Result) {
	for _, a := range assertions {
		if err := check(a, result); err != nil {
			result.AddError(err.Error())
		}
	}
}

func check(a Assertion, r *Result) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: r.Render()}
	}

	switch a.Type {
	case AssertSaveCount:
		if got := len(r.Saves); got != a.Count {
			return fail(fmt.Sprintf("%d successful saves", a.Count), fmt.Sprintf("%d", got))
		}

	case AssertSaveAttempts:
		if r.SaveAttempts != a.Count {
			return fail(fmt.Sprintf("%d save attempts", a.Count), fmt.Sprintf("%d", r.SaveAttempts))
		}

	case AssertLoadCount:
		if r.Loads != a.Count {
			return fail(fmt.Sprintf("%d loads", a.Count), fmt.Sprintf("%d", r.Loads))
		}

	case AssertBroadcastCount:
		got := r.RealtimeBroadcasts + r.HTTPBroadcasts
		switch a.Via {
		case "realtime":
			got = r.RealtimeBroadcasts
		case "http":
			got = r.HTTPBroadcasts
		}
		if got != a.Count {
			via := ""
			if a.Via != "" {
				via = " via " + a.Via
			}
			return fail(fmt.Sprintf("%d broadcasts%s", a.Count, via), fmt.Sprintf("%d", got))
		}

	case AssertFinalIDs:
		if !sameIDs(r.FinalIDs, a.IDs) {
			return fail(formatIDs(a.IDs), formatIDs(r.FinalIDs))
		}

	case AssertSavedIDs:
		if len(r.Saves) == 0 {
			return fail(formatIDs(a.IDs), "no successful save")
		}
		last := r.Saves[len(r.Saves)-1]
		if !sameIDs(last, a.IDs) {
			return fail(formatIDs(a.IDs), formatIDs(last))
		}

	case AssertTraceOrder:
		if !isSubsequence(r.Kinds(), a.Kinds) {
			return fail("kinds in order "+strings.Join(a.Kinds, " -> "), strings.Join(r.Kinds(), " -> "))
		}

	case AssertTraceCount:
		got := 0
		for _, k := range r.Kinds() {
			if k == a.Kind {
				got++
			}
		}
		if got != a.Count {
			return fail(fmt.Sprintf("%s %d times", a.Kind, a.Count), fmt.Sprintf("%d times", got))
		}
	}
	return nil
}

// sameIDs treats nil and empty as equal.
func sameIDs(got, want []string) bool {
	if len(got) == 0 && len(want) == 0 {
		return true
	}
	return slices.Equal(got, want)
}

func formatIDs(ids []string) string {
	return "[" + strings.Join(ids, ",") + "]"
}

// isSubsequence reports whether want appears in seq in order, gaps allowed.
func isSubsequence(seq, want []string) bool {
	i := 0
	for _, s := range seq {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}
