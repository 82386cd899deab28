package harness

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Replica  string       // Replica the failure was observed on, if any
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Deliveries to Replica, or all deliveries
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " on %s", e.Replica)
	}
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		if e.Replica != "" && ev.Replica != e.Replica {
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s %s %s %s -> %s", ev.Seq, ev.Replica, ev.Change, ev.Op, ev.DN, ev.Outcome)
		if ev.Code != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Code)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure. Assertions are independent: all of them are
// evaluated even after a failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		for _, err := range evaluate(result, a) {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) []error {
	switch a.Type {
	case AssertConverged:
		if err := assertConverged(result, a); err != nil {
			return []error{err}
		}
		return nil
	case AssertOutcome:
		if err := assertOutcome(result, a); err != nil {
			return []error{err}
		}
		return nil
	}

	var errs []error
	for _, name := range replicasOf(result, a) {
		var err error
		switch a.Type {
		case AssertValues:
			err = assertValues(result, name, a)
		case AssertAbsent:
			err = assertAbsent(result, name, a)
		case AssertTombstone:
			err = assertTombstone(result, name, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// replicasOf returns the replicas a state assertion applies to, sorted.
func replicasOf(result *Result, a Assertion) []string {
	if a.Replica != "" {
		return []string{a.Replica}
	}
	names := make([]string, 0, len(result.State))
	for name := range result.State {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// assertConverged checks that the selected replicas hold identical state.
// The first replica is the reference; each differing entry is reported.
func assertConverged(result *Result, a Assertion) error {
	names := a.Replicas
	if len(names) == 0 {
		names = replicasOf(result, Assertion{})
	}
	if len(names) < 2 {
		return nil
	}

	ref := names[0]
	want := indexState(result.State[ref])
	for _, name := range names[1:] {
		got := indexState(result.State[name])
		if diff := diffState(want, got); diff != "" {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  name,
				Expected: fmt.Sprintf("state identical to %s", ref),
				Actual:   diff,
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func indexState(entries []EntryState) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		b, _ := json.Marshal(e)
		out[e.DN] = string(b)
	}
	return out
}

// diffState describes the first differences between two indexed states, by
// DN in sorted order.
func diffState(want, got map[string]string) string {
	dns := make([]string, 0, len(want)+len(got))
	for dn := range want {
		dns = append(dns, dn)
	}
	for dn := range got {
		if _, ok := want[dn]; !ok {
			dns = append(dns, dn)
		}
	}
	sort.Strings(dns)

	var diffs []string
	for _, dn := range dns {
		w, inWant := want[dn]
		g, inGot := got[dn]
		switch {
		case !inGot:
			diffs = append(diffs, fmt.Sprintf("missing %s", dn))
		case !inWant:
			diffs = append(diffs, fmt.Sprintf("unexpected %s", dn))
		case w != g:
			diffs = append(diffs, fmt.Sprintf("%s differs: want %s, got %s", dn, w, g))
		}
	}
	return strings.Join(diffs, "; ")
}

func assertValues(result *Result, replica string, a Assertion) error {
	dn := dirent.NormalizeDN(a.DN)
	e, ok := result.Find(replica, dn)
	if !ok {
		return &AssertionError{
			Type:     AssertValues,
			Replica:  replica,
			Expected: fmt.Sprintf("entry %s", a.DN),
			Actual:   "entry not found",
			Trace:    result.Trace,
		}
	}

	var got []string
	for _, as := range e.Attrs {
		if strings.EqualFold(as.Type, a.Attr) {
			got = slices.Clone(as.Vals)
			break
		}
	}
	want := slices.Clone(a.Values)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertValues,
			Replica:  replica,
			Expected: fmt.Sprintf("%s of %s = %v", a.Attr, a.DN, want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertAbsent(result *Result, replica string, a Assertion) error {
	if _, ok := result.Find(replica, dirent.NormalizeDN(a.DN)); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Replica:  replica,
			Expected: fmt.Sprintf("no entry %s", a.DN),
			Actual:   "entry exists",
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertTombstone(result *Result, replica string, a Assertion) error {
	e, ok := result.Find(replica, dirent.NormalizeDN(a.DN))
	actual := ""
	switch {
	case !ok:
		actual = "entry not found"
	case !e.Deleted:
		actual = "entry is live"
	default:
		return nil
	}
	return &AssertionError{
		Type:     AssertTombstone,
		Replica:  replica,
		Expected: fmt.Sprintf("deleted object %s", a.DN),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// assertOutcome checks the last delivery of a change to a replica. The
// expected outcome matches either the outcome name or the error or warning
// code.
func assertOutcome(result *Result, a Assertion) error {
	var last *TraceEvent
	for i := range result.Trace {
		ev := &result.Trace[i]
		if ev.Replica == a.Replica && ev.Change == a.Change {
			last = ev
		}
	}

	actual := "never delivered"
	if last != nil {
		if strings.EqualFold(last.Outcome, a.Outcome) || (last.Code != "" && last.Code == a.Outcome) {
			return nil
		}
		actual = last.Outcome
		if last.Code != "" {
			actual += " " + last.Code
		}
	}
	return &AssertionError{
		Type:     AssertOutcome,
		Replica:  a.Replica,
		Expected: fmt.Sprintf("change %s ends %s", a.Change, a.Outcome),
		Actual:   actual,
		Trace:    result.Trace,
	}
}
