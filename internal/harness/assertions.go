package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/scriptengine/internal/world"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Script or object the assertion is about
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// evaluateAssertions checks every assertion and records failures in r.
func evaluateAssertions(assertions []Assertion, r *Result) {
	for _, a := range assertions {
		if err := evaluate(a, r); err != nil {
			r.AddError(err.Error())
		}
	}
}

func evaluate(a Assertion, r *Result) error {
	switch a.Type {
	case AssertChat:
		return assertChat(r, a.Lines)
	case AssertChatContains:
		return assertChatContains(r, a.Text)
	case AssertDeleted:
		if !slices.Contains(r.Deleted, a.Object) {
			return &AssertionError{Type: a.Type, Subject: a.Object, Expected: "deleted", Actual: "present"}
		}
		return nil
	}

	s, ok := r.Script(a.Script)
	if !ok {
		return &AssertionError{Type: a.Type, Subject: a.Script, Expected: "script loaded", Actual: "not loaded"}
	}
	switch a.Type {
	case AssertState:
		if s.State != a.State {
			return &AssertionError{Type: a.Type, Subject: a.Script, Expected: a.State, Actual: s.State}
		}
	case AssertVar:
		v, ok := s.Var(a.Var)
		if !ok {
			return &AssertionError{Type: a.Type, Subject: a.Script, Expected: fmt.Sprintf("%s = %q", a.Var, a.Value), Actual: "no such variable"}
		}
		if v.Value != a.Value {
			return &AssertionError{Type: a.Type, Subject: a.Script, Expected: fmt.Sprintf("%s = %q", a.Var, a.Value), Actual: fmt.Sprintf("%q", v.Value)}
		}
	case AssertRunning:
		if s.Running != *a.Running {
			return &AssertionError{Type: a.Type, Subject: a.Script, Expected: fmt.Sprint(*a.Running), Actual: fmt.Sprint(s.Running)}
		}
	case AssertFaults:
		if s.Faults != uint64(a.Count) {
			return &AssertionError{Type: a.Type, Subject: a.Script, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(s.Faults)}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// chatTexts returns the texts of chat lines not on the debug channel.
func chatTexts(r *Result) []string {
	texts := []string{}
	for _, line := range r.Chat {
		if line.Channel == world.DebugChannel {
			continue
		}
		texts = append(texts, line.Text)
	}
	return texts
}

func assertChat(r *Result, want []string) error {
	got := chatTexts(r)
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{Type: AssertChat, Expected: quoteAll(want), Actual: quoteAll(got)}
	}
	return nil
}

func assertChatContains(r *Result, text string) error {
	for _, line := range r.Chat {
		if line.Text == text {
			return nil
		}
	}
	return &AssertionError{Type: AssertChatContains, Expected: fmt.Sprintf("%q", text), Actual: fmt.Sprintf("%d messages without it", len(r.Chat))}
}

func quoteAll(lines []string) string {
	quoted := make([]string, len(lines))
	for i, l := range lines {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
