package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTranscript renders a result as plain text for golden comparison
// and terminal output.
func FormatTranscript(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Scenario)

	b.WriteString("chat:\n")
	for _, line := range r.Chat {
		fmt.Fprintf(&b, "  [%s %d] %s: %s\n", line.Type, line.Channel, line.From, line.Text)
	}

	b.WriteString("scripts:\n")
	for _, s := range r.Scripts {
		fmt.Fprintf(&b, "  %s (%s): state=%s running=%t events=%d faults=%d",
			s.Name, s.Object, s.State, s.Running, s.Events, s.Faults)
		if s.SelfDelete {
			b.WriteString(" self-delete")
		}
		b.WriteString("\n")
		for _, v := range s.Vars {
			fmt.Fprintf(&b, "    %s %s = %s\n", v.Type, v.Name, v.Value)
		}
	}

	if len(r.Deleted) > 0 {
		fmt.Fprintf(&b, "deleted: %s\n", strings.Join(r.Deleted, ", "))
	}
	return b.String()
}

// RunWithGolden executes a scenario and compares its transcript against a
// golden file. The golden file is stored in
// testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Test failure (via goldie) occurs if the transcript doesn't match the
// golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(FormatTranscript(result)))
}
