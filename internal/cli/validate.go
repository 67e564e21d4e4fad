package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/luascript"
)

// ScriptValidation is the validation result for one script file.
type ScriptValidation struct {
	Path   string              `json:"path"`
	Valid  bool                `json:"valid"`
	Error  string              `json:"error,omitempty"`
	States map[string][]string `json:"states,omitempty"` // state -> handled events
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool               `json:"valid"`
	Scripts []ScriptValidation `json:"scripts"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <script.lua>...",
		Short: "Check that scripts load",
		Long: `Compile each script, run its top level and check its states table.

Prints the states each script defines and the events each state handles.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result := ValidationResult{Valid: true}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		sv := validateScript(path)
		if !sv.Valid {
			result.Valid = false
		}
		result.Scripts = append(result.Scripts, sv)
	}

	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		if err := formatter.Failure(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	w := cmd.OutOrStdout()
	for _, sv := range result.Scripts {
		if !sv.Valid {
			fmt.Fprintf(w, "✗ %s\n  %s\n", sv.Path, sv.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", sv.Path)
		for _, name := range sortedStates(sv.States) {
			fmt.Fprintf(w, "  %s: %s\n", name, strings.Join(sv.States[name], ", "))
		}
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// validateScript loads one script and lists its handlers.
func validateScript(path string) ScriptValidation {
	sv := ScriptValidation{Path: path}

	source, err := os.ReadFile(path)
	if err != nil {
		sv.Error = err.Error()
		return sv
	}

	s, err := luascript.New(filepath.Base(path), string(source))
	if err != nil {
		sv.Error = err.Error()
		return sv
	}
	defer s.Close()

	sv.Valid = true
	sv.States = make(map[string][]string)
	for _, state := range s.States() {
		flags := s.GetStateEventFlags(state)
		handled := []string{}
		for _, name := range event.KnownEvents() {
			if flags.Has(event.FlagFor(name)) {
				handled = append(handled, name)
			}
		}
		sv.States[state] = handled
	}
	return sv
}

// sortedStates returns the state names with default first.
func sortedStates(states map[string][]string) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "default" || names[j] == "default" {
			return names[i] == "default"
		}
		return names[i] < names[j]
	})
	return names
}
