package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scriptengine/internal/event"
)

// Scenario describes objects with scripts, a sequence of steps driving
// them and assertions on what the scripts did.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Objects are placed in the world before the first step. Each gets
	// one part holding its scripts.
	Objects []Object `yaml:"objects"`

	// Steps run in order. The harness waits for every script to go idle
	// after each step.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Object is one single-part object.
type Object struct {
	Name    string      `yaml:"name"`
	Scripts []ScriptDef `yaml:"scripts"`
}

// ScriptDef is a script in an object's inventory. Script names are
// unique within a scenario so steps can refer to them.
type ScriptDef struct {
	Name string `yaml:"name"`

	// Source is the Lua source. Exactly one of Source and File is set.
	Source string `yaml:"source,omitempty"`

	// File is a path to the Lua source, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	StartParam int32 `yaml:"start_param,omitempty"`
	PostOnRez  bool  `yaml:"post_on_rez,omitempty"`

	// Stopped leaves the script stopped after it is added.
	Stopped bool `yaml:"stopped,omitempty"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	// Post delivers an event to an object or a single script.
	Post *PostStep `yaml:"post,omitempty"`

	// Advance moves the clock forward and fires due timers once.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Save writes every changed script state.
	Save bool `yaml:"save,omitempty"`

	// Stop and Start change whether a script runs.
	Stop  string `yaml:"stop,omitempty"`
	Start string `yaml:"start,omitempty"`

	// Reset resets a script to its initial state.
	Reset string `yaml:"reset,omitempty"`

	// Restart shuts the engine down and starts a new one over the same
	// store, as a region restart would.
	Restart bool `yaml:"restart,omitempty"`
}

// PostStep targets either every script in Object or the script named
// Script.
type PostStep struct {
	Object string      `yaml:"object,omitempty"`
	Script string      `yaml:"script,omitempty"`
	Event  string      `yaml:"event"`
	Args   []any       `yaml:"args,omitempty"`
	Detect []DetectDef `yaml:"detect,omitempty"`
}

// DetectDef is a detected avatar or object for touch, collision and
// sensor events.
type DetectDef struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "chat": the non-debug chat texts are exactly Lines
	// - "chat_contains": some chat message has Text
	// - "state": Script is in State
	// - "var": variable Var of Script renders as Value
	// - "running": Script's running flag equals Running
	// - "faults": Script reported Count runtime errors
	// - "deleted": Object deleted itself
	Type string `yaml:"type"`

	Script  string   `yaml:"script,omitempty"`
	Object  string   `yaml:"object,omitempty"`
	Lines   []string `yaml:"lines,omitempty"`
	Text    string   `yaml:"text,omitempty"`
	State   string   `yaml:"state,omitempty"`
	Var     string   `yaml:"var,omitempty"`
	Value   string   `yaml:"value,omitempty"`
	Running *bool    `yaml:"running,omitempty"`
	Count   int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertChat         = "chat"
	AssertChatContains = "chat_contains"
	AssertState        = "state"
	AssertVar          = "var"
	AssertRunning      = "running"
	AssertFaults       = "faults"
	AssertDeleted      = "deleted"
)

// LoadScenario reads and parses a scenario YAML file. Script files are
// read relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. Relative script file paths are
// resolved against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := loadSources(&scenario, baseDir); err != nil {
		return nil, err
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// loadSources reads File into Source for every script that names one.
func loadSources(s *Scenario, baseDir string) error {
	for i := range s.Objects {
		for j := range s.Objects[i].Scripts {
			def := &s.Objects[i].Scripts[j]
			if def.File == "" {
				continue
			}
			if def.Source != "" {
				return fmt.Errorf("script %q: source and file are mutually exclusive", def.Name)
			}
			path := def.File
			if !filepath.IsAbs(path) && baseDir != "" {
				path = filepath.Join(baseDir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("script %q: %w", def.Name, err)
			}
			def.Source = string(data)
		}
	}
	return nil
}

// validateScenario checks that required fields are present and that
// every reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("objects list is required and must be non-empty")
	}

	objects := make(map[string]bool)
	scripts := make(map[string]bool)
	for i, obj := range s.Objects {
		if obj.Name == "" {
			return fmt.Errorf("objects[%d]: name is required", i)
		}
		if objects[obj.Name] {
			return fmt.Errorf("objects[%d]: duplicate object %q", i, obj.Name)
		}
		objects[obj.Name] = true
		for j, def := range obj.Scripts {
			if def.Name == "" {
				return fmt.Errorf("objects[%d].scripts[%d]: name is required", i, j)
			}
			if scripts[def.Name] {
				return fmt.Errorf("objects[%d].scripts[%d]: duplicate script %q", i, j, def.Name)
			}
			if def.Source == "" {
				return fmt.Errorf("objects[%d].scripts[%d]: source or file is required", i, j)
			}
			scripts[def.Name] = true
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, objects, scripts); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], objects, scripts); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step, objects, scripts map[string]bool) error {
	set := 0
	for _, ok := range []bool{
		step.Post != nil, step.Advance != 0, step.Save, step.Stop != "",
		step.Start != "", step.Reset != "", step.Restart,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}

	switch {
	case step.Post != nil:
		p := step.Post
		if p.Event == "" {
			return fmt.Errorf("post: event is required")
		}
		if (p.Object == "") == (p.Script == "") {
			return fmt.Errorf("post: exactly one of object and script is required")
		}
		if p.Object != "" && !objects[p.Object] {
			return fmt.Errorf("post: unknown object %q", p.Object)
		}
		if p.Script != "" && !scripts[p.Script] {
			return fmt.Errorf("post: unknown script %q", p.Script)
		}
		for j, arg := range p.Args {
			if _, err := toValue(arg); err != nil {
				return fmt.Errorf("post: args[%d]: %w", j, err)
			}
		}
	case step.Advance < 0:
		return fmt.Errorf("advance must be positive")
	}

	for _, name := range []string{step.Stop, step.Start, step.Reset} {
		if name != "" && !scripts[name] {
			return fmt.Errorf("unknown script %q", name)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, objects, scripts map[string]bool) error {
	needScript := func() error {
		if a.Script == "" {
			return fmt.Errorf("assertions[%d]: script is required for %s", index, a.Type)
		}
		if !scripts[a.Script] {
			return fmt.Errorf("assertions[%d]: unknown script %q", index, a.Script)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertChat:
		return nil
	case AssertChatContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for chat_contains", index)
		}
	case AssertState:
		if err := needScript(); err != nil {
			return err
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for state", index)
		}
	case AssertVar:
		if err := needScript(); err != nil {
			return err
		}
		if a.Var == "" {
			return fmt.Errorf("assertions[%d]: var is required for var", index)
		}
	case AssertRunning:
		if err := needScript(); err != nil {
			return err
		}
		if a.Running == nil {
			return fmt.Errorf("assertions[%d]: running is required for running", index)
		}
	case AssertFaults:
		if err := needScript(); err != nil {
			return err
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for faults", index)
		}
	case AssertDeleted:
		if !objects[a.Object] {
			return fmt.Errorf("assertions[%d]: unknown object %q", index, a.Object)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toValue converts a decoded YAML scalar, list or map to a script value.
// Maps with x, y and z become vectors, or rotations when s is present. A
// map holding only key becomes a key.
func toValue(v any) (event.Value, error) {
	switch x := v.(type) {
	case int:
		return event.Integer(int32(x)), nil
	case float64:
		return event.Float(x), nil
	case bool:
		if x {
			return event.Integer(1), nil
		}
		return event.Integer(0), nil
	case string:
		return event.String(x), nil
	case []any:
		list := make(event.List, 0, len(x))
		for i, item := range x {
			iv, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			list = append(list, iv)
		}
		return list, nil
	case map[string]any:
		return toVector(x)
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

func toVector(m map[string]any) (event.Value, error) {
	comp := func(name string) (float64, error) {
		switch n := m[name].(type) {
		case int:
			return float64(n), nil
		case float64:
			return n, nil
		default:
			return 0, fmt.Errorf("component %s must be a number", name)
		}
	}
	if _, ok := m["key"]; ok && len(m) == 1 {
		s, ok := m["key"].(string)
		if !ok {
			return nil, fmt.Errorf("key must be a string")
		}
		return event.Key(s), nil
	}

	var xyz [3]float64
	for i, name := range []string{"x", "y", "z"} {
		f, err := comp(name)
		if err != nil {
			return nil, err
		}
		xyz[i] = f
	}
	switch len(m) {
	case 3:
		return event.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
	case 4:
		s, err := comp("s")
		if err != nil {
			return nil, err
		}
		return event.Rotation{X: xyz[0], Y: xyz[1], Z: xyz[2], S: s}, nil
	default:
		return nil, fmt.Errorf("map must have x, y, z and optionally s")
	}
}
