package harness

// Result is the outcome of a scenario run.
type Result struct {
	// Scenario is the name of the scenario that produced the result.
	Scenario string `json:"scenario"`

	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Chat is every chat message emitted during the run, in order.
	Chat []ChatLine `json:"chat"`

	// Scripts describes each script at the end of the run, in
	// declaration order.
	Scripts []ScriptResult `json:"scripts"`

	// Deleted lists the objects that deleted themselves.
	Deleted []string `json:"deleted,omitempty"`
}

// ChatLine is one chat message as seen by the harness.
type ChatLine struct {
	Channel int32  `json:"channel"`
	Type    string `json:"type"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// ScriptResult is the final state of one script.
type ScriptResult struct {
	Name       string      `json:"name"`
	Object     string      `json:"object"`
	State      string      `json:"state"`
	Running    bool        `json:"running"`
	SelfDelete bool        `json:"self_delete,omitempty"`
	Events     uint64      `json:"events"`
	Faults     uint64      `json:"faults"`
	Vars       []VarResult `json:"vars,omitempty"`
}

// VarResult is one global variable of a script.
type VarResult struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Chat:     []ChatLine{},
		Scripts:  []ScriptResult{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Script returns the result for the named script.
func (r *Result) Script(name string) (ScriptResult, bool) {
	for _, s := range r.Scripts {
		if s.Name == name {
			return s, true
		}
	}
	return ScriptResult{}, false
}

// Var returns a variable of a script result.
func (s ScriptResult) Var(name string) (VarResult, bool) {
	for _, v := range s.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return VarResult{}, false
}
