package harness

// TraceEvent records one executed step. Entities appear by alias.
type TraceEvent struct {
	Step    int    `json:"step"` // 1-based
	Op      string `json:"op"`
	Actor   string `json:"actor,omitempty"`
	Subject string `json:"subject,omitempty"`
	Target  string `json:"target,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`

	// Outcome is the service.Outcome of the step.
	Outcome string `json:"outcome"`
	Rule    string `json:"rule,omitempty"`

	// Intake results.
	Decision string `json:"decision,omitempty"`
	Matched  string `json:"matched,omitempty"`
	Reused   bool   `json:"reused,omitempty"`

	// Seq is the audit sequence number of a committed transition.
	Seq int64 `json:"seq,omitempty"`

	// Race results.
	Contenders []string `json:"contenders,omitempty"`
	Committed  int      `json:"committed,omitempty"`
	Conflicts  int      `json:"conflicts,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
