package harness

// TraceEvent records the delivery of one change to one replica.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Replica string `json:"replica"`
	Change  string `json:"change"`
	Op      string `json:"op"`
	DN      string `json:"dn"`

	// Outcome is "applied", "noop", "warning" or "error".
	Outcome string `json:"outcome"`

	// Code is the warning or error code, if any.
	Code string `json:"code,omitempty"`

	Mods int `json:"mods"`
}

// AttrState is one attribute of an entry with its local sequence numbers
// stripped, so states from different replicas compare equal.
type AttrState struct {
	Type string   `json:"type"`
	Vals []string `json:"vals,omitempty"`

	// Meta is the attribute metadata with a zero local USN.
	Meta string `json:"meta"`

	// ValueMeta holds value metadata items with a zero local USN.
	ValueMeta []string `json:"value_meta,omitempty"`
}

// EntryState is one entry of a replica.
type EntryState struct {
	DN      string      `json:"dn"`
	Deleted bool        `json:"deleted,omitempty"`
	Attrs   []AttrState `json:"attrs"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every delivery, replica by replica, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is each replica's final state, ordered by normalized DN.
	State map[string][]EntryState `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]EntryState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a delivery record.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Find returns the entry named by the normalized dn on replica, if any.
func (r *Result) Find(replica, normDN string) (EntryState, bool) {
	for _, e := range r.State[replica] {
		if e.DN == normDN {
			return e, true
		}
	}
	return EntryState{}, false
}
