package harness

import "github.com/roach88/shoplist/internal/ir"

// TraceEvent records what one step did.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Do      string `json:"do"`
	Replica string `json:"replica"` // the replica whose document the step touched
	From    string `json:"from,omitempty"`
	OpID    string `json:"op_id,omitempty"`

	// Applied and Dropped count the ops a delivery admitted past the gate
	// and the duplicates it discarded.
	Applied int `json:"applied,omitempty"`
	Dropped int `json:"dropped,omitempty"`

	Changed bool `json:"changed"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Docs maps each replica id to its final document.
	Docs map[string]ir.Doc `json:"docs"`

	// Duplicates maps each replica id to the inbound ops its gate dropped.
	Duplicates map[string]int `json:"duplicates"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Docs:       make(map[string]ir.Doc),
		Duplicates: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
