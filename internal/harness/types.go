package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/wizard"
)

// TraceEvent records what one step did: its outcome, the stage it left
// the machine on, the remote calls it caused, and the notices it raised.
type TraceEvent struct {
	Step    int             `json:"step"`
	Do      string          `json:"do"`
	Outcome string          `json:"outcome"`
	Stage   string          `json:"stage"`
	Remote  []string        `json:"remote,omitempty"`
	Notices []wizard.Notice `json:"notices,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists the failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Session is the live session after the last step.
	Session domain.Session `json:"session"`

	// Notices are every notice raised, oldest first.
	Notices []wizard.Notice `json:"notices,omitempty"`

	// RemoteCalls are the remote operations invoked, in order.
	RemoteCalls []string `json:"remote_calls,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Format renders the trace as stable text, one step per line with its
// remote calls and notices indented beneath.
func (r *Result) Format(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, ev := range r.Trace {
		fmt.Fprintf(&b, "%d %s: %s stage=%s\n", ev.Step, ev.Do, ev.Outcome, ev.Stage)
		if len(ev.Remote) > 0 {
			fmt.Fprintf(&b, "  remote: %s\n", strings.Join(ev.Remote, ", "))
		}
		for _, n := range ev.Notices {
			fmt.Fprintf(&b, "  notice: %s %s %q\n", n.Level, n.Op, n.Message)
		}
	}
	return b.String()
}
