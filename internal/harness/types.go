package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/canvassync/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the coordinator's decisions in order.
	Trace []engine.TraceEvent `json:"-"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	FinalIDs           []string   `json:"final_ids"`
	Saves              [][]string `json:"saves"`
	SaveAttempts       int        `json:"save_attempts"`
	Loads              int        `json:"loads"`
	RealtimeBroadcasts int        `json:"realtime_broadcasts"`
	HTTPBroadcasts     int        `json:"http_broadcasts"`

	start time.Time
}

// NewResult creates a passing result for a run starting at start.
func NewResult(start time.Time) *Result {
	return &Result{Pass: true, Errors: []string{}, start: start}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Kinds returns the trace kinds in order.
func (r *Result) Kinds() []string {
	kinds := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		kinds[i] = string(ev.Kind)
	}
	return kinds
}

// Render formats the trace one event per line:
//
//	t=2.8s save ids=[el-1,el-2]
//
// Offsets are virtual time since the session started.
func (r *Result) Render() string {
	var buf strings.Builder
	for _, ev := range r.Trace {
		buf.WriteString(renderEvent(ev, r.start))
		buf.WriteByte('\n')
	}
	return buf.String()
}

func renderEvent(ev engine.TraceEvent, start time.Time) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "t=%s %s", ev.At.Sub(start), ev.Kind)
	if ev.Op != "" {
		fmt.Fprintf(&buf, " op=%s", ev.Op)
	}
	if ev.ElementID != "" {
		fmt.Fprintf(&buf, " id=%s", ev.ElementID)
	}
	if ev.IDs != nil {
		fmt.Fprintf(&buf, " ids=[%s]", strings.Join(ev.IDs, ","))
	}
	if ev.Err != nil {
		fmt.Fprintf(&buf, " err=%q", ev.Err.Error())
	}
	return buf.String()
}
