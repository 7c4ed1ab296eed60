package gateway

import "fmt"

// Outcome tags how a gateway call was served.
type Outcome int

const (
	// OK: served by the remote store (or local-only mode) and mirrored.
	OK Outcome = iota
	// Degraded: the remote failed; the local cache served the call.
	Degraded
	// Failed: the call could not be served at all.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reasons attached to Degraded and Failed results.
const (
	ReasonRemoteUnavailable = "remote unavailable"
	ReasonRemoteAbsent      = "remote capability absent"
	ReasonUnauthorized      = "remote rejected credentials"
	ReasonLocalUnavailable  = "local cache unavailable"
)

// Result is the value of a gateway call plus how it was obtained.
// Err holds the remote error behind a Degraded result, or the error
// behind a Failed one.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Reason  string
	Err     error
}

// OK reports whether the call was fully served.
func (r Result[T]) OK() bool { return r.Outcome == OK }

// Usable reports whether Value can be used, degraded or not.
func (r Result[T]) Usable() bool { return r.Outcome != Failed }

func okResult[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: OK}
}

func degradedResult[T any](v T, reason string, err error) Result[T] {
	return Result[T]{Value: v, Outcome: Degraded, Reason: reason, Err: err}
}

func failedResult[T any](reason string, err error) Result[T] {
	var zero T
	return Result[T]{Value: zero, Outcome: Failed, Reason: reason, Err: err}
}
