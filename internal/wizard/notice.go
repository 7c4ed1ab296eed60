package wizard

import (
	"time"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
)

// Level grades a notice.
type Level string

const (
	// LevelInfo reports something useful, like an auto-fill merge.
	LevelInfo Level = "info"
	// LevelWarn is the non-blocking degraded-remote notice.
	LevelWarn Level = "warn"
	// LevelError needs user action (rejected credentials) but did not block.
	LevelError Level = "error"
	// LevelFatal means the local cache is gone; progress may be lost.
	LevelFatal Level = "fatal"
)

// Notice is a non-blocking message raised by a side effect.
type Notice struct {
	Level   Level        `json:"level"`
	Stage   domain.Stage `json:"stage"`
	Op      string       `json:"op"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// levelFor grades a non-OK gateway result.
func levelFor[T any](r gateway.Result[T]) Level {
	switch {
	case r.Reason == gateway.ReasonUnauthorized:
		return LevelError
	case r.Reason == gateway.ReasonLocalUnavailable && r.Outcome == gateway.Failed:
		return LevelFatal
	default:
		return LevelWarn
	}
}
