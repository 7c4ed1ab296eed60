package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/casewise/internal/domain"
)

// StageError is a blocking failure surfaced to the user at one stage.
type StageError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Stage is where the failure happened.
	Stage domain.Stage

	// Message is the stage-local, human-readable text.
	Message string

	// Fields names the offending inputs for validation failures.
	Fields []string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes stage errors.
type ErrorCode string

const (
	// CodeValidation means the stage's exit rules rejected the input.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeAuthentication means the remote rejected our credentials.
	CodeAuthentication ErrorCode = "AUTHENTICATION"

	// CodeDataIntegrity means an entity could not be normalized.
	CodeDataIntegrity ErrorCode = "DATA_INTEGRITY"

	// CodeStorageUnavailable means the local cache cannot be used.
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// CodeRateLimited means too many account requests for one email.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// CodePrecondition means the operation is not allowed in this state.
	CodePrecondition ErrorCode = "PRECONDITION"
)

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s at %s: %s", e.Code, e.Stage, e.Message)
	if len(e.Fields) > 0 {
		msg += " [" + strings.Join(e.Fields, ", ") + "]"
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

// CodeOf returns the code of the StageError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsBlocking reports whether err should stop the user where they are.
// Every StageError blocks; other errors are programmer errors.
func IsBlocking(err error) bool {
	return CodeOf(err) != ""
}

func stageErr(code ErrorCode, stage domain.Stage, msg string, cause error) *StageError {
	return &StageError{Code: code, Stage: stage, Message: msg, Err: cause}
}
