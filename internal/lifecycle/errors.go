package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInWindow means a start was attempted outside the activation
	// window of the assignment.
	ErrNotInWindow = errors.New("assignment is not within its start window")
	// ErrTerminal means the assignment already finished in a state that the
	// requested transition cannot leave.
	ErrTerminal = errors.New("assignment is in a terminal state")
)

// ValidationError reports a missing or malformed draft field. It is returned
// before the store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
