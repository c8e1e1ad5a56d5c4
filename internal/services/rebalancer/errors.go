package rebalancer

import (
	"errors"
	"fmt"
)

// PreconditionError is an explicit rejection of an external entry point:
// the engine is not in a state where the operation may run. Callers retry
// later; the engine never retries on its own.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func precondition(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// IsPrecondition reports whether err is an entry-guard rejection.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
