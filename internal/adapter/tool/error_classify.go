package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcpchat/internal/domain"
)

// transientPatterns are substrings (matched case-insensitively) that mark a
// failure as a backend or network problem rather than an executor fault.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"broken pipe",
}

// classify makes sure err belongs to exactly one error class. Errors that
// already carry a class pass through unchanged; transient failures become
// transport errors; everything else is an execution error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{domain.ErrValidation, domain.ErrExecution, domain.ErrTransport} {
		if errors.Is(err, class) {
			return err
		}
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrExecution, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
