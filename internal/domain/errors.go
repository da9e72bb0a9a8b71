package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error leaving the registry or the coordinator wraps
// exactly one of these.
var (
	// ErrValidation marks input that was rejected before any state change.
	ErrValidation = fmt.Errorf("validation failed")
	// ErrExecution marks a fault raised by a tool executor.
	ErrExecution = fmt.Errorf("tool execution failed")
	// ErrTransport marks an unreachable backend or an expired deadline.
	ErrTransport = fmt.Errorf("transport failure")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrToolDisabled       = fmt.Errorf("tool disabled: %w", ErrValidation)
	ErrToolDuplicate      = fmt.Errorf("tool already registered")
	ErrEmptyMessage       = fmt.Errorf("message is empty: %w", ErrValidation)
	ErrInvalidParams      = fmt.Errorf("invalid parameters: %w", ErrValidation)
	ErrDispatchInFlight   = fmt.Errorf("dispatch already in flight")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary: %w", ErrValidation)
	ErrAllToolsFailed     = fmt.Errorf("every selected tool failed")
	ErrSynthesisFailed    = fmt.Errorf("reply synthesis failed")
	ErrCircuitOpen        = fmt.Errorf("synthesizer circuit open: %w", ErrTransport)
	ErrAuditWrite         = fmt.Errorf("failed to write audit event")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Invalid wraps err as a validation failure. Returns nil if err is nil.
func Invalid(err error) error {
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrValidation, err.Error())
}

// IsValidation reports whether err belongs to the validation class. Unknown
// tools count as validation failures at the API boundary.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrToolNotFound)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel maps to exactly one code.
const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeValidation       ErrorCode = "VALIDATION"
	CodeExecution        ErrorCode = "EXECUTION"
	CodeTransport        ErrorCode = "TRANSPORT"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeToolDisabled     ErrorCode = "TOOL_DISABLED"
	CodeToolDuplicate    ErrorCode = "TOOL_DUPLICATE"
	CodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	CodeInvalidParams    ErrorCode = "INVALID_PARAMS"
	CodeDispatchInFlight ErrorCode = "DISPATCH_IN_FLIGHT"
	CodeOutsideSandbox   ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeAllToolsFailed   ErrorCode = "ALL_TOOLS_FAILED"
	CodeSynthesisFailed  ErrorCode = "SYNTHESIS_FAILED"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeAuditWrite       ErrorCode = "AUDIT_WRITE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrValidation:         CodeValidation,
	ErrExecution:          CodeExecution,
	ErrTransport:          CodeTransport,
	ErrToolNotFound:       CodeToolNotFound,
	ErrToolDisabled:       CodeToolDisabled,
	ErrToolDuplicate:      CodeToolDuplicate,
	ErrEmptyMessage:       CodeEmptyMessage,
	ErrInvalidParams:      CodeInvalidParams,
	ErrDispatchInFlight:   CodeDispatchInFlight,
	ErrPathOutsideSandbox: CodeOutsideSandbox,
	ErrAllToolsFailed:     CodeAllToolsFailed,
	ErrSynthesisFailed:    CodeSynthesisFailed,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrAuditWrite:         CodeAuditWrite,
}

// specificSentinels are checked before the class sentinels so that wrapped
// errors resolve to the most precise code.
var specificSentinels = []error{
	ErrToolNotFound,
	ErrToolDisabled,
	ErrToolDuplicate,
	ErrEmptyMessage,
	ErrInvalidParams,
	ErrDispatchInFlight,
	ErrPathOutsideSandbox,
	ErrAllToolsFailed,
	ErrSynthesisFailed,
	ErrCircuitOpen,
	ErrAuditWrite,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Specific sentinels win over the class sentinels they wrap.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range specificSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for _, sentinel := range []error{ErrValidation, ErrExecution, ErrTransport} {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
