package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every package. Callers wrap these with
// fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCompleted = errors.New("already completed")
	ErrValidationFailed = errors.New("validation failed")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrUpstreamFailure  = errors.New("upstream failure")
)

// Machine-readable error codes returned at the API boundary.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotFound         = "not_found"
	CodeAlreadyCompleted = "already_completed"
	CodeValidationFailed = "validation_failed"
	CodeDependencyCycle  = "dependency_cycle"
	CodeUpstreamFailure  = "upstream_failure"
	CodeInternal         = "internal"
)

// ValidationError carries every blocking error and warning found in one pass
// so callers can present all issues at once.
type ValidationError struct {
	// Kind is one of the sentinel errors above.
	Kind     error
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrValidationFailed
	}
	if len(e.Errors) == 0 {
		return kind.Error()
	}
	return fmt.Sprintf("%s: %s", kind.Error(), strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrValidationFailed
	}
	return e.Kind
}

// ErrorCode maps an error onto the fixed taxonomy.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyCompleted):
		return CodeAlreadyCompleted
	case errors.Is(err, ErrValidationFailed):
		return CodeValidationFailed
	case errors.Is(err, ErrDependencyCycle):
		return CodeDependencyCycle
	case errors.Is(err, ErrUpstreamFailure):
		return CodeUpstreamFailure
	default:
		return CodeInternal
	}
}

// ErrorDetail is the serialisable form of an error inside a result payload.
type ErrorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// NewErrorDetail converts err into an ErrorDetail. Returns nil for a nil error.
func NewErrorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	detail := &ErrorDetail{
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		detail.Details = append(detail.Details, verr.Errors...)
	}
	return detail
}

// WrapUpstream annotates a collaborator failure. Errors that already carry
// a taxonomy keep it; anything else becomes ErrUpstreamFailure.
func WrapUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if ErrorCode(err) != CodeInternal {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamFailure, op, err)
}
