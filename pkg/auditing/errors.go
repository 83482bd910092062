package auditing

import (
	"errors"
	"fmt"
)

// ErrNoActiveScope is returned when an operation needs an open scope and the
// context carries none.
var ErrNoActiveScope = errors.New("no active audit scope")

// PolicyEvaluationError reports a selector that failed while deciding whether a
// type is audited. The type is treated as not matched.
type PolicyEvaluationError struct {
	TypeName string
	Selector string
	Cause    error
}

func (e *PolicyEvaluationError) Error() string {
	return fmt.Sprintf("audit selector %q failed for type %s: %v", e.Selector, e.TypeName, e.Cause)
}

func (e *PolicyEvaluationError) Unwrap() error { return e.Cause }

// DiffSerializationError reports a value that could not be serialized to its
// canonical form.
type DiffSerializationError struct {
	TypeName string
	Cause    error
}

func (e *DiffSerializationError) Error() string {
	return fmt.Sprintf("failed to serialize value of type %s: %v", e.TypeName, e.Cause)
}

func (e *DiffSerializationError) Unwrap() error { return e.Cause }

// ActionExecutionError wraps a failed business call. The interceptor records it
// and hands the original error back to the caller.
type ActionExecutionError struct {
	ServiceName string
	MethodName  string
	Cause       error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("%s.%s failed: %v", e.ServiceName, e.MethodName, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error { return e.Cause }

// StoreSaveError reports a failed Store.Save call
type StoreSaveError struct {
	AuditLogID string
	Cause      error
}

func (e *StoreSaveError) Error() string {
	return fmt.Sprintf("failed to save audit log %s: %v", e.AuditLogID, e.Cause)
}

func (e *StoreSaveError) Unwrap() error { return e.Cause }

// panicError turns a recovered panic value into an error
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
