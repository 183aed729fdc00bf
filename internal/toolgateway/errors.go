package toolgateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for tool invocation failures. They are always delivered
// wrapped in a *ToolError.
var (
	ErrSchemaUnavailable    = errors.New("tool schema unavailable")
	ErrUnknownOperation     = errors.New("unknown tool operation")
	ErrUnknownService       = errors.New("unknown tool service")
	ErrTransientToolFailure = errors.New("transient tool failure")
	ErrToolRejected         = errors.New("tool rejected request")
)

// ToolError is the uniform failure returned by Invoke.
type ToolError struct {
	Service   string
	Operation string
	// Status is the last HTTP status received, or 0 when no response arrived.
	Status   int
	Message  string
	Attempts int
	Err      error
}

func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s.%s failed after %d attempts: %s", e.Service, e.Operation, e.Attempts, msg)
	}
	return fmt.Sprintf("%s.%s failed: %s", e.Service, e.Operation, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retryable reports whether the failure was transient.
func (e *ToolError) Retryable() bool {
	return errors.Is(e.Err, ErrTransientToolFailure)
}
