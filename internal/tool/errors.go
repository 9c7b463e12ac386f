package tool

import (
	"fmt"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// ValidationError reports arguments that do not match a tool's schema. Param
// names the offending parameter; it is empty when the input as a whole is
// malformed.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: parameter %q %s", e.Tool, e.Param, e.Reason)
}

func (e *ValidationError) ErrorName() string { return types.ErrNameValidation }

// ExecutionError wraps a failure raised by a tool handler.
type ExecutionError struct {
	Tool string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) ErrorName() string { return types.ErrNameExecution }

// AbortedError is returned when the call was cancelled while running.
type AbortedError struct {
	Tool string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s was aborted", e.Tool)
}

func (e *AbortedError) ErrorName() string { return types.ErrNameAborted }

// Is makes errors.Is(err, types.ErrAborted) hold.
func (e *AbortedError) Is(target error) bool { return target == types.ErrAborted }
