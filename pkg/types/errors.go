package types

import (
	"context"
	"errors"
)

// ErrAborted is the root of every cancellation error.
var ErrAborted = errors.New("aborted")

// Error names persisted on messages.
const (
	ErrNameValidation   = "ValidationError"
	ErrNamePermission   = "PermissionDenied"
	ErrNameExecution    = "ExecutionError"
	ErrNameAborted      = "AbortedError"
	ErrNameProvider     = "ProviderError"
	ErrNameProviderAuth = "ProviderAuthError"
	ErrNameOutputLimit  = "OutputLimitError"
	ErrNameUnknown      = "UnknownError"
)

// NamedError is implemented by the engine's typed errors so that they can be
// persisted under a stable name.
type NamedError interface {
	error
	ErrorName() string
}

// MessageError represents an error that occurred during message processing.
// Format: {"name": "ProviderError", "data": {"message": "..."}}
type MessageError struct {
	Name string           `json:"name"`
	Data MessageErrorData `json:"data"`
}

// MessageErrorData contains the error details.
type MessageErrorData struct {
	Message    string `json:"message"`
	ProviderID string `json:"providerID,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (e *MessageError) Error() string {
	return e.Name + ": " + e.Data.Message
}

// NewMessageError converts a Go error into its persisted form.
func NewMessageError(err error) *MessageError {
	if err == nil {
		return nil
	}

	var me *MessageError
	if errors.As(err, &me) {
		return me
	}

	out := &MessageError{Name: ErrNameUnknown, Data: MessageErrorData{Message: err.Error()}}

	var named NamedError
	switch {
	case errors.As(err, &named):
		out.Name = named.ErrorName()
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		out.Name = ErrNameAborted
	}

	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		out.Data.Retryable = retryable.IsRetryable()
	}
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		out.Data.StatusCode = status.HTTPStatus()
	}
	var prov interface{ Provider() string }
	if errors.As(err, &prov) {
		out.Data.ProviderID = prov.Provider()
	}
	return out
}

// NewUnknownError creates a new UnknownError.
func NewUnknownError(message string) *MessageError {
	return &MessageError{
		Name: ErrNameUnknown,
		Data: MessageErrorData{Message: message},
	}
}
