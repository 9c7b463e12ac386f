package permission

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// Level is the verdict of a permission check.
type Level = types.PermissionAction

const (
	Allow = types.ActionAllow
	Ask   = types.ActionAsk
	Deny  = types.ActionDeny
)

// strictness orders levels so that the strictest verdict of a compound
// action wins.
func strictness(l Level) int {
	switch l {
	case Deny:
		return 2
	case Ask:
		return 1
	}
	return 0
}

// Action describes what a tool call is about to do. Command is set for shell
// execution, Paths for file tools and Pattern for anything else with a single
// target such as a URL.
type Action struct {
	Command  string   `json:"command,omitempty"`
	Paths    []string `json:"paths,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	WorkDir  string   `json:"workDir,omitempty"`
	ReadOnly bool     `json:"readOnly"`
}

// Request is an authorization request for one tool call.
type Request struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
	Tool      string         `json:"tool"`
	Action    Action         `json:"action"`
	Input     map[string]any `json:"input,omitempty"`
	Title     string         `json:"title"`
	Patterns  []string       `json:"patterns,omitempty"`

	// Rules are evaluated with the configuration rules, e.g. the agent profile's.
	Rules []types.PermissionRule `json:"-"`
}

// Response is an approver's resolution of an ASK.
type Response string

const (
	ResponseOnce   Response = "once"
	ResponseAlways Response = "always"
	ResponseReject Response = "reject"
)

// Valid reports whether r is one of once, always or reject.
func (r Response) Valid() bool {
	switch r {
	case ResponseOnce, ResponseAlways, ResponseReject:
		return true
	}
	return false
}

// ErrRequestNotFound is returned when responding to an unknown or already
// resolved request.
var ErrRequestNotFound = errors.New("permission request not found")

// DeniedError is returned when a tool call may not run, either because a rule
// denies it, the approver rejected it or the approval timed out.
type DeniedError struct {
	SessionID string
	Tool      string
	CallID    string
	Pattern   string
	Reason    string
	Timeout   bool
}

func (e *DeniedError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("permission denied for %s (%s): %s", e.Tool, e.Pattern, e.Reason)
	}
	return fmt.Sprintf("permission denied for %s: %s", e.Tool, e.Reason)
}

// ErrorName implements types.NamedError.
func (e *DeniedError) ErrorName() string { return types.ErrNamePermission }

// IsDenied reports whether err is or wraps a *DeniedError.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}
