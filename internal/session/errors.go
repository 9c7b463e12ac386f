package session

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	// ErrBusy is returned when a run is started on a session that already has one.
	ErrBusy = errors.New("session is busy")
	// ErrNotRunning is returned by Abort when the session has no active run.
	ErrNotRunning = errors.New("session is not running")
	// ErrEmptyMessage is returned for a user turn with neither text nor files.
	ErrEmptyMessage = errors.New("message has no text or files")
	// ErrNothingToCompact is returned by Compact when no message would be summarized.
	ErrNothingToCompact = errors.New("nothing to compact")
)

// OutputLimitError is returned when a run used up its step budget while the
// model still wanted to call tools, or when the model stopped because it hit
// its output token limit. Truncated tells the two apart; Limit is the step
// budget and is zero for a truncated answer.
type OutputLimitError struct {
	Limit     int
	Truncated bool
}

func (e *OutputLimitError) Error() string {
	if e.Truncated {
		return "model output was truncated at the output token limit"
	}
	return fmt.Sprintf("step limit of %d reached", e.Limit)
}

func (e *OutputLimitError) ErrorName() string { return types.ErrNameOutputLimit }
