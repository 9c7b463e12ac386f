package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a tool call state change is not allowed.
var ErrInvalidTransition = errors.New("invalid tool state transition")

// ToolStatus is the state of a tool call.
//
//	pending -> running -> completed | error | aborted
//	pending -> denied | error | aborted
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
	ToolDenied    ToolStatus = "denied"
	ToolAborted   ToolStatus = "aborted"
)

var toolTransitions = map[ToolStatus][]ToolStatus{
	ToolPending: {ToolRunning, ToolDenied, ToolError, ToolAborted},
	ToolRunning: {ToolCompleted, ToolError, ToolAborted},
}

// Terminal reports whether no further transition is possible.
func (s ToolStatus) Terminal() bool {
	switch s {
	case ToolCompleted, ToolError, ToolDenied, ToolAborted:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
func (s ToolStatus) CanTransition(next ToolStatus) bool {
	for _, allowed := range toolTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ToolState is the mutable state of a ToolCallPart.
type ToolState struct {
	Status   ToolStatus     `json:"status"`
	Title    string         `json:"title,omitempty"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     PartTime       `json:"time,omitempty"`
}

func (s ToolState) clone() ToolState {
	c := s
	c.Metadata = CloneMap(s.Metadata)
	c.Time = s.Time.clone()
	return c
}

// Transition moves the call to next, stamping start and end times.
// It fails with ErrInvalidTransition when next is not reachable from the current status.
func (p *ToolCallPart) Transition(next ToolStatus) error {
	if !p.State.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (call %s)", ErrInvalidTransition, p.State.Status, next, p.CallID)
	}
	now := time.Now().UnixMilli()
	if next == ToolRunning {
		p.State.Time.Start = &now
	}
	if next.Terminal() {
		if p.State.Time.Start == nil {
			p.State.Time.Start = &now
		}
		p.State.Time.End = &now
	}
	p.State.Status = next
	return nil
}

// Complete moves a running call to completed with its output.
func (p *ToolCallPart) Complete(title, output string, metadata map[string]any) error {
	if err := p.Transition(ToolCompleted); err != nil {
		return err
	}
	p.State.Title = title
	p.State.Output = output
	p.State.Metadata = metadata
	return nil
}

// Fail moves the call to a terminal failure status with a description.
func (p *ToolCallPart) Fail(status ToolStatus, reason string) error {
	if status == ToolCompleted || !status.Terminal() {
		return fmt.Errorf("%w: %s is not a failure status", ErrInvalidTransition, status)
	}
	if err := p.Transition(status); err != nil {
		return err
	}
	p.State.Error = reason
	return nil
}

// CheckToolTransition validates replacing a stored call state with an updated one.
// Rewriting a non-terminal status in place is allowed, so streaming updates of
// the same status pass.
func CheckToolTransition(prev, next ToolStatus) error {
	if prev == next {
		if prev.Terminal() {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, prev)
		}
		return nil
	}
	if !prev.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	return nil
}
