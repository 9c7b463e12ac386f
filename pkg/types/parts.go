package types

import (
	"encoding/json"
	"fmt"
)

// PartType is the discriminant of the Part variants.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartFile       PartType = "file"
	PartStep       PartType = "step"
)

// Part is an ordered fragment of a message. The set of variants is closed:
// TextPart, ReasoningPart, ToolCallPart, ToolResultPart, FilePart and StepPart.
type Part interface {
	Base() *PartBase
	PartType() PartType
	Clone() Part
}

// PartBase holds the fields every part carries. Seq is assigned by the store
// and orders parts within their message.
type PartBase struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Seq       int64    `json:"seq"`
	Type      PartType `json:"type"`
}

// Base returns the common part fields.
func (b *PartBase) Base() *PartBase { return b }

// PartTime contains timing information for a streamed part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents model or user text.
type TextPart struct {
	PartBase
	Text      string   `json:"text"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() PartType { return PartText }

func (p *TextPart) Clone() Part {
	c := *p
	c.Time = p.Time.clone()
	return &c
}

// ReasoningPart represents a model thinking trace.
type ReasoningPart struct {
	PartBase
	Text string   `json:"text"`
	Time PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() PartType { return PartReasoning }

func (p *ReasoningPart) Clone() Part {
	c := *p
	c.Time = p.Time.clone()
	return &c
}

// ToolCallPart is a tool invocation requested by the model. Its State moves
// through the ToolStatus state machine.
type ToolCallPart struct {
	PartBase
	CallID string         `json:"callID"`
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	State  ToolState      `json:"state"`
}

func (p *ToolCallPart) PartType() PartType { return PartToolCall }

func (p *ToolCallPart) Clone() Part {
	c := *p
	c.Input = CloneMap(p.Input)
	c.State = p.State.clone()
	return &c
}

// ToolResultPart carries the outcome of a ToolCallPart. CallPartID references
// the ToolCallPart, which always precedes it.
type ToolResultPart struct {
	PartBase
	CallID     string         `json:"callID"`
	CallPartID string         `json:"callPartID"`
	Tool       string         `json:"tool"`
	Status     ToolStatus     `json:"status"`
	Title      string         `json:"title,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (p *ToolResultPart) PartType() PartType { return PartToolResult }

func (p *ToolResultPart) Clone() Part {
	c := *p
	c.Metadata = CloneMap(p.Metadata)
	return &c
}

// IsError reports whether the call did not complete successfully.
func (p *ToolResultPart) IsError() bool {
	return p.Status != ToolCompleted
}

// Content is what the model sees for this result.
func (p *ToolResultPart) Content() string {
	if p.IsError() {
		if p.Error != "" {
			return "Error: " + p.Error
		}
		return "Error: tool call " + string(p.Status)
	}
	return p.Output
}

// FilePart references attached or produced file content.
type FilePart struct {
	PartBase
	Mime     string `json:"mime"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
}

func (p *FilePart) PartType() PartType { return PartFile }

func (p *FilePart) Clone() Part {
	c := *p
	return &c
}

// StepKind distinguishes the two step markers.
type StepKind string

const (
	StepStart  StepKind = "start"
	StepFinish StepKind = "finish"
)

// StepPart marks the boundary of one streaming iteration inside an assistant message.
type StepPart struct {
	PartBase
	Kind   StepKind `json:"kind"`
	Step   int      `json:"step"`
	Usage  Usage    `json:"usage"`
	Finish string   `json:"finish,omitempty"`
}

func (p *StepPart) PartType() PartType { return PartStep }

func (p *StepPart) Clone() Part {
	c := *p
	return &c
}

// MarshalPart encodes a part with its discriminant set.
func MarshalPart(p Part) ([]byte, error) {
	p.Base().Type = p.PartType()
	return json.Marshal(p)
}

// UnmarshalPart decodes a part by its "type" discriminant. Unknown types are an error.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var part Part
	switch head.Type {
	case PartText:
		part = &TextPart{}
	case PartReasoning:
		part = &ReasoningPart{}
	case PartToolCall:
		part = &ToolCallPart{}
	case PartToolResult:
		part = &ToolResultPart{}
	case PartFile:
		part = &FilePart{}
	case PartStep:
		part = &StepPart{}
	default:
		return nil, fmt.Errorf("unknown part type %q", head.Type)
	}

	if err := json.Unmarshal(data, part); err != nil {
		return nil, err
	}
	return part, nil
}

// UnmarshalParts decodes a JSON array of parts.
func UnmarshalParts(data []byte) ([]Part, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(raws))
	for _, raw := range raws {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// UnmarshalJSON decodes Parts through their discriminant.
func (m *MessageWithParts) UnmarshalJSON(data []byte) error {
	var aux struct {
		Info  *Message        `json:"info"`
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Info = aux.Info
	m.Parts = nil
	if len(aux.Parts) > 0 && string(aux.Parts) != "null" {
		parts, err := UnmarshalParts(aux.Parts)
		if err != nil {
			return err
		}
		m.Parts = parts
	}
	return nil
}

func (t PartTime) clone() PartTime {
	var c PartTime
	if t.Start != nil {
		v := *t.Start
		c.Start = &v
	}
	if t.End != nil {
		v := *t.End
		c.End = &v
	}
	return c
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
