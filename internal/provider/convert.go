package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// ConvertHistory renders stored messages as model input. An assistant message
// becomes one assistant message per step, each followed by a tool message for
// every call issued in that step. Calls that never completed are answered
// with their error so the model always sees a result for each call.
func ConvertHistory(history []*types.MessageWithParts) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m == nil || m.Info == nil {
			continue
		}
		switch m.Info.Role {
		case types.RoleUser:
			if msg := convertUser(m.Parts); msg != nil {
				out = append(out, msg)
			}
		case types.RoleAssistant:
			out = append(out, convertAssistant(m.Parts)...)
		}
	}
	return out
}

func convertUser(parts []types.Part) *schema.Message {
	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *types.TextPart:
			if p.Text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		case *types.FilePart:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(fileReference(p))
		}
	}
	if sb.Len() == 0 {
		return nil
	}
	return schema.UserMessage(sb.String())
}

func fileReference(p *types.FilePart) string {
	name := p.Filename
	if name == "" {
		name = p.Path
	}
	if p.Path != "" {
		return fmt.Sprintf("[Attached file: %s (%s) at %s]", name, p.Mime, p.Path)
	}
	return fmt.Sprintf("[Attached file: %s (%s)]", name, p.Mime)
}

// step collects the parts of one streaming iteration.
type step struct {
	text    strings.Builder
	calls   []*types.ToolCallPart
	results map[string]*types.ToolResultPart
}

func convertAssistant(parts []types.Part) []*schema.Message {
	var steps []*step
	cur := func() *step {
		if len(steps) == 0 {
			steps = append(steps, &step{results: make(map[string]*types.ToolResultPart)})
		}
		return steps[len(steps)-1]
	}

	for _, part := range parts {
		switch p := part.(type) {
		case *types.StepPart:
			if p.Kind == types.StepStart {
				steps = append(steps, &step{results: make(map[string]*types.ToolResultPart)})
			}
		case *types.TextPart:
			cur().text.WriteString(p.Text)
		case *types.ToolCallPart:
			s := cur()
			s.calls = append(s.calls, p)
		case *types.ToolResultPart:
			// Results land after the step's finish marker, so look up the
			// step that issued the call.
			for i := len(steps) - 1; i >= 0; i-- {
				if hasCall(steps[i], p.CallID) {
					steps[i].results[p.CallID] = p
					break
				}
			}
		}
	}

	var out []*schema.Message
	for _, s := range steps {
		text := s.text.String()
		if text == "" && len(s.calls) == 0 {
			continue
		}
		calls := make([]schema.ToolCall, 0, len(s.calls))
		for _, c := range s.calls {
			calls = append(calls, schema.ToolCall{
				ID:   c.CallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      c.Tool,
					Arguments: arguments(c.Input),
				},
			})
		}
		if len(calls) == 0 {
			calls = nil
		}
		out = append(out, schema.AssistantMessage(text, calls))
		for _, c := range s.calls {
			out = append(out, schema.ToolMessage(resultContent(c, s.results[c.CallID]), c.CallID))
		}
	}
	return out
}

func hasCall(s *step, callID string) bool {
	for _, c := range s.calls {
		if c.CallID == callID {
			return true
		}
	}
	return false
}

func arguments(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func resultContent(call *types.ToolCallPart, result *types.ToolResultPart) string {
	if result != nil {
		return result.Content()
	}
	status := call.State.Status
	if status == types.ToolCompleted {
		return call.State.Output
	}
	if !status.Terminal() {
		status = types.ToolAborted
	}
	if call.State.Error != "" {
		return "Error: " + call.State.Error
	}
	return "Error: tool call " + string(status)
}
