package event

import "github.com/opencode-ai/agentcore/pkg/types"

// SessionData is the data for session.created, session.updated and session.deleted events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// SessionCompactedData is the data for session.compacted events.
type SessionCompactedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Through   string `json:"through"`
}

// MessageData is the data for message.created and message.updated events.
type MessageData struct {
	Info *types.Message `json:"info"`
}

// PartData is the data for part.created and part.updated events.
type PartData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"` // For streaming text
}

// PermissionAskedData is the data for permission.asked events.
type PermissionAskedData struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID,omitempty"`
	CallID    string   `json:"callID,omitempty"`
	Tool      string   `json:"tool"`
	Patterns  []string `json:"patterns"`
	Title     string   `json:"title"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Response  string `json:"response"` // "once" | "always" | "reject" | "timeout"
}

// LoopStateData is the data for loop.state events.
type LoopStateData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID,omitempty"`
	State     string `json:"state"`
	Step      int    `json:"step"`
}

// ToolOutputData is the data for tool.output events.
type ToolOutputData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
	Tool      string `json:"tool"`
	Chunk     string `json:"chunk"`
}

// SessionOf returns the ID of the session e concerns, or "" for events that
// carry none.
func SessionOf(e Event) string {
	switch data := e.Data.(type) {
	case SessionData:
		if data.Info != nil {
			return data.Info.ID
		}
	case MessageData:
		if data.Info != nil {
			return data.Info.SessionID
		}
	case PartData:
		if data.Part != nil {
			return data.Part.Base().SessionID
		}
	case PermissionAskedData:
		return data.SessionID
	case PermissionResolvedData:
		return data.SessionID
	case SessionCompactedData:
		return data.SessionID
	case LoopStateData:
		return data.SessionID
	case ToolOutputData:
		return data.SessionID
	}
	return ""
}
