package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is the completion status of an assistant message.
type MessageStatus string

const (
	StatusInProgress MessageStatus = "in_progress"
	StatusComplete   MessageStatus = "complete"
	StatusError      MessageStatus = "error"
)

// Frozen reports whether a message with this status accepts no further updates.
func (s MessageStatus) Frozen() bool {
	return s == StatusComplete || s == StatusError
}

// Message represents either a User or Assistant turn in a conversation.
// Seq is assigned by the store and defines the canonical order within a session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Seq       int64       `json:"seq"`
	Role      Role        `json:"role"`
	Time      MessageTime `json:"time"`

	// User-specific fields
	Agent string    `json:"agent,omitempty"`
	Model *ModelRef `json:"model,omitempty"`

	// Assistant-specific fields
	ParentID   string        `json:"parentID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	ModelID    string        `json:"modelID,omitempty"`
	Status     MessageStatus `json:"status,omitempty"`
	Usage      Usage         `json:"usage"`
	Finish     string        `json:"finish,omitempty"`
	Steps      int           `json:"steps,omitempty"`
	Error      *MessageError `json:"error,omitempty"`

	// Compaction is set on summary messages.
	Compaction *Compaction `json:"compaction,omitempty"`
}

// Compaction marks an assistant message whose text summarizes the session
// history up to and including the message Through. Messages stays for
// display; the log itself is never rewritten.
type Compaction struct {
	Through  string `json:"through"`
	Messages int    `json:"messages"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// IsAssistant reports whether the message was produced by the model.
func (m *Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Model != nil {
		model := *m.Model
		c.Model = &model
	}
	if m.Time.Completed != nil {
		completed := *m.Time.Completed
		c.Time.Completed = &completed
	}
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	if m.Compaction != nil {
		cp := *m.Compaction
		c.Compaction = &cp
	}
	return &c
}

// MessageWithParts bundles a message with its ordered parts.
type MessageWithParts struct {
	Info  *Message `json:"info"`
	Parts []Part   `json:"parts"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// String renders the reference as "provider/model".
func (r ModelRef) String() string {
	return r.ProviderID + "/" + r.ModelID
}

// TokenUsage contains token counters for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// Usage is the token and cost accounting attached to assistant messages and sessions.
type Usage struct {
	Tokens TokenUsage `json:"tokens"`
	Cost   float64    `json:"cost"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.Tokens.Input += other.Tokens.Input
	u.Tokens.Output += other.Tokens.Output
	u.Tokens.Reasoning += other.Tokens.Reasoning
	u.Tokens.Cache.Read += other.Tokens.Cache.Read
	u.Tokens.Cache.Write += other.Tokens.Cache.Write
	u.Cost += other.Cost
}

// IsZero reports whether no tokens or cost were recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// SumUsage totals the usage of the assistant messages in msgs.
func SumUsage(msgs []*Message) Usage {
	var total Usage
	for _, m := range msgs {
		if m.IsAssistant() {
			total.Add(m.Usage)
		}
	}
	return total
}
