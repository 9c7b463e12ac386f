// Package types provides the core data types shared by the engine packages.
package types

// Session represents one persisted conversation thread.
type Session struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"projectID"`
	Directory  string           `json:"directory"`
	ParentID   *string          `json:"parentID,omitempty"`
	Title      string           `json:"title"`
	Version    string           `json:"version"`
	Model      *ModelRef        `json:"model,omitempty"`
	Time       SessionTime      `json:"time"`
	Usage      Usage            `json:"usage"`
	Permission []PermissionRule `json:"permission,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
	Archived *int64 `json:"archived,omitempty"`
}

// IsArchived reports whether the session has been archived.
func (s *Session) IsArchived() bool {
	return s.Time.Archived != nil
}

// IsRoot reports whether the session was not forked from another one.
func (s *Session) IsRoot() bool {
	return s.ParentID == nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.ParentID != nil {
		parent := *s.ParentID
		c.ParentID = &parent
	}
	if s.Model != nil {
		model := *s.Model
		c.Model = &model
	}
	if s.Time.Archived != nil {
		archived := *s.Time.Archived
		c.Time.Archived = &archived
	}
	if s.Permission != nil {
		c.Permission = append([]PermissionRule(nil), s.Permission...)
	}
	return &c
}

// PermissionAction is the decision level of a permission rule.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionAsk   PermissionAction = "ask"
	ActionDeny  PermissionAction = "deny"
)

// Valid reports whether the action is one of allow, ask or deny.
func (a PermissionAction) Valid() bool {
	switch a {
	case ActionAllow, ActionAsk, ActionDeny:
		return true
	}
	return false
}

// RuleScope tells where a permission rule came from.
type RuleScope string

const (
	ScopeConfig  RuleScope = "config"
	ScopeSession RuleScope = "session"
)

// PermissionRule maps a tool name and optional argument pattern to a decision.
// Tool may be "*" to match every tool. An empty Pattern matches every action of the tool.
type PermissionRule struct {
	Tool    string           `json:"tool"`
	Pattern string           `json:"pattern,omitempty"`
	Action  PermissionAction `json:"action"`
	Scope   RuleScope        `json:"scope,omitempty"`
}
