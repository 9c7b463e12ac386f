package agent

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// DefaultName is the profile used when none is requested.
const DefaultName = "build"

// Agent is a named profile that shapes a run: which tools the model sees,
// the permission rules layered under configuration, the system prompt and
// sampling settings.
type Agent struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	BuiltIn     bool                   `json:"builtIn"`
	Prompt      string                 `json:"prompt,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxSteps    int                    `json:"maxSteps,omitempty"`
	Tools       map[string]bool        `json:"tools,omitempty"`
	Permission  []types.PermissionRule `json:"permission,omitempty"`
}

// ToolEnabled reports whether the model may see tool. An exact entry wins,
// then the longest matching pattern. Tools are enabled by default.
func (a *Agent) ToolEnabled(tool string) bool {
	if enabled, ok := a.Tools[tool]; ok {
		return enabled
	}

	patterns := make([]string, 0, len(a.Tools))
	for p := range a.Tools {
		if strings.ContainsAny(p, "*?[{") {
			patterns = append(patterns, p)
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, tool); ok {
			return a.Tools[p]
		}
	}
	return true
}

// ToolFilter returns ToolEnabled as a predicate.
func (a *Agent) ToolFilter() func(string) bool {
	return a.ToolEnabled
}

// Clone creates a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Temperature != nil {
		t := *a.Temperature
		c.Temperature = &t
	}
	if a.Tools != nil {
		c.Tools = make(map[string]bool, len(a.Tools))
		for k, v := range a.Tools {
			c.Tools[k] = v
		}
	}
	c.Permission = append([]types.PermissionRule(nil), a.Permission...)
	return &c
}

const basePrompt = `You are a coding agent working inside the user's project.

Use the available tools to inspect and change the project. Prefer search and read
before editing, keep changes minimal, and report what you did concisely. Tool calls
may be denied by the user; when that happens, explain what you needed and continue
without it.`

// PlanPrompt is the system prompt of the plan profile.
const PlanPrompt = basePrompt + `

You are in plan mode. You must not modify files or run shell commands. Investigate
with the read-only tools and answer with a concrete, step-by-step plan.`

// BuiltInAgents returns the default profiles.
func BuiltInAgents() map[string]*Agent {
	return map[string]*Agent{
		"build": {
			Name:        "build",
			Description: "Default agent for executing tasks, writing code and making changes",
			BuiltIn:     true,
			Prompt:      basePrompt,
			Tools:       map[string]bool{"*": true},
		},
		"plan": {
			Name:        "plan",
			Description: "Planning agent for analysis and exploration without making changes",
			BuiltIn:     true,
			Prompt:      PlanPrompt,
			Tools: map[string]bool{
				"*":     true,
				"edit":  false,
				"write": false,
			},
			Permission: []types.PermissionRule{
				{Tool: "edit", Action: types.ActionDeny},
				{Tool: "write", Action: types.ActionDeny},
				{Tool: "bash", Action: types.ActionDeny},
			},
		},
	}
}
