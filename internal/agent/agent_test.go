package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/types"
)

func TestAgent_ToolEnabled(t *testing.T) {
	tests := []struct {
		name     string
		tools    map[string]bool
		tool     string
		expected bool
	}{
		{"exact match enabled", map[string]bool{"read": true}, "read", true},
		{"exact match disabled", map[string]bool{"write": false}, "write", false},
		{"wildcard all", map[string]bool{"*": false}, "anytool", false},
		{"prefix wildcard", map[string]bool{"web*": false}, "webfetch", false},
		{"suffix wildcard", map[string]bool{"*_read": false}, "file_read", false},
		{"exact beats pattern", map[string]bool{"*": false, "read": true}, "read", true},
		{"longer pattern wins", map[string]bool{"*": false, "mcp_*": true}, "mcp_tool", true},
		{"brace pattern", map[string]bool{"{edit,write}": false}, "write", false},
		{"default enabled", map[string]bool{"other": false}, "unknown", true},
		{"nil map", nil, "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Agent{Tools: tt.tools}
			assert.Equal(t, tt.expected, a.ToolEnabled(tt.tool))
		})
	}
}

func TestAgent_Clone(t *testing.T) {
	temp := 0.3
	a := &Agent{
		Name:        "x",
		Temperature: &temp,
		Tools:       map[string]bool{"read": true},
		Permission:  []types.PermissionRule{{Tool: "bash", Action: types.ActionDeny}},
	}
	c := a.Clone()
	*c.Temperature = 0.9
	c.Tools["read"] = false
	c.Permission[0].Action = types.ActionAllow

	assert.Equal(t, 0.3, *a.Temperature)
	assert.True(t, a.Tools["read"])
	assert.Equal(t, types.ActionDeny, a.Permission[0].Action)
}

func TestBuiltInAgents(t *testing.T) {
	agents := BuiltInAgents()
	require.Contains(t, agents, "build")
	require.Contains(t, agents, "plan")

	build := agents["build"]
	for _, tool := range []string{"bash", "edit", "write", "read", "search", "list", "webfetch"} {
		assert.True(t, build.ToolEnabled(tool), tool)
	}
	assert.Empty(t, build.Permission)

	plan := agents["plan"]
	assert.False(t, plan.ToolEnabled("edit"))
	assert.False(t, plan.ToolEnabled("write"))
	assert.True(t, plan.ToolEnabled("read"))
	assert.True(t, plan.ToolEnabled("bash"))

	denied := map[string]bool{}
	for _, r := range plan.Permission {
		if r.Action == types.ActionDeny {
			denied[r.Tool] = true
		}
	}
	assert.Equal(t, map[string]bool{"edit": true, "write": true, "bash": true}, denied)
}
