package session

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// SystemPrompt builds the system prompt of a run.
type SystemPrompt struct {
	session *types.Session
	agent   *agent.Agent
	model   *types.Model
	now     func() time.Time
}

// NewSystemPrompt creates a new system prompt builder.
func NewSystemPrompt(session *types.Session, ag *agent.Agent, model *types.Model) *SystemPrompt {
	return &SystemPrompt{
		session: session,
		agent:   ag,
		model:   model,
		now:     time.Now,
	}
}

// Build constructs the complete system prompt.
func (s *SystemPrompt) Build() string {
	var parts []string

	if s.agent != nil && s.agent.Prompt != "" {
		parts = append(parts, s.agent.Prompt)
	}
	if mp := s.modelPrompt(); mp != "" {
		parts = append(parts, mp)
	}
	parts = append(parts, s.environmentContext())
	if rules := s.loadCustomRules(); rules != "" {
		parts = append(parts, rules)
	}
	parts = append(parts, toolInstructions)

	return strings.Join(parts, "\n\n")
}

// modelPrompt returns model-specific instructions.
func (s *SystemPrompt) modelPrompt() string {
	if s.model == nil {
		return ""
	}
	switch {
	case strings.Contains(s.model.ID, "claude"):
		return `When using tools, be decisive and take action. Don't ask for confirmation unless absolutely necessary.`
	case strings.Contains(s.model.ID, "gpt"):
		return `Always read files before making changes, and make precise, targeted edits.`
	}
	return ""
}

func (s *SystemPrompt) workDir() string {
	if s.session != nil && s.session.Directory != "" {
		return s.session.Directory
	}
	wd, _ := os.Getwd()
	return wd
}

// environmentContext returns environment information.
func (s *SystemPrompt) environmentContext() string {
	var env strings.Builder
	dir := s.workDir()

	env.WriteString("# Environment\n\n")
	fmt.Fprintf(&env, "Working directory: %s\n", dir)
	fmt.Fprintf(&env, "Is a git repository: %t\n", isGitRepo(dir))
	fmt.Fprintf(&env, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&env, "Today's date: %s\n", s.now().Format("2006-01-02"))
	if pt := detectProjectType(dir); pt != "" {
		fmt.Fprintf(&env, "Project type: %s\n", pt)
	}
	return env.String()
}

// loadCustomRules returns the first project or global rules file found.
func (s *SystemPrompt) loadCustomRules() string {
	dir := s.workDir()
	locations := []string{
		filepath.Join(dir, "AGENTS.md"),
		filepath.Join(dir, "CLAUDE.md"),
		filepath.Join(dir, ".opencode", "rules.md"),
	}
	if cfg, err := os.UserConfigDir(); err == nil {
		locations = append(locations, filepath.Join(cfg, "opencode", "AGENTS.md"))
	}

	for _, loc := range locations {
		if content, err := os.ReadFile(loc); err == nil && len(strings.TrimSpace(string(content))) > 0 {
			return "# Project rules\n\n" + strings.TrimSpace(string(content))
		}
	}
	return ""
}

const toolInstructions = `# Tool usage

- Use search to find files and content, list to see a directory tree and read before editing.
- Use edit for targeted changes and write for new files. Paths may be absolute or relative to the working directory.
- Prefer the dedicated tools over bash. Give every bash command a short description.
- Tool calls may be denied. A denied call has no effect; do not retry it unchanged.`

func isGitRepo(dir string) bool {
	for d := dir; d != ""; {
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return true
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return false
}

var projectIndicators = []struct {
	name  string
	files []string
}{
	{"Go", []string{"go.mod"}},
	{"Node.js", []string{"package.json"}},
	{"Python", []string{"pyproject.toml", "setup.py", "requirements.txt"}},
	{"Rust", []string{"Cargo.toml"}},
	{"Java", []string{"pom.xml", "build.gradle"}},
	{"Ruby", []string{"Gemfile"}},
	{"PHP", []string{"composer.json"}},
	{"C#", []string{"*.csproj", "*.sln"}},
}

// detectProjectType detects the project type from marker files.
func detectProjectType(dir string) string {
	if dir == "" {
		return ""
	}
	for _, ind := range projectIndicators {
		for _, pattern := range ind.files {
			if matches, _ := filepath.Glob(filepath.Join(dir, pattern)); len(matches) > 0 {
				return ind.name
			}
		}
	}
	return ""
}
