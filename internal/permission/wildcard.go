package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// MatchWildcard matches s against a pattern where "*" matches any run of
// characters and "?" matches one. A trailing " *" also matches the bare
// prefix, so "git *" matches "git" as well as "git push".
func MatchWildcard(pattern, s string) bool {
	if strings.HasSuffix(pattern, " *") && s == strings.TrimSuffix(pattern, " *") {
		return true
	}
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

type targetKind int

const (
	targetNone targetKind = iota
	targetCommand
	targetPath
	targetPattern
)

// target is one thing an action touches: a shell command, a file path or a
// free-form pattern such as a URL.
type target struct {
	kind    targetKind
	value   string
	workDir string
}

func matchPath(pattern string, t target) bool {
	value := filepath.ToSlash(t.value)
	if ok, _ := doublestar.Match(pattern, value); ok {
		return true
	}
	if t.workDir != "" && IsWithinDir(t.value, t.workDir) {
		rel, err := filepath.Rel(t.workDir, t.value)
		if err == nil {
			ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
			return ok
		}
	}
	return false
}

func ruleMatches(r types.PermissionRule, tool string, t target) bool {
	if !MatchWildcard(r.Tool, tool) {
		return false
	}
	if r.Pattern == "" || r.Pattern == "*" {
		return true
	}
	switch t.kind {
	case targetNone:
		return false
	case targetPath:
		return matchPath(r.Pattern, t)
	default:
		return MatchWildcard(r.Pattern, t.value)
	}
}

// specificity ranks rules: an exact tool name beats a wildcard, a pattern
// beats none, and among patterns fewer wildcards then more literal
// characters win.
type specificity struct {
	exactTool  bool
	hasPattern bool
	wildcards  int
	literals   int
}

func ruleSpecificity(r types.PermissionRule) specificity {
	s := specificity{exactTool: !strings.ContainsAny(r.Tool, "*?")}
	if r.Pattern != "" && r.Pattern != "*" {
		s.hasPattern = true
		s.wildcards = strings.Count(r.Pattern, "*") + strings.Count(r.Pattern, "?")
		s.literals = len(r.Pattern) - s.wildcards
	}
	return s
}

// moreSpecific reports whether a ranks strictly above b.
func (a specificity) moreSpecific(b specificity) bool {
	if a.exactTool != b.exactTool {
		return a.exactTool
	}
	if a.hasPattern != b.hasPattern {
		return a.hasPattern
	}
	if a.wildcards != b.wildcards {
		return a.wildcards < b.wildcards
	}
	return a.literals > b.literals
}

// BuildPattern returns the pattern remembered for a command when the user
// answers "always": "git commit -m msg" becomes "git commit *".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}

// BuildPatterns returns the distinct patterns for commands, skipping cd.
func BuildPatterns(commands []BashCommand) []string {
	seen := make(map[string]bool)
	var patterns []string
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		p := BuildPattern(cmd)
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return patterns
}
