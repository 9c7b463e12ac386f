package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fileDiff summarizes a change to one file.
type fileDiff struct {
	Patch     string
	Additions int
	Deletions int
}

// metadata merges the diff into result metadata.
func (d fileDiff) metadata(m map[string]any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	m["diff"] = d.Patch
	m["additions"] = d.Additions
	m["deletions"] = d.Deletions
	return m
}

// diffFiles computes a line-level patch between before and after, headed with
// path relative to workDir.
func diffFiles(path, workDir, before, after string) fileDiff {
	if before == after {
		return fileDiff{}
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var d fileDiff
	for _, df := range diffs {
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			d.Additions += lineCount(df.Text)
		case diffmatchpatch.DiffDelete:
			d.Deletions += lineCount(df.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch == "" {
		return d
	}
	name := path
	if workDir != "" {
		if rel, err := filepath.Rel(workDir, path); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	d.Patch = "--- " + name + "\n+++ " + name + "\n" + patch
	return d
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
