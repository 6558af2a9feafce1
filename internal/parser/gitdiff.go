package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GitDiffFormat is the unified-git-diff wire format: a three-line header
// (`--- a/old`, `+++ b/new`, `@@ -old_start,old_count +new_start,new_count
// @@`) followed by hunk body lines (` ` context, `-` removed, `+` added),
// terminated by a blank line. Multiple hunks for the same file repeat the
// three-line header; their edits merge by path via the shared parser state
// machine. A blank-line terminator (rather than overloading the next
// header line) keeps the Conv/Special/Code transitions unambiguous, unlike
// upstream unified diff which runs hunks back to back.
type GitDiffFormat struct {
	ReadFile ContentSource
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func (f *GitDiffFormat) CouldBeSpecial(line string) bool {
	return strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "@@ ")
}

func (f *GitDiffFormat) StartsSpecial(line string) bool {
	return strings.HasPrefix(line, "--- ")
}

func (f *GitDiffFormat) EndsSpecial(line string) bool {
	return hunkHeaderRe.MatchString(line)
}

func (f *GitDiffFormat) EndsCode(line string) bool {
	return line == ""
}

// CodeLineKind reads the hunk-body prefix: '-' is a removed line, ' ' is
// unchanged context, and everything else (including '+') is added.
func (f *GitDiffFormat) CodeLineKind(line string) EventKind {
	switch {
	case strings.HasPrefix(line, "-"):
		return EventRemovedLine
	case strings.HasPrefix(line, " "):
		return EventContextLine
	default:
		return EventAddedLine
	}
}

func stripGitPrefix(path string) string {
	path = strings.TrimSpace(path)
	if path == "/dev/null" {
		return ""
	}
	if len(path) > 2 && (path[:2] == "a/" || path[:2] == "b/") {
		return path[2:]
	}
	return path
}

func (f *GitDiffFormat) SpecialBlock(block string, renameMap map[string]string) (DisplayInfo, FileEdit, bool, error) {
	lines := splitLines(block)
	if len(lines) != 3 {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("expected a 3-line diff header, got %d lines: %q", len(lines), block)
	}

	oldLine, newLine, hunkLine := strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), strings.TrimSpace(lines[2])
	if !strings.HasPrefix(oldLine, "--- ") || !strings.HasPrefix(newLine, "+++ ") {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("malformed diff header: %q", block)
	}

	oldPath := stripGitPrefix(strings.TrimPrefix(oldLine, "--- "))
	newPath := stripGitPrefix(strings.TrimPrefix(newLine, "+++ "))

	m := hunkHeaderRe.FindStringSubmatch(hunkLine)
	if m == nil {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("malformed hunk header: %q", hunkLine)
	}
	newStart, _ := strconv.Atoi(m[3])
	newCount := 1
	if m[4] != "" {
		newCount, _ = strconv.Atoi(m[4])
	}

	edit := FileEdit{}
	info := DisplayInfo{}

	switch {
	case newPath == "": // deletion
		edit.Path = oldPath
		edit.IsDeletion = true
	case oldPath == "": // creation
		edit.Path = newPath
		edit.IsCreation = true
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: 1, EndLine: 0})
	default:
		edit.Path = newPath
		end := newStart + newCount - 1
		if newCount == 0 {
			end = newStart - 1
		}
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: newStart, EndLine: end})
	}
	info.FileName = edit.Path

	return info, edit, true, nil
}

// AddCodeBlock folds hunk-body lines into the replacement pre-added by
// SpecialBlock, keeping context (` `) and added (`+`) lines as the new
// content and discarding removed (`-`) lines.
func (f *GitDiffFormat) AddCodeBlock(specialBlock, codeBlock string, info *DisplayInfo, edit *FileEdit) {
	rawLines := splitLines(codeBlock)
	if n := len(rawLines); n > 0 && rawLines[n-1] == "" {
		rawLines = rawLines[:n-1]
	}

	var removed, kept []string
	for _, l := range rawLines {
		switch {
		case strings.HasPrefix(l, "-"):
			removed = append(removed, l[1:])
		case strings.HasPrefix(l, "+"):
			kept = append(kept, l[1:])
		case strings.HasPrefix(l, " "):
			kept = append(kept, l[1:])
		default:
			kept = append(kept, l)
		}
	}
	info.RemovedLines = removed

	if edit.IsDeletion {
		return
	}
	if len(edit.Replacements) == 0 {
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: 1, EndLine: 0})
	}
	edit.Replacements[len(edit.Replacements)-1].NewLines = kept
}
