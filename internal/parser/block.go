package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentSource loads a file's current text for rendering context/removed
// lines around a change; nil if no file backing is available (e.g. a
// creation).
type ContentSource func(path string) (string, error)

// BlockFormat is the "block" wire format: a special header is a single
// JSON object between an `@@start` opener and either `@@code` (a
// replacement/create body follows) or `@@end` (no body — deletion or
// pure rename).
type BlockFormat struct {
	ReadFile ContentSource
	// ContextLines is how many lines of surrounding context to show before
	// and after a replacement; 0 disables context rendering.
	ContextLines int
}

type blockHeader struct {
	Path      string `json:"path"`
	Action    string `json:"action"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	RenameTo  string `json:"rename_to,omitempty"`
}

func (f *BlockFormat) CouldBeSpecial(line string) bool {
	return strings.HasPrefix("@@start", line) || strings.HasPrefix(line, "@@")
}

func (f *BlockFormat) StartsSpecial(line string) bool {
	return line == "@@start"
}

func (f *BlockFormat) EndsSpecial(line string) bool {
	return line == "@@code" || line == "@@end"
}

func (f *BlockFormat) EndsCode(line string) bool {
	return line == "@@end"
}

// CodeLineKind is always EventAddedLine: a block code body is pure
// replacement content with no inline removed/context markers.
func (f *BlockFormat) CodeLineKind(line string) EventKind {
	return EventAddedLine
}

// splitLines recovers the original per-line list from a block built by
// concatenating raw lines (each carrying its own trailing newline).
func splitLines(block string) []string {
	trimmed := strings.TrimSuffix(block, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func (f *BlockFormat) SpecialBlock(block string, renameMap map[string]string) (DisplayInfo, FileEdit, bool, error) {
	lines := splitLines(block)
	if len(lines) < 2 {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("truncated special block: %q", block)
	}
	// lines[0] == "@@start"; lines[len-1] is "@@code" or "@@end"; the
	// header JSON is everything in between.
	closer := strings.TrimSpace(lines[len(lines)-1])
	headerText := strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))

	var header blockHeader
	if err := json.Unmarshal([]byte(headerText), &header); err != nil {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("malformed block header %q: %w", headerText, err)
	}
	if header.Path == "" {
		return DisplayInfo{}, FileEdit{}, false, fmt.Errorf("block header missing path: %q", headerText)
	}
	if header.Action == "" {
		if header.RenameTo != "" && header.StartLine == 0 && header.EndLine == 0 {
			header.Action = "rename"
		} else {
			header.Action = "replace"
		}
	}

	info := DisplayInfo{FileName: header.Path, NewName: header.RenameTo, IsRename: header.RenameTo != ""}
	edit := FileEdit{Path: header.Path, RenameTo: header.RenameTo}

	hasCode := closer == "@@code"

	switch header.Action {
	case "rename":
		// no replacement: the rename alone is the edit.
	case "delete":
		edit.IsDeletion = true
		if f.ReadFile != nil {
			if content, err := f.ReadFile(header.Path); err == nil {
				info.RemovedLines = strings.Split(content, "\n")
			}
		}
	case "create":
		edit.IsCreation = true
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: 1, EndLine: 0})
	default: // "replace"
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: header.StartLine, EndLine: header.EndLine})
		if f.ReadFile != nil {
			if content, err := f.ReadFile(header.Path); err == nil {
				f.annotateContext(&info, content, header.StartLine, header.EndLine)
			}
		}
	}

	return info, edit, hasCode, nil
}

func (f *BlockFormat) annotateContext(info *DisplayInfo, content string, start, end int) {
	lines := strings.Split(content, "\n")
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > len(lines) {
			return len(lines)
		}
		return i
	}

	if start >= 1 && end >= start {
		info.RemovedLines = append([]string{}, lines[clamp(start-1):clamp(end)]...)
	}
	if f.ContextLines > 0 {
		info.PreviousLines = append([]string{}, lines[clamp(start-1-f.ContextLines):clamp(start-1)]...)
		info.LaterLines = append([]string{}, lines[clamp(end):clamp(end+f.ContextLines)]...)
	}
}

// AddCodeBlock folds the accumulated code lines (minus the trailing `@@end`
// terminator) into the replacement SpecialBlock pre-added to edit.
func (f *BlockFormat) AddCodeBlock(specialBlock, codeBlock string, info *DisplayInfo, edit *FileEdit) {
	lines := splitLines(codeBlock)
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "@@end" {
		lines = lines[:n-1]
	}
	if len(edit.Replacements) == 0 {
		edit.Replacements = append(edit.Replacements, Replacement{StartLine: 1, EndLine: 0})
	}
	edit.Replacements[len(edit.Replacements)-1].NewLines = lines
}
