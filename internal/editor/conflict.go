package editor

import "github.com/arrowgrove/codeloom/internal/parser"

// resolveConflicts applies the per-file precedence rules: a deletion
// discards earlier edits on the path; a creation dominates modifications
// (only the most recently produced creation body survives); otherwise
// overlapping replacements keep the later one by source order
// (parser.FileEdit.ResolveConflicts already implements that last rule).
func resolveConflicts(edit *parser.FileEdit) {
	switch {
	case edit.IsDeletion:
		edit.Replacements = nil
		edit.IsCreation = false
	case edit.IsCreation:
		if len(edit.Replacements) > 1 {
			edit.Replacements = edit.Replacements[len(edit.Replacements)-1:]
		}
	default:
		edit.ResolveConflicts()
	}
}

// applyReplacements splices non-overlapping, ascending replacements into
// lines, returning the resulting full text. Replacements must already be
// conflict-resolved (resolveConflicts / FileEdit.ResolveConflicts).
func applyReplacements(lines []string, replacements []parser.Replacement) []string {
	out := make([]string, 0, len(lines))
	cursor := 0 // 0-indexed position in lines already copied
	for _, r := range replacements {
		start := r.StartLine - 1 // 0-indexed
		end := r.EndLine         // 0-indexed exclusive upper bound of the replaced span
		if start < cursor {
			start = cursor
		}
		if start > len(lines) {
			start = len(lines)
		}
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, lines[cursor:start]...)
		out = append(out, r.NewLines...)
		if end > start {
			cursor = end
		} else {
			cursor = start
		}
	}
	out = append(out, lines[cursor:]...)
	return out
}

// inBounds reports whether every replacement's span still falls within a
// file of the given line count, so the applier can warn-and-skip edits
// that no longer match current content.
func inBounds(lineCount int, replacements []parser.Replacement) bool {
	for _, r := range replacements {
		if r.StartLine < 1 || r.StartLine > lineCount+1 {
			return false
		}
		if r.EndLine > lineCount {
			return false
		}
	}
	return true
}
