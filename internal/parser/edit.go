// Package parser implements the Streaming Parser: it consumes an
// incremental LLM response and turns it into a sequence of render events
// plus a set of FileEdits, following a three-line-class state machine
// (Conversation / Special / Code) that is parameterized by a wire Format.
package parser

import "sort"

// Replacement is one contiguous span of new lines applied to [StartLine,
// EndLine] (1-indexed, inclusive). EndLine == StartLine-1 denotes pure
// insertion before StartLine.
type Replacement struct {
	StartLine int
	EndLine   int
	NewLines  []string
}

// overlaps reports whether r and o's line ranges intersect, treating a pure
// insertion (EndLine == StartLine-1) as occupying just before StartLine.
func (r Replacement) overlaps(o Replacement) bool {
	rEnd, oEnd := r.EndLine, o.EndLine
	if rEnd < r.StartLine {
		rEnd = r.StartLine
	}
	if oEnd < o.StartLine {
		oEnd = o.StartLine
	}
	return r.StartLine <= oEnd && o.StartLine <= rEnd
}

// FileEdit is a pending modification to one path: a creation, a deletion, a
// rename, or a set of line replacements, any of which may combine with a
// rename (replacements always apply after the rename).
type FileEdit struct {
	Path         string
	Replacements []Replacement
	IsCreation   bool
	IsDeletion   bool
	RenameTo     string
}

// Merge folds other into f in place, following the merge rule: is_creation
// and is_deletion are OR'd, rename_to takes the latest non-empty value, and
// replacement lists are concatenated (conflict resolution happens later, in
// the editor, once file content is known).
func (f *FileEdit) Merge(other FileEdit) {
	f.IsCreation = f.IsCreation || other.IsCreation
	f.IsDeletion = f.IsDeletion || other.IsDeletion
	if other.RenameTo != "" {
		f.RenameTo = other.RenameTo
	}
	f.Replacements = append(f.Replacements, other.Replacements...)
}

// ResolveConflicts keeps, for each overlapping group of replacements, only
// the one added last (later source order wins), and returns replacements
// sorted ascending by StartLine. A deletion edit has its replacements
// dropped.
func (f *FileEdit) ResolveConflicts() {
	if f.IsDeletion {
		f.Replacements = nil
		return
	}
	if len(f.Replacements) <= 1 {
		return
	}

	kept := make([]Replacement, 0, len(f.Replacements))
	for i, r := range f.Replacements {
		clobbered := false
		for j := i + 1; j < len(f.Replacements); j++ {
			if r.overlaps(f.Replacements[j]) {
				clobbered = true
				break
			}
		}
		if !clobbered {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].StartLine < kept[j].StartLine })
	f.Replacements = kept
}

// DisplayInfo is the render metadata a Format extracts from a special block:
// enough to print a file header, a removed-lines block, and the
// surrounding context lines, without re-parsing the block.
type DisplayInfo struct {
	FileName      string
	NewName       string
	IsRename      bool
	RemovedLines  []string
	PreviousLines []string
	LaterLines    []string
}
