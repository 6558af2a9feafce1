// Package editor implements the Edit Applier & History component: preview,
// per-file conflict resolution, atomic apply, and an undo stack.
package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/parser"
)

// Decision is the user's response to a preview prompt.
type Decision int

const (
	DecisionNo Decision = iota
	DecisionYes
	DecisionIndividual
)

// Confirmer asks the user to approve a previewed change; path is empty for
// the whole-batch prompt.
type Confirmer interface {
	Confirm(path, unifiedDiff string) (Decision, error)
}

// Applier validates, conflict-resolves, and atomically applies FileEdits,
// recording undo frames as it goes.
type Applier struct {
	Root      string
	Confirm   Confirmer
	History   *History
	BackupDir string // relative to Root; "" disables the passive backup mirror

	// Warnf receives a message for any edit skipped because it no longer
	// matches current file content; nil discards warnings.
	Warnf func(format string, args ...any)
}

func NewApplier(root string, confirm Confirmer, history *History, backupDir string) *Applier {
	return &Applier{Root: root, Confirm: confirm, History: history, BackupDir: backupDir}
}

func (a *Applier) warn(format string, args ...any) {
	if a.Warnf != nil {
		a.Warnf(format, args...)
	}
}

// WriteChanges previews, confirms, resolves conflicts on, and applies
// edits, pushing one history frame per call. Returns applied=false if the
// user declined the whole batch.
func (a *Applier) WriteChanges(edits map[string]*parser.FileEdit) (bool, error) {
	if len(edits) == 0 {
		return false, nil
	}

	paths := make([]string, 0, len(edits))
	for p := range edits {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	previews := make(map[string]string, len(paths))
	for _, p := range paths {
		diffText, err := a.previewOne(p, edits[p])
		if err != nil {
			return false, err
		}
		previews[p] = diffText
	}

	selected, err := a.confirmBatch(paths, previews)
	if err != nil {
		return false, err
	}
	if len(selected) == 0 {
		return false, nil
	}

	frame := Frame{Snapshots: map[string]Snapshot{}}
	for _, p := range selected {
		edit := edits[p]
		resolveConflicts(edit)
		if err := a.applyOne(edit, frame); err != nil {
			a.rollback(frame)
			return false, err
		}
	}
	a.History.Push(frame)
	return true, nil
}

// rollback restores every file captured in frame, undoing a transaction
// that failed partway through so no batch is ever left half-applied.
func (a *Applier) rollback(frame Frame) {
	for path, snap := range frame.Snapshots {
		if err := a.Restore(path, snap); err != nil {
			a.warn("rollback failed for %s: %v", path, err)
		}
	}
}

func (a *Applier) confirmBatch(paths []string, previews map[string]string) ([]string, error) {
	if a.Confirm == nil {
		return paths, nil
	}

	var combined strings.Builder
	for _, p := range paths {
		combined.WriteString(previews[p])
	}
	decision, err := a.Confirm.Confirm("", combined.String())
	if err != nil {
		return nil, err
	}
	switch decision {
	case DecisionYes:
		return paths, nil
	case DecisionNo:
		return nil, nil
	default: // Individual
		var selected []string
		for _, p := range paths {
			d, err := a.Confirm.Confirm(p, previews[p])
			if err != nil {
				return nil, err
			}
			if d != DecisionNo {
				selected = append(selected, p)
			}
		}
		return selected, nil
	}
}

func (a *Applier) currentContent(path string) (content string, existed bool, err error) {
	data, err := os.ReadFile(filepath.Join(a.Root, path))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (a *Applier) previewOne(path string, edit *parser.FileEdit) (string, error) {
	target := edit.Path
	if edit.RenameTo != "" {
		target = edit.RenameTo
	}

	current, existed, err := a.currentContent(path)
	if err != nil {
		return "", errs.NewInternalError("read "+path+" for preview", err)
	}

	var proposed string
	switch {
	case edit.IsDeletion:
		proposed = ""
	case !existed:
		proposed = strings.Join(flattenNewLines(edit.Replacements), "\n")
	default:
		lines := splitLinesKeepEmpty(current)
		resolved := cloneResolved(edit)
		if !inBounds(len(lines), resolved) {
			// Matches applyOne's warn-and-skip: show no change rather than a
			// diff computed against ranges that no longer apply.
			proposed = current
		} else {
			merged := applyReplacements(lines, resolved)
			proposed = strings.Join(merged, "\n")
		}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(current, proposed, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, target)
	b.WriteString(dmp.DiffPrettyText(diffs))
	b.WriteString("\n")
	return b.String(), nil
}

func cloneResolved(edit *parser.FileEdit) []parser.Replacement {
	cp := *edit
	resolveConflicts(&cp)
	return cp.Replacements
}

func flattenNewLines(replacements []parser.Replacement) []string {
	var out []string
	for _, r := range replacements {
		out = append(out, r.NewLines...)
	}
	return out
}

func splitLinesKeepEmpty(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// applyOne atomically applies a single resolved edit and records its
// inverse snapshot(s) into frame.
func (a *Applier) applyOne(edit *parser.FileEdit, frame Frame) error {
	srcPath := edit.Path
	dstPath := srcPath
	if edit.RenameTo != "" {
		dstPath = edit.RenameTo
		if _, err := os.Stat(filepath.Join(a.Root, dstPath)); err == nil {
			return errs.NameCollision(dstPath)
		}
	}

	current, existed, err := a.currentContent(srcPath)
	if err != nil {
		return errs.NewInternalError("read "+srcPath, err)
	}
	a.snapshot(frame, srcPath, current, existed)
	if dstPath != srcPath {
		a.snapshot(frame, dstPath, "", false)
	}

	switch {
	case edit.IsDeletion:
		return a.applyDeletion(srcPath)
	case edit.IsCreation:
		content := strings.Join(flattenNewLines(edit.Replacements), "\n")
		return a.atomicWrite(dstPath, content)
	default:
		if !existed {
			a.warn("skipping stale edit for %s: file no longer exists", srcPath)
			return nil
		}
		lines := splitLinesKeepEmpty(current)
		if !inBounds(len(lines), edit.Replacements) {
			a.warn("skipping stale edit for %s: replacement ranges no longer match file", srcPath)
			return nil
		}
		merged := applyReplacements(lines, edit.Replacements)
		content := strings.Join(merged, "\n")
		if err := a.atomicWrite(dstPath, content); err != nil {
			return err
		}
		if dstPath != srcPath {
			return a.applyDeletion(srcPath)
		}
		return nil
	}
}

func (a *Applier) snapshot(frame Frame, path, content string, existed bool) {
	if _, ok := frame.Snapshots[path]; ok {
		return
	}
	frame.Snapshots[path] = Snapshot{Existed: existed, Content: content}
	a.backup(path, content, existed)
}

// backup mirrors pre-edit content into BackupDir, a passive best-effort
// safety net independent of the undo stack.
func (a *Applier) backup(path, content string, existed bool) {
	if a.BackupDir == "" || !existed {
		return
	}
	dst := filepath.Join(a.Root, a.BackupDir, path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(dst, []byte(content), 0o644)
}

func (a *Applier) applyDeletion(path string) error {
	full := filepath.Join(a.Root, path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errs.NewInternalError("delete "+path, err)
	}
	return nil
}

// atomicWrite writes content to path via write-to-temp-then-rename, so a
// mid-write crash never leaves a half-written file in place.
func (a *Applier) atomicWrite(path, content string) error {
	full := filepath.Join(a.Root, path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.NewInternalError("create directory for "+path, err)
	}

	tmp, err := os.CreateTemp(dir, ".codeloom-tmp-*")
	if err != nil {
		return errs.NewInternalError("create temp file for "+path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return errs.NewInternalError("write temp file for "+path, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.NewInternalError("close temp file for "+path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return errs.NewInternalError("rename into place for "+path, err)
	}
	return nil
}

// Restore is a RestoreFunc bound to a's root, used by /undo and /undo-all.
func (a *Applier) Restore(path string, snap Snapshot) error {
	full := filepath.Join(a.Root, path)
	if !snap.Existed {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return errs.NewInternalError("undo remove "+path, err)
		}
		return nil
	}
	return a.atomicWrite(path, snap.Content)
}
