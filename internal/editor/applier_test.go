package editor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowgrove/codeloom/internal/parser"
)

// acceptAll confirms every prompt with Yes, recording the paths it saw.
type acceptAll struct {
	seen []string
}

func (a *acceptAll) Confirm(path, _ string) (Decision, error) {
	a.seen = append(a.seen, path)
	return DecisionYes, nil
}

type rejectAll struct{}

func (rejectAll) Confirm(string, string) (Decision, error) { return DecisionNo, nil }

func newTestApplier(t *testing.T, confirm Confirmer) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	h := NewHistory()
	return NewApplier(root, confirm, h, ".codeloom_backups"), root
}

func TestWriteChangesCreatesFile(t *testing.T) {
	confirm := &acceptAll{}
	a, root := newTestApplier(t, confirm)

	edits := map[string]*parser.FileEdit{
		"new.go": {
			Path:       "new.go",
			IsCreation: true,
			Replacements: []parser.Replacement{
				{StartLine: 1, EndLine: 0, NewLines: []string{"package main", "", "func main() {}"}},
			},
		},
	}

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.True(t, applied)

	data, err := os.ReadFile(filepath.Join(root, "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}", string(data))
	assert.Equal(t, 1, a.History.Depth())
}

func TestWriteChangesReplacesLines(t *testing.T) {
	confirm := &acceptAll{}
	a, root := newTestApplier(t, confirm)

	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.go"), []byte("a\nb\nc\n"), 0o644))
	// trailing "\n" means the file, split on "\n", is ["a","b","c",""]
	edits := map[string]*parser.FileEdit{
		"existing.go": {
			Path: "existing.go",
			Replacements: []parser.Replacement{
				{StartLine: 2, EndLine: 2, NewLines: []string{"B"}},
			},
		},
	}

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.True(t, applied)

	data, err := os.ReadFile(filepath.Join(root, "existing.go"))
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(data))
}

func TestWriteChangesDeletesFile(t *testing.T) {
	confirm := &acceptAll{}
	a, root := newTestApplier(t, confirm)

	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("bye\n"), 0o644))

	edits := map[string]*parser.FileEdit{
		"gone.go": {Path: "gone.go", IsDeletion: true},
	}

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.True(t, applied)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteChangesRenameCollisionFails(t *testing.T) {
	confirm := &acceptAll{}
	a, root := newTestApplier(t, confirm)

	require.NoError(t, os.WriteFile(filepath.Join(root, "old.go"), []byte("a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "taken.go"), []byte("b\n"), 0o644))

	edits := map[string]*parser.FileEdit{
		"old.go": {Path: "old.go", RenameTo: "taken.go"},
	}

	_, err := a.WriteChanges(edits)
	require.Error(t, err)
}

func TestWriteChangesDeclinedLeavesFilesUntouched(t *testing.T) {
	a, root := newTestApplier(t, rejectAll{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.go"), []byte("a\n"), 0o644))

	edits := map[string]*parser.FileEdit{
		"keep.go": {
			Path:         "keep.go",
			Replacements: []parser.Replacement{{StartLine: 1, EndLine: 1, NewLines: []string{"z"}}},
		},
	}

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.False(t, applied)

	data, err := os.ReadFile(filepath.Join(root, "keep.go"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
	assert.Equal(t, 0, a.History.Depth())
}

func TestWriteChangesSkipsStaleReplacement(t *testing.T) {
	a, root := newTestApplier(t, &acceptAll{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "short.go"), []byte("a\n"), 0o644))

	edits := map[string]*parser.FileEdit{
		"short.go": {
			Path: "short.go",
			Replacements: []parser.Replacement{
				{StartLine: 10, EndLine: 10, NewLines: []string{"z"}},
			},
		},
	}

	var warned []string
	a.Warnf = func(format string, args ...any) { warned = append(warned, format) }

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.True(t, applied) // batch committed, just this file's content untouched
	assert.NotEmpty(t, warned)

	data, err := os.ReadFile(filepath.Join(root, "short.go"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
}

func TestUndoRestoresPreviousContent(t *testing.T) {
	a, root := newTestApplier(t, &acceptAll{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte("old\n"), 0o644))

	edits := map[string]*parser.FileEdit{
		"f.go": {
			Path:         "f.go",
			Replacements: []parser.Replacement{{StartLine: 1, EndLine: 1, NewLines: []string{"new"}}},
		},
	}
	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	require.True(t, applied)

	data, err := os.ReadFile(filepath.Join(root, "f.go"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))

	ok, err := a.History.Undo(a.Restore)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err = os.ReadFile(filepath.Join(root, "f.go"))
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
}

func TestUndoOfCreationRemovesFile(t *testing.T) {
	a, root := newTestApplier(t, &acceptAll{})

	edits := map[string]*parser.FileEdit{
		"brand_new.go": {
			Path:         "brand_new.go",
			IsCreation:   true,
			Replacements: []parser.Replacement{{StartLine: 1, EndLine: 0, NewLines: []string{"x"}}},
		},
	}
	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	require.True(t, applied)

	path := filepath.Join(root, "brand_new.go")
	_, err = os.Stat(path)
	require.NoError(t, err)

	ok, err := a.History.Undo(a.Restore)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestConfirmBatchIndividualSelectsSubset(t *testing.T) {
	a, root := newTestApplier(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.go"), []byte("1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "y.go"), []byte("1\n"), 0o644))

	a.Confirm = individualConfirmer{yes: map[string]bool{"x.go": true, "y.go": false}}

	edits := map[string]*parser.FileEdit{
		"x.go": {Path: "x.go", Replacements: []parser.Replacement{{StartLine: 1, EndLine: 1, NewLines: []string{"X"}}}},
		"y.go": {Path: "y.go", Replacements: []parser.Replacement{{StartLine: 1, EndLine: 1, NewLines: []string{"Y"}}}},
	}

	applied, err := a.WriteChanges(edits)
	require.NoError(t, err)
	assert.True(t, applied)

	xData, err := os.ReadFile(filepath.Join(root, "x.go"))
	require.NoError(t, err)
	assert.Equal(t, "X\n", string(xData))

	yData, err := os.ReadFile(filepath.Join(root, "y.go"))
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(yData))
}

// individualConfirmer always picks Individual for the batch prompt (path=="")
// then decides per path from yes.
type individualConfirmer struct {
	yes map[string]bool
}

func (c individualConfirmer) Confirm(path, _ string) (Decision, error) {
	if path == "" {
		return DecisionIndividual, nil
	}
	if c.yes[path] {
		return DecisionYes, nil
	}
	return DecisionNo, nil
}
