package ctxengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowgrove/codeloom/internal/feature"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestEngine(t *testing.T, root string) *Engine {
	t.Helper()
	ignore, err := NewIgnoreMatcher(root)
	require.NoError(t, err)
	renderer := feature.NewRenderer(func(path string) (string, error) {
		data, err := os.ReadFile(filepath.Join(root, path))
		return string(data), err
	}, nil)
	return NewEngine(root, renderer, ignore, 10_000, 100_000, nil)
}

func TestGetCodeMessageManualMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\nfunc A() {}\n")

	e := newTestEngine(t, dir)
	include := IncludeSet{"a.go": {{Path: "a.go", Level: feature.LevelCode}}}

	result, err := e.GetCodeMessage(context.Background(), "do a thing", 1000, include, nil, ComputeChecksums(dir, []string{"a.go"}), false)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Code Files:")
	assert.Contains(t, result.Text, "func A()")
}

func TestGetCodeMessageCachesOnUnchangedKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	e := newTestEngine(t, dir)
	include := IncludeSet{"a.go": {{Path: "a.go", Level: feature.LevelCode}}}
	sums := ComputeChecksums(dir, []string{"a.go"})

	r1, err := e.GetCodeMessage(context.Background(), "p", 1000, include, nil, sums, false)
	require.NoError(t, err)
	r2, err := e.GetCodeMessage(context.Background(), "p", 1000, include, nil, sums, false)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestGetCodeMessageAutoModeEnumeratesTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\nfunc A() {}\n")
	writeFile(t, dir, "b.go", "package a\nfunc B() {}\n")

	e := newTestEngine(t, dir)
	result, err := e.GetCodeMessage(context.Background(), "", 5000, IncludeSet{}, nil, nil, true)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "a.go")
	assert.Contains(t, result.Text, "b.go")
}

func TestGetCodeMessageNegativeRemainingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	result, err := e.GetCodeMessage(context.Background(), "", 0, IncludeSet{}, nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Text)
}

func TestIgnoreMatcherExcludesGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	m, err := NewIgnoreMatcher(dir)
	require.NoError(t, err)
	assert.True(t, m.Ignored(".git/config"))
	assert.False(t, m.Ignored("main.go"))
}
