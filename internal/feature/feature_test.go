package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedReader(files map[string]string) ContentSource {
	return func(path string) (string, error) {
		return files[path], nil
	}
}

func TestRenderFileName(t *testing.T) {
	r := NewRenderer(fixedReader(nil), nil)
	f := CodeFeature{Path: "main.go", Level: LevelFileName}
	out, err := r.Render(f)
	require.NoError(t, err)
	assert.Equal(t, "main.go", out)
}

func TestRenderCode(t *testing.T) {
	r := NewRenderer(fixedReader(map[string]string{"a.go": "package a\n"}), nil)
	f := CodeFeature{Path: "a.go", Level: LevelCode}
	out, err := r.Render(f)
	require.NoError(t, err)
	assert.Equal(t, "a.go\npackage a\n", out)
}

func TestRenderIntervalWithDiffAnnotation(t *testing.T) {
	r := NewRenderer(fixedReader(map[string]string{"a.go": "one\ntwo\nthree\n"}), nil)
	f := CodeFeature{
		Path:       "a.go",
		Level:      LevelInterval,
		Intervals:  []Interval{{Start: 1, End: 3}},
		DiffTarget: "HEAD~1",
	}
	out, err := r.Render(f)
	require.NoError(t, err)
	assert.Contains(t, out, "(diff vs HEAD~1)")
	assert.Contains(t, out, "one\ntwo")
	assert.NotContains(t, out, "three")
}

func TestCountTokensDeterministic(t *testing.T) {
	r := NewRenderer(fixedReader(map[string]string{"a.go": "package a\n"}), nil)
	f := CodeFeature{Path: "a.go", Level: LevelCode}

	n1, err := r.CountTokens(f, "test-model")
	require.NoError(t, err)
	n2, err := r.CountTokens(f, "test-model")
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	rendered, err := r.Render(f)
	require.NoError(t, err)
	assert.Equal(t, EstimateTokens(rendered), n1)
}

func TestFeatureKeyEquality(t *testing.T) {
	a := CodeFeature{Path: "x.go", Level: LevelInterval, Intervals: []Interval{{Start: 1, End: 5}}}
	b := CodeFeature{Path: "x.go", Level: LevelInterval, Intervals: []Interval{{Start: 1, End: 5}}}
	c := CodeFeature{Path: "x.go", Level: LevelInterval, Intervals: []Interval{{Start: 1, End: 6}}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSplitFileIntoIntervalsNoOutliner(t *testing.T) {
	content := "a\nb\nc\n"
	intervals := SplitFileIntoIntervals("f.go", content, nil, nil)
	require.Len(t, intervals, 1)
	assert.Equal(t, Interval{Start: 1, End: 5}, intervals[0])
}

func TestSplitFileIntoIntervalsPreservesUserPin(t *testing.T) {
	content := "a\nb\nc\nd\n"
	pinned := []Interval{{Start: 2, End: 3}}
	intervals := SplitFileIntoIntervals("f.go", content, nil, pinned)
	assert.Contains(t, intervals, Interval{Start: 2, End: 3})
}
