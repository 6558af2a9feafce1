package filters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowgrove/codeloom/internal/feature"
)

func TestTruncateFilterDropsOverBudget(t *testing.T) {
	renderer := feature.NewRenderer(func(path string) (string, error) { return "0123456789", nil }, nil) // renders as "a.go\n0123456789": 15 bytes -> 8 tokens
	f := &TruncateFilter{MaxTokens: 12, Model: "m", Renderer: renderer}

	in := []feature.CodeFeature{
		{Path: "a.go", Level: feature.LevelCode},
		{Path: "b.go", Level: feature.LevelCode},
	}
	out, err := f.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "a.go", out[0].Path)
}

func TestTruncateFilterRespectsUserInclude(t *testing.T) {
	renderer := feature.NewRenderer(func(path string) (string, error) { return "0123456789", nil }, nil)
	f := &TruncateFilter{MaxTokens: 5, Model: "m", RespectUserInclude: true, Renderer: renderer}

	in := []feature.CodeFeature{
		{Path: "a.go", Level: feature.LevelCode, UserIncluded: true},
		{Path: "b.go", Level: feature.LevelCode},
	}
	out, err := f.Apply(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a.go", out[0].Path)
}

func TestParseSelectorResponse(t *testing.T) {
	refs, err := parseSelectorResponse("main.go:10-20\nutil.go\n")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "main.go", refs[0].path)
	assert.True(t, refs[0].hasRange)
	assert.Equal(t, 10, refs[0].start)
	assert.Equal(t, 21, refs[0].end)
	assert.Equal(t, "util.go", refs[1].path)
	assert.False(t, refs[1].hasRange)
}

func TestParseSelectorResponseEmptyIsError(t *testing.T) {
	_, err := parseSelectorResponse("not a reference at all!!\n")
	assert.Error(t, err)
}
