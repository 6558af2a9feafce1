package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowgrove/codeloom/internal/conversation"
	"github.com/arrowgrove/codeloom/internal/llmclient"
)

type scriptedClient struct {
	responses []string
	calls     int
	seen      [][]llmclient.Message
}

func (c *scriptedClient) Complete(ctx context.Context, model string, messages []llmclient.Message) (string, *llmclient.TokenUsage, error) {
	c.seen = append(c.seen, messages)
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil, nil
}

func (c *scriptedClient) Stream(ctx context.Context, model string, messages []llmclient.Message) (<-chan llmclient.StreamEvent, error) {
	panic("not used")
}

func (c *scriptedClient) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	panic("not used")
}

type fixedConfirmer struct {
	accept      bool
	replacement []string
}

func (f fixedConfirmer) ConfirmCommands(ctx context.Context, commands []string) (bool, []string, error) {
	return f.accept, f.replacement, nil
}

func noopRunner(ctx context.Context, command string) (string, error) {
	return "ran: " + command, nil
}

func TestEnsureMemoBuildsOnceFromSelectedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("run `go test ./...`"), 0o644))

	client := &scriptedClient{responses: []string{"README.md\n"}}
	conv := conversation.New("sys")
	l := New(root, client, "model", conv, nil)

	require.NoError(t, l.EnsureMemo(context.Background(), []string{"README.md", "main.go"}))
	assert.Contains(t, l.memo, "run `go test ./...`")
	assert.True(t, l.memoBuilt)

	require.NoError(t, l.EnsureMemo(context.Background(), []string{"unused.md"}))
	assert.Equal(t, 1, client.calls)
}

func TestEnsureMemoSkipsUnreadableFiles(t *testing.T) {
	root := t.TempDir()
	client := &scriptedClient{responses: []string{"missing.md\n"}}
	conv := conversation.New("sys")
	l := New(root, client, "model", conv, nil)

	require.NoError(t, l.EnsureMemo(context.Background(), []string{"missing.md"}))
	assert.Empty(t, l.memo)
	assert.True(t, l.memoBuilt)
}

func TestRunReturnsNeedUserRequestOnEmptyCommandList(t *testing.T) {
	client := &scriptedClient{responses: []string{"\n"}}
	conv := conversation.New("sys")
	l := New(t.TempDir(), client, "model", conv, nil)

	needUser, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, needUser)
	assert.Empty(t, conv.GetMessages(false))
}

func TestRunDeclinedByUserIsNeedUserRequest(t *testing.T) {
	client := &scriptedClient{responses: []string{"go test ./...\n"}}
	conv := conversation.New("sys")
	l := New(t.TempDir(), client, "model", conv, fixedConfirmer{accept: false})
	l.Runner = noopRunner

	needUser, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, needUser)
	assert.Empty(t, conv.GetMessages(false))
}

func TestRunExecutesConfirmedCommandsAndFeedsOutputBack(t *testing.T) {
	client := &scriptedClient{responses: []string{"go test ./...\ngo vet ./...\n"}}
	conv := conversation.New("sys")
	l := New(t.TempDir(), client, "model", conv, fixedConfirmer{accept: true})
	l.Runner = noopRunner

	needUser, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, needUser)

	msgs := conv.GetMessages(false)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "ran: go test ./...")
	assert.Contains(t, msgs[1].Content, "ran: go vet ./...")
	assert.Equal(t, "system", msgs[0].Role)
}

func TestRunHonorsUserSuppliedReplacementCommands(t *testing.T) {
	client := &scriptedClient{responses: []string{"go test ./...\n"}}
	conv := conversation.New("sys")
	l := New(t.TempDir(), client, "model", conv, fixedConfirmer{accept: true, replacement: []string{"echo replaced"}})
	l.Runner = noopRunner

	needUser, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, needUser)

	msgs := conv.GetMessages(false)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "ran: echo replaced")
}

func TestRunIncludesMemoInPromptWhenBuilt(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "TESTING.md"), []byte("use go test"), 0o644))

	client := &scriptedClient{responses: []string{"TESTING.md\n", "\n"}}
	conv := conversation.New("sys")
	l := New(root, client, "model", conv, nil)

	require.NoError(t, l.EnsureMemo(context.Background(), []string{"TESTING.md"}))
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, client.seen, 2)
	last := client.seen[1]
	found := false
	for _, m := range last {
		if m.Role == "system" && m.Content != "sys" {
			found = true
		}
	}
	assert.True(t, found, "expected a memo system message in the Phase 2 prompt")
}
