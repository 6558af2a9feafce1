package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowgrove/codeloom/internal/conversation"
)

func withTempStateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Setenv("XDG_STATE_HOME", dir))
	t.Cleanup(func() { os.Unsetenv("XDG_STATE_HOME") })
	return dir
}

func TestStateDirUsesXDGStateHome(t *testing.T) {
	base := withTempStateDir(t)
	dir, err := StateDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "codeloom"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTranscriptAppendAndReadAll(t *testing.T) {
	withTempStateDir(t)
	tr, err := OpenTranscript("session-1")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	msgs := []conversation.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	require.NoError(t, tr.Append(msgs, now))

	entries, err := tr.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)
	assert.True(t, entries[0].Timestamp.Equal(now))
}

func TestTranscriptAppendIsCumulativeAcrossCalls(t *testing.T) {
	withTempStateDir(t)
	tr, err := OpenTranscript("session-2")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, tr.Append([]conversation.Message{{Role: "user", Content: "first"}}, now))
	require.NoError(t, tr.Append([]conversation.Message{{Role: "user", Content: "second"}}, now))

	entries, err := tr.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "second", entries[1].Content)
}

func TestTranscriptReadAllMissingFileReturnsEmpty(t *testing.T) {
	withTempStateDir(t)
	tr, err := OpenTranscript("never-written")
	require.NoError(t, err)

	entries, err := tr.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscriptAppendNoopOnEmptySlice(t *testing.T) {
	withTempStateDir(t)
	tr, err := OpenTranscript("session-3")
	require.NoError(t, err)
	require.NoError(t, tr.Append(nil, time.Now()))

	_, err = os.Stat(tr.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestLinkLatestLogCreatesSymlink(t *testing.T) {
	base := withTempStateDir(t)
	logFile := filepath.Join(base, "workspace.log")
	require.NoError(t, os.WriteFile(logFile, []byte("log line\n"), 0o644))

	require.NoError(t, LinkLatestLog(logFile))

	linkPath := filepath.Join(base, "codeloom", "latest.log")
	target, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, logFile, target)
}

func TestLinkLatestLogReplacesExistingLink(t *testing.T) {
	base := withTempStateDir(t)
	first := filepath.Join(base, "first.log")
	second := filepath.Join(base, "second.log")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0o644))

	require.NoError(t, LinkLatestLog(first))
	require.NoError(t, LinkLatestLog(second))

	linkPath := filepath.Join(base, "codeloom", "latest.log")
	target, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, second, target)
}
