package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrowgrove/codeloom/internal/conversation"
)

func TestSplitKeepNewlinePreservesTerminators(t *testing.T) {
	assert.Equal(t, []string{"a\n", "b\n", "c"}, splitKeepNewline("a\nb\nc"))
	assert.Equal(t, []string{"a\n", "b\n"}, splitKeepNewline("a\nb\n"))
	assert.Nil(t, splitKeepNewline(""))
}

func TestToLLMMessagesPreservesRoleAndContent(t *testing.T) {
	msgs := []conversation.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	out := toLLMMessages(msgs)
	assert.Len(t, out, 2)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "hi", out[0].Content)
	assert.Equal(t, "assistant", out[1].Role)
	assert.Equal(t, "hello", out[1].Content)
}

func TestRootCommandRegistersExpectedFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"exclude", "ignore", "diff", "pr-diff", "cwd", "model"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected --%s flag to be registered", name)
	}
}

func TestResolveDiffTargetPrefersExplicitDiffOverPRDiff(t *testing.T) {
	assert.Equal(t, "main", resolveDiffTarget(t.TempDir(), "main", "feature-branch"))
}

func TestResolveDiffTargetEmptyWhenNeitherSet(t *testing.T) {
	assert.Equal(t, "", resolveDiffTarget(t.TempDir(), "", ""))
}
