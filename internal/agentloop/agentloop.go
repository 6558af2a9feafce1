// Package agentloop implements the Agent Loop: an optional autonomous mode
// that, after an edit round, selects shell commands to validate the edits
// and feeds their output back into the conversation. It runs in two
// phases: a once-only file-discovery memo, then per-turn command
// selection.
package agentloop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arrowgrove/codeloom/internal/conversation"
	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/llmclient"
)

// Confirmer asks the user to approve (or replace) a proposed command list.
// accept=false means the user declined outright; a non-empty replacement
// overrides commands even when accept is true.
type Confirmer interface {
	ConfirmCommands(ctx context.Context, commands []string) (accept bool, replacement []string, err error)
}

// CommandRunner executes one shell command and returns its combined output.
type CommandRunner func(ctx context.Context, command string) (output string, err error)

// DefaultRunner runs command through "sh -c" and captures combined output.
func DefaultRunner(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Loop holds the state of one session's agent mode: the once-built test
// discovery memo (Phase 1) and everything Phase 2 needs to pick, confirm,
// and run commands each turn.
type Loop struct {
	Root         string
	Client       llmclient.Client
	Model        string
	Conversation *conversation.Conversation
	Confirm      Confirmer
	Runner       CommandRunner

	mu        sync.Mutex
	memo      string
	memoBuilt bool
}

func New(root string, client llmclient.Client, model string, conv *conversation.Conversation, confirm Confirmer) *Loop {
	return &Loop{Root: root, Client: client, Model: model, Conversation: conv, Confirm: confirm, Runner: DefaultRunner}
}

// EnsureMemo runs Phase 1 exactly once across this Loop's lifetime: ask the
// model which of the given file names describe how to test the project,
// then persist their contents as the agent memo. A later call is a no-op.
func (l *Loop) EnsureMemo(ctx context.Context, fileNames []string) error {
	l.mu.Lock()
	if l.memoBuilt {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	prompt := "Which files describe how to test this project? Respond with one file path per line and nothing else.\n\nFiles:\n" +
		strings.Join(fileNames, "\n")
	resp, _, err := l.Client.Complete(ctx, l.Model, []llmclient.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return errs.NewProviderError("agent memo file selection", err)
	}

	var b strings.Builder
	for _, path := range parseLines(resp) {
		content, readErr := os.ReadFile(filepath.Join(l.Root, path))
		if readErr != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", path, content)
	}

	l.mu.Lock()
	l.memo = strings.TrimSpace(b.String())
	l.memoBuilt = true
	l.mu.Unlock()
	return nil
}

// Run executes Phase 2: ask the model for a newline-separated list of shell
// commands to validate the last edit round, confirm with the user, run
// them, and feed their output back as a system message. needUserRequest is
// true when the command list came back empty or the user declined —
// signalling the kernel should return to the input prompt rather than loop
// the agent again.
func (l *Loop) Run(ctx context.Context) (needUserRequest bool, err error) {
	l.mu.Lock()
	memo := l.memo
	l.mu.Unlock()

	messages := toLLMMessages(l.Conversation.GetMessages(true))
	if memo != "" {
		messages = append(messages, llmclient.Message{Role: "system", Content: "Testing memo:\n" + memo})
	}
	messages = append(messages, llmclient.Message{
		Role: "user",
		Content: "List the shell commands, one per line, that should run now to validate the last edit round. " +
			"Respond with nothing if none are needed.",
	})

	resp, _, err := l.Client.Complete(ctx, l.Model, messages)
	if err != nil {
		return true, errs.NewProviderError("agent command selection", err)
	}

	commands := parseLines(resp)
	if len(commands) == 0 {
		return true, nil
	}

	final := commands
	if l.Confirm != nil {
		accept, replacement, confirmErr := l.Confirm.ConfirmCommands(ctx, commands)
		if confirmErr != nil {
			return true, confirmErr
		}
		if !accept {
			return true, nil
		}
		if len(replacement) > 0 {
			final = replacement
		}
	}

	for _, cmd := range final {
		output, runErr := l.Runner(ctx, cmd)
		l.Conversation.AddSystem(formatCommandResult(cmd, output, runErr))
	}
	return false, nil
}

func formatCommandResult(cmd, output string, err error) string {
	if err != nil {
		return fmt.Sprintf("command `%s` failed: %v\noutput:\n%s", cmd, err, output)
	}
	return fmt.Sprintf("command `%s` produced the following output:\n\n%s", cmd, output)
}

func parseLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func toLLMMessages(msgs []conversation.Message) []llmclient.Message {
	out := make([]llmclient.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llmclient.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
