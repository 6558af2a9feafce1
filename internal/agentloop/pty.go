package agentloop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// InteractivePTYRunner builds a CommandRunner that runs each command under a
// pseudo-terminal instead of a plain pipe, for commands (test runners,
// formatters) that only emit color or progress output when they detect a
// tty. This is a one-shot run-and-capture shape (no resize/input
// streaming), since nothing here keeps the session open for interactive
// typing.
func InteractivePTYRunner(dir string) CommandRunner {
	return func(ctx context.Context, command string) (string, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"TERM=xterm-256color",
			"COLORTERM=truecolor",
		)

		ptyFile, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
		if err != nil {
			return "", fmt.Errorf("start pty for %q: %w", command, err)
		}
		defer ptyFile.Close()

		var buf bytes.Buffer
		copyDone := make(chan struct{})
		go func() {
			io.Copy(&buf, ptyFile)
			close(copyDone)
		}()

		waitErr := cmd.Wait()
		<-copyDone
		return buf.String(), waitErr
	}
}
