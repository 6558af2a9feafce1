// Package termui renders conversation turns, diffs, and streaming model
// output to the terminal: every user-facing surface (edit previews,
// confirm prompts, streamed tokens) goes through here rather than a raw
// fmt.Print scattered across the session and command packages.
package termui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	added   = color.New(color.FgGreen)
	removed = color.New(color.FgRed)
	header  = color.New(color.Bold, color.FgCyan)
	dim     = color.New(color.FgHiBlack)
)

// Renderer writes to a single output stream, so a caller can swap stdout
// for a buffer in tests or a future TUI collector without touching call
// sites.
type Renderer struct {
	out io.Writer
}

func New(out io.Writer) *Renderer {
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{out: out}
}

// Stdout is the process-wide default output stream.
var Stdout = New(os.Stdout)

func (r *Renderer) Print(text string)                { fmt.Fprint(r.out, text) }
func (r *Renderer) Printf(format string, args ...any) { fmt.Fprintf(r.out, format, args...) }
func (r *Renderer) Println(text string)               { fmt.Fprintln(r.out, text) }
func (r *Renderer) Heading(text string)               { header.Fprintln(r.out, text) }
func (r *Renderer) Dim(text string)                   { dim.Fprintln(r.out, text) }

// Diff renders a unified diff with the conventional red-remove/green-add
// line coloring, driven through fatih/color instead of raw escapes so it
// degrades automatically on a non-tty or NO_COLOR output.
func (r *Renderer) Diff(path, unified string) {
	header.Fprintf(r.out, "--- %s ---\n", path)
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added.Fprintln(r.out, line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed.Fprintln(r.out, line)
		default:
			fmt.Fprintln(r.out, line)
		}
	}
}

// StreamWriter is an io.Writer that forwards whole lines to the renderer as
// they complete, buffering any trailing partial line.
type StreamWriter struct {
	r   *Renderer
	buf strings.Builder
}

func (r *Renderer) NewStreamWriter() *StreamWriter {
	return &StreamWriter{r: r}
}

func (w *StreamWriter) Write(p []byte) (int, error) {
	w.buf.WriteString(string(p))
	for {
		s := w.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		w.r.Println(s[:idx])
		w.buf.Reset()
		w.buf.WriteString(s[idx+1:])
	}
	return len(p), nil
}

// Flush prints any remaining partial line without a trailing newline.
func (w *StreamWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}
	w.r.Print(w.buf.String())
	w.buf.Reset()
}

// Size returns the current terminal width/height, falling back to 80x24 when
// stdout isn't a tty (piped output, CI, tests).
func Size() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return w, h
}

// IsTerminal reports whether stdout is attached to a terminal, used to
// decide whether to show interactive prompts/spinners at all.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ReadLine reads one line from in with the trailing newline stripped, the
// shape Confirm/command-input callers need.
func ReadLine(in io.Reader) (string, error) {
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
