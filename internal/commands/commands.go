// Package commands implements the Command Interpreter: slash-commands
// that mutate context/conversation state. Each command is a small
// capability — Apply/Arguments/Autocomplete/Help — registered by name in a
// map built at session construction; there is no dynamic plugin loading.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ctxengine "github.com/arrowgrove/codeloom/internal/context"
	"github.com/arrowgrove/codeloom/internal/conversation"
	"github.com/arrowgrove/codeloom/internal/editor"
	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/feature"
	"github.com/arrowgrove/codeloom/internal/gitprobe"
)

// ArgSpec describes one positional argument a command accepts.
type ArgSpec struct {
	Name     string
	Required bool
	Variadic bool
}

// Command is the capability every slash-command satisfies.
type Command interface {
	Name() string
	Apply(ctx context.Context, s *State, args []string) error
	Arguments() []ArgSpec
	Autocomplete(s *State, args []string, pos int) []string
	Help() string
}

// State is the mutable session state commands act on. It deliberately holds
// no reference to internal/session, so commands never import the kernel
// it's dispatched from.
type State struct {
	Root         string
	Include      ctxengine.IncludeSet
	Engine       *ctxengine.Engine
	Conversation *conversation.Conversation
	History      *editor.History
	Restore      editor.RestoreFunc
	AgentEnabled *bool
	Diff         *ctxengine.DiffContext
	Renderer     *feature.Renderer

	// Emit reports command output (confirmations, listings, errors) back to
	// the user; wired to the session bus's default channel by the caller.
	Emit func(string)
}

func (s *State) emit(format string, args ...any) {
	if s.Emit != nil {
		s.Emit(fmt.Sprintf(format, args...))
	}
}

// Registry maps command name (without the leading "/") to its Command.
type Registry map[string]Command

// NewRegistry builds the fixed command set.
func NewRegistry() Registry {
	reg := Registry{}
	for _, c := range []Command{
		includeCommand{},
		excludeCommand{},
		clearCommand{},
		undoCommand{},
		undoAllCommand{},
		contextCommand{},
		agentCommand{},
		commitCommand{},
		diffCommand{},
		helpCommand{},
	} {
		reg[c.Name()] = c
	}
	return reg
}

// Dispatch parses a raw "/name arg1 arg2" line and applies the matching
// command. Unknown commands fail softly with a UserError.
func (r Registry) Dispatch(ctx context.Context, s *State, line string) error {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	if line == "" {
		return errs.NewUserError("empty command", nil)
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	cmd, ok := r[name]
	if !ok {
		return errs.NewUserError(fmt.Sprintf("unknown command %q", name), nil)
	}
	return cmd.Apply(ctx, s, args)
}

// parsePathRange splits "path" or "path:start-end" into a path and an
// optional 1-indexed, inclusive [start,end] (both zero when no range was
// given).
func parsePathRange(arg string) (path string, start, end int, err error) {
	idx := strings.LastIndex(arg, ":")
	if idx < 0 {
		return arg, 0, 0, nil
	}
	path = arg[:idx]
	rangePart := arg[idx+1:]
	dash := strings.Index(rangePart, "-")
	if dash < 0 {
		return "", 0, 0, fmt.Errorf("malformed range %q: expected start-end", rangePart)
	}
	start, err = strconv.Atoi(rangePart[:dash])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed range start %q: %w", rangePart[:dash], err)
	}
	end, err = strconv.Atoi(rangePart[dash+1:])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed range end %q: %w", rangePart[dash+1:], err)
	}
	return path, start, end, nil
}

// --- include ---

type includeCommand struct{}

func (includeCommand) Name() string { return "include" }
func (includeCommand) Arguments() []ArgSpec {
	return []ArgSpec{{Name: "path[:start-end]", Required: true, Variadic: true}}
}
func (includeCommand) Help() string {
	return "include <path[:start-end]> [...] — pin a file, or a line range of it, into every turn's context"
}
func (includeCommand) Autocomplete(s *State, args []string, pos int) []string {
	return completeRepoPaths(s, lastArg(args, pos))
}

func (includeCommand) Apply(_ context.Context, s *State, args []string) error {
	if len(args) == 0 {
		return errs.NewUserError("include requires at least one path", nil)
	}
	for _, arg := range args {
		path, start, end, err := parsePathRange(arg)
		if err != nil {
			return errs.NewUserError(err.Error(), err)
		}

		content, err := os.ReadFile(filepath.Join(s.Root, path))
		if err != nil {
			return errs.NewUserError(fmt.Sprintf("cannot read %q", path), err)
		}

		var f feature.CodeFeature
		if start > 0 {
			f = feature.CodeFeature{Path: path, Level: feature.LevelInterval,
				Intervals: []feature.Interval{{Start: start, End: end + 1}}, UserIncluded: true}
		} else {
			total := strings.Count(string(content), "\n") + 2
			f = feature.CodeFeature{Path: path, Level: feature.LevelCode,
				Intervals: []feature.Interval{{Start: 1, End: total}}, UserIncluded: true}
		}
		s.Include[path] = append(s.Include[path], f)
		s.emit("included %s", arg)
	}
	if s.Engine != nil {
		s.Engine.ResetCache()
	}
	return nil
}

// --- exclude ---

type excludeCommand struct{}

func (excludeCommand) Name() string { return "exclude" }
func (excludeCommand) Arguments() []ArgSpec {
	return []ArgSpec{{Name: "path", Required: true, Variadic: true}}
}
func (excludeCommand) Help() string { return "exclude <path> [...] — drop a file from the include set" }
func (excludeCommand) Autocomplete(s *State, args []string, pos int) []string {
	return completeIncludedPaths(s, lastArg(args, pos))
}

func (excludeCommand) Apply(_ context.Context, s *State, args []string) error {
	if len(args) == 0 {
		return errs.NewUserError("exclude requires at least one path", nil)
	}
	for _, path := range args {
		if _, ok := s.Include[path]; !ok {
			s.emit("%s was not included", path)
			continue
		}
		delete(s.Include, path)
		s.emit("excluded %s", path)
	}
	if s.Engine != nil {
		s.Engine.ResetCache()
	}
	return nil
}

// --- clear ---

type clearCommand struct{}

func (clearCommand) Name() string                 { return "clear" }
func (clearCommand) Arguments() []ArgSpec          { return nil }
func (clearCommand) Help() string                  { return "clear — wipe the conversation and auto-context cache" }
func (clearCommand) Autocomplete(*State, []string, int) []string { return nil }

func (clearCommand) Apply(_ context.Context, s *State, _ []string) error {
	s.Conversation.Clear()
	if s.Engine != nil {
		s.Engine.ResetCache()
	}
	s.emit("conversation cleared")
	return nil
}

// --- undo / undo-all ---

type undoCommand struct{}

func (undoCommand) Name() string                 { return "undo" }
func (undoCommand) Arguments() []ArgSpec          { return nil }
func (undoCommand) Help() string                 { return "undo — revert the most recent edit frame" }
func (undoCommand) Autocomplete(*State, []string, int) []string { return nil }

func (undoCommand) Apply(_ context.Context, s *State, _ []string) error {
	ok, err := s.History.Undo(s.Restore)
	if err != nil {
		return errs.NewInternalError("undo", err)
	}
	if !ok {
		s.emit("nothing to undo")
		return nil
	}
	s.emit("undid last edit")
	return nil
}

type undoAllCommand struct{}

func (undoAllCommand) Name() string                 { return "undo-all" }
func (undoAllCommand) Arguments() []ArgSpec          { return nil }
func (undoAllCommand) Help() string                 { return "undo-all — revert every edit frame pushed since the last user message" }
func (undoAllCommand) Autocomplete(*State, []string, int) []string { return nil }

func (undoAllCommand) Apply(_ context.Context, s *State, _ []string) error {
	n, err := s.History.UndoAll(s.Restore)
	if err != nil {
		return errs.NewInternalError("undo-all", err)
	}
	s.emit("undid %d edit frame(s)", n)
	return nil
}

// --- context ---

type contextCommand struct{}

func (contextCommand) Name() string                 { return "context" }
func (contextCommand) Arguments() []ArgSpec          { return nil }
func (contextCommand) Help() string                 { return "context — print the current include set" }
func (contextCommand) Autocomplete(*State, []string, int) []string { return nil }

func (contextCommand) Apply(_ context.Context, s *State, _ []string) error {
	if len(s.Include) == 0 {
		s.emit("no files included")
		return nil
	}
	paths := make([]string, 0, len(s.Include))
	for p := range s.Include {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("included files:\n")
	for _, p := range paths {
		for _, f := range s.Include[p] {
			fmt.Fprintf(&b, "  %s\n", describeFeature(f))
		}
	}
	s.emit("%s", strings.TrimSuffix(b.String(), "\n"))
	return nil
}

func describeFeature(f feature.CodeFeature) string {
	if f.Level == feature.LevelCode || len(f.Intervals) == 0 {
		return f.Path
	}
	parts := make([]string, len(f.Intervals))
	for i, iv := range f.Intervals {
		parts[i] = fmt.Sprintf("%d-%d", iv.Start, iv.End-1)
	}
	return fmt.Sprintf("%s:%s", f.Path, strings.Join(parts, ","))
}

// --- agent ---

type agentCommand struct{}

func (agentCommand) Name() string                 { return "agent" }
func (agentCommand) Arguments() []ArgSpec          { return nil }
func (agentCommand) Help() string                 { return "agent — toggle autonomous post-edit command execution" }
func (agentCommand) Autocomplete(*State, []string, int) []string { return nil }

func (agentCommand) Apply(_ context.Context, s *State, _ []string) error {
	if s.AgentEnabled == nil {
		return errs.NewInternalError("agent toggle", fmt.Errorf("no agent state wired"))
	}
	*s.AgentEnabled = !*s.AgentEnabled
	state := "disabled"
	if *s.AgentEnabled {
		state = "enabled"
	}
	s.emit("agent mode %s", state)
	return nil
}

// --- commit ---

type commitCommand struct{}

func (commitCommand) Name() string { return "commit" }
func (commitCommand) Arguments() []ArgSpec {
	return []ArgSpec{{Name: "message", Required: false, Variadic: true}}
}
func (commitCommand) Help() string                 { return "commit [message] — git add -A && git commit" }
func (commitCommand) Autocomplete(*State, []string, int) []string { return nil }

func (commitCommand) Apply(_ context.Context, s *State, args []string) error {
	message := strings.Join(args, " ")
	if message == "" {
		message = "codeloom: apply pending edits"
	}
	if err := gitAddAndCommit(s.Root, message); err != nil {
		return errs.NewUserError("commit failed", err)
	}
	s.emit("committed: %s", message)
	return nil
}

// --- diff ---

type diffCommand struct{}

func (diffCommand) Name() string { return "diff" }
func (diffCommand) Arguments() []ArgSpec {
	return []ArgSpec{{Name: "treeish", Required: false}}
}
func (diffCommand) Help() string                 { return "diff [treeish] — show (or retarget) the active diff context" }
func (diffCommand) Autocomplete(*State, []string, int) []string { return nil }

func (diffCommand) Apply(_ context.Context, s *State, args []string) error {
	if len(args) == 0 {
		if s.Diff == nil || s.Diff.Target == "" {
			s.emit("no diff target set")
			return nil
		}
		text, err := gitprobe.Diff(s.Root, s.Diff.Target, "")
		if err != nil {
			return errs.NewUserError("diff failed", err)
		}
		s.emit("%s", text)
		return nil
	}

	target := args[0]
	if !gitprobe.TreeishExists(s.Root, target) {
		return errs.NewUserError(fmt.Sprintf("unknown tree-ish %q", target), nil)
	}
	files, err := gitprobe.PathsWithDiffs(s.Root, target)
	if err != nil {
		return errs.NewUserError("diff failed", err)
	}
	*s.Diff = ctxengine.DiffContext{Target: target, Name: target, Files: files}
	if s.Engine != nil {
		s.Engine.ResetCache()
	}
	s.emit("diff target set to %s (%d file(s))", target, len(files))
	return nil
}

// --- help ---

type helpCommand struct{}

func (helpCommand) Name() string                 { return "help" }
func (helpCommand) Arguments() []ArgSpec          { return []ArgSpec{{Name: "command", Required: false}} }
func (helpCommand) Help() string                 { return "help [command] — list commands, or describe one" }
func (helpCommand) Autocomplete(*State, []string, int) []string { return nil }

func (helpCommand) Apply(_ context.Context, s *State, args []string) error {
	reg := NewRegistry()
	if len(args) > 0 {
		cmd, ok := reg[args[0]]
		if !ok {
			return errs.NewUserError(fmt.Sprintf("unknown command %q", args[0]), nil)
		}
		s.emit("%s", cmd.Help())
		return nil
	}

	names := make([]string, 0, len(reg))
	for n := range reg {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "/%s\n", n)
	}
	s.emit("%s", strings.TrimSuffix(b.String(), "\n"))
	return nil
}

func lastArg(args []string, pos int) string {
	if pos < 0 || pos >= len(args) {
		return ""
	}
	return args[pos]
}

func completeRepoPaths(s *State, prefix string) []string {
	var out []string
	_ = filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func completeIncludedPaths(s *State, prefix string) []string {
	var out []string
	for p := range s.Include {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
