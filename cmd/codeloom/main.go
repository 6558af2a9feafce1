// Command codeloom is the CLI entry point: it wires the Session Kernel and
// every singleton component (bus, engine, conversation, command registry,
// LLM client, logger, agent loop) together and hands control to the
// kernel's turn loop.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arrowgrove/codeloom/internal/agentloop"
	"github.com/arrowgrove/codeloom/internal/commands"
	ctxengine "github.com/arrowgrove/codeloom/internal/context"
	"github.com/arrowgrove/codeloom/internal/conversation"
	"github.com/arrowgrove/codeloom/internal/editor"
	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/feature"
	"github.com/arrowgrove/codeloom/internal/filters"
	"github.com/arrowgrove/codeloom/internal/gitprobe"
	"github.com/arrowgrove/codeloom/internal/llmclient"
	"github.com/arrowgrove/codeloom/internal/logging"
	"github.com/arrowgrove/codeloom/internal/parser"
	"github.com/arrowgrove/codeloom/internal/persist"
	"github.com/arrowgrove/codeloom/internal/session"
	"github.com/arrowgrove/codeloom/internal/termui"
)

const systemPrompt = "You are codeloom, an assistant that edits a local code checkout."

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		exclude []string
		ignore  []string
		diff    string
		prDiff  string
		cwd     string
		model   string
	)

	cmd := &cobra.Command{
		Use:   "codeloom [paths...]",
		Short: "An interactive LLM coding assistant for a local checkout",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cwd
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = wd
			}
			resolved, err := gitprobe.ResolveRoot(root)
			if err == nil && resolved != "" {
				root = resolved
			}
			return run(cmd.Context(), root, args, exclude, ignore, diff, prDiff, model)
		},
	}

	cmd.Flags().StringSliceVarP(&exclude, "exclude", "e", nil, "glob(s) to exclude from auto-context")
	cmd.Flags().StringSliceVarP(&ignore, "ignore", "g", nil, "extra gitignore-style pattern file(s)")
	cmd.Flags().StringVarP(&diff, "diff", "d", "", "diff target tree-ish to scope auto-context to")
	cmd.Flags().StringVarP(&prDiff, "pr-diff", "p", "", "diff against the merge-base of HEAD and the given tree-ish")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory to operate in (defaults to the process cwd)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "LLM model name (provider-specific)")

	return cmd
}

func run(ctx context.Context, root string, includePaths, exclude, ignore []string, diffTarget, prDiff, model string) error {
	logger := logging.Get()
	if stateDir, err := persist.StateDir(); err == nil {
		logPath := filepath.Join(stateDir, "session.log")
		logger = logging.New(logPath)
		if linkErr := persist.LinkLatestLog(logPath); linkErr != nil {
			logger.LogError(linkErr)
		}
	}
	defer logger.Close()

	client, err := resolveClient()
	if err != nil {
		return fmt.Errorf("resolve LLM client: %w", err)
	}
	if model == "" {
		model = os.Getenv("CODELOOM_MODEL")
	}

	ignoreMatcher, err := ctxengine.NewIgnoreMatcher(root)
	if err != nil {
		return fmt.Errorf("build ignore matcher: %w", err)
	}
	if err := ignoreMatcher.AddPatterns(exclude); err != nil {
		return fmt.Errorf("compile --exclude patterns: %w", err)
	}
	if err := ignoreMatcher.AddIgnoreFiles(ignore); err != nil {
		return fmt.Errorf("load --ignore file: %w", err)
	}

	outliner := feature.NewSubprocessOutliner("")
	renderer := feature.NewRenderer(func(path string) (string, error) {
		data, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}, outliner)

	filterPipeline := func(c context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error) {
		df := &filters.DefaultFilter{MaxTokens: 6000, Model: model, Renderer: renderer}
		return df.Apply(c, in)
	}
	engine := ctxengine.NewEngine(root, renderer, ignoreMatcher, 6000, 200000, filterPipeline)

	conv := conversation.New(systemPrompt)
	history := editor.NewHistory()
	confirmer := termConfirmer{}
	applier := editor.NewApplier(root, confirmer, history, ".codeloom_backups")

	include := ctxengine.IncludeSet{}
	for _, p := range includePaths {
		data, readErr := os.ReadFile(filepath.Join(root, p))
		if readErr != nil {
			continue
		}
		total := strings.Count(string(data), "\n") + 2
		include[p] = []feature.CodeFeature{{Path: p, Level: feature.LevelCode,
			Intervals: []feature.Interval{{Start: 1, End: total}}, UserIncluded: true}}
	}

	diffCtx := &ctxengine.DiffContext{}
	if target := resolveDiffTarget(root, diffTarget, prDiff); target != "" {
		files, diffErr := gitprobe.PathsWithDiffs(root, target)
		if diffErr == nil {
			*diffCtx = ctxengine.DiffContext{Target: target, Name: target, Files: files}
		}
	}

	agentEnabled := false
	loop := agentloop.New(root, client, model, conv, nil)

	bus := session.NewBus(32)
	kernel := session.NewKernel(bus, logger)
	if err := kernel.Start(); err != nil {
		return err
	}
	defer kernel.Stop(ctx)

	renderCh, unsubRender := bus.Subscribe(session.ChannelDefault)
	defer unsubRender()
	go func() {
		for msg := range renderCh {
			if text, ok := msg.Data.(string); ok {
				termui.Stdout.Println(text)
			}
		}
	}()

	go driveStdinInput(ctx, kernel)

	registry := commands.NewRegistry()
	state := &commands.State{
		Root: root, Include: include, Engine: engine, Conversation: conv,
		History: history, Restore: applier.Restore, AgentEnabled: &agentEnabled,
		Diff: diffCtx, Renderer: renderer,
		Emit: func(s string) { _ = kernel.PublishDefault(ctx, s) },
	}

	return kernel.Run(ctx, func(turnCtx context.Context, input string) error {
		return handleTurn(turnCtx, input, kernel, registry, state, conv, engine, applier, client, model, loop, &agentEnabled)
	})
}

func resolveClient() (llmclient.Client, error) {
	if base := os.Getenv("CODELOOM_OPENAI_BASE_URL"); base != "" {
		return llmclient.NewOpenAICompatibleClient(base, os.Getenv("CODELOOM_OPENAI_API_KEY")), nil
	}
	return llmclient.NewOllamaClient()
}

func resolveDiffTarget(root, diff, prDiff string) string {
	if diff != "" {
		return diff
	}
	if prDiff == "" {
		return ""
	}
	base, err := gitprobe.MergeBase(root, prDiff)
	if err != nil {
		return ""
	}
	return base
}

// handleTurn runs one full turn: dispatch a slash-command, or else send the
// assembled prompt to the model, parse its streamed reply for edits, apply
// them, and (if agent mode is on) run the post-edit agent loop.
func handleTurn(
	ctx context.Context,
	input string,
	kernel *session.Kernel,
	registry commands.Registry,
	state *commands.State,
	conv *conversation.Conversation,
	engine *ctxengine.Engine,
	applier *editor.Applier,
	client llmclient.Client,
	model string,
	loop *agentloop.Loop,
	agentEnabled *bool,
) error {
	if strings.HasPrefix(strings.TrimSpace(input), "/") {
		return registry.Dispatch(ctx, state, input)
	}

	conv.AddUser(input)
	state.History.MarkTurnBoundary()

	result, err := engine.GetCodeMessage(ctx, input, 120000, state.Include, state.Diff, nil, true)
	if err != nil {
		return err
	}

	messages := toLLMMessages(conv.GetMessages(true))
	if result.Text != "" {
		messages = append(messages, llmclient.Message{Role: "system", Content: result.Text})
	}

	stream, err := client.Stream(ctx, model, messages)
	if err != nil {
		return errs.NewProviderError("turn completion", err)
	}

	lines := make(chan string, 16)
	events := make(chan parser.RenderEvent, 64)
	p := parser.New(&parser.BlockFormat{ReadFile: func(path string) (string, error) {
		data, readErr := os.ReadFile(filepath.Join(state.Root, path))
		return string(data), readErr
	}, ContextLines: 3})

	parseResult := make(chan struct {
		res *parser.Result
		err error
	}, 1)
	go func() {
		res, parseErr := p.Parse(ctx, lines, events)
		parseResult <- struct {
			res *parser.Result
			err error
		}{res, parseErr}
	}()

	go renderEvents(ctx, events, kernel)

	var assistantText strings.Builder
	for ev := range stream {
		if ev.Err != nil {
			close(lines)
			return errs.NewProviderError("turn stream", ev.Err)
		}
		assistantText.WriteString(ev.Content)
		for _, line := range splitKeepNewline(ev.Content) {
			select {
			case lines <- line:
			case <-ctx.Done():
				close(lines)
				return ctx.Err()
			}
		}
		if ev.Done {
			break
		}
	}
	close(lines)
	outcome := <-parseResult
	close(events)
	if outcome.err != nil {
		return outcome.err
	}

	conv.AddAssistant(assistantText.String(), input)

	if len(outcome.res.Edits) > 0 {
		applied, applyErr := applier.WriteChanges(outcome.res.Edits)
		if applyErr != nil {
			return applyErr
		}
		_ = kernel.PublishEditsComplete(ctx, applied)
	}

	if *agentEnabled {
		needUser, agentErr := loop.Run(ctx)
		if agentErr != nil {
			return agentErr
		}
		if needUser {
			_ = kernel.PublishDefault(ctx, "agent loop needs your input")
		}
	}

	return nil
}

func renderEvents(ctx context.Context, events <-chan parser.RenderEvent, kernel *session.Kernel) {
	for ev := range events {
		switch ev.Kind {
		case parser.EventConversation, parser.EventContextLine:
			_ = kernel.PublishDefault(ctx, ev.Text)
		case parser.EventAddedLine:
			_ = kernel.PublishDefault(ctx, "+"+ev.Text)
		case parser.EventRemovedLine:
			_ = kernel.PublishDefault(ctx, "-"+ev.Text)
		case parser.EventFileHeader:
			_ = kernel.PublishDefault(ctx, "=== "+ev.Text+" ===")
		case parser.EventModelError:
			_ = kernel.PublishDefault(ctx, "parse error: "+ev.Text)
		}
	}
}

func splitKeepNewline(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func toLLMMessages(msgs []conversation.Message) []llmclient.Message {
	out := make([]llmclient.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llmclient.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// driveStdinInput relays stdin lines to whichever input_request the kernel
// currently has pending. It subscribes once, for its whole lifetime, since
// a per-iteration Subscribe would race: the kernel's first input_request
// may already have been published (and delivered to zero subscribers)
// before this goroutine got a chance to subscribe to it.
func driveStdinInput(ctx context.Context, kernel *session.Kernel) {
	ch, unsub := kernel.Bus.Subscribe(session.ChannelInputRequest)
	defer unsub()

	for {
		msg, ok := <-ch
		if !ok {
			return
		}
		line, err := termui.ReadLine(os.Stdin)
		if err != nil {
			return
		}
		if err := kernel.RespondToInput(ctx, msg.ID, line); err != nil {
			return
		}
	}
}

// termConfirmer renders a diff and reads y/n/i from stdin.
type termConfirmer struct{}

func (termConfirmer) Confirm(path, unifiedDiff string) (editor.Decision, error) {
	termui.Stdout.Diff(path, unifiedDiff)
	termui.Stdout.Print("apply? [y/n/i] ")
	line, err := termui.ReadLine(os.Stdin)
	if err != nil {
		return editor.DecisionNo, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "":
		return editor.DecisionYes, nil
	case "i":
		return editor.DecisionIndividual, nil
	default:
		return editor.DecisionNo, nil
	}
}
