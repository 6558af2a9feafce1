package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/logging"
)

// TurnHandler runs one turn (one collected user input through to edits
// applied and any agent follow-up) and reports whatever error occurred.
type TurnHandler func(ctx context.Context, input string) error

// Kernel is the single-threaded cooperative scheduler: it owns the bus,
// the collect_user_input() protocol, and the turn loop's error-boundary
// policy — only SessionExit and outer cancellation escape Run. A second
// goroutine watches the interrupt channel and cancels whichever turn is
// currently in flight, so the turn in progress observes cancellation at
// its next await point.
type Kernel struct {
	Bus    *Bus
	Logger *logging.Logger

	mu         sync.Mutex
	reqCounter int
	cancelTurn context.CancelFunc

	unsubInterrupt func()
	interruptDone  chan struct{}
	stopOnce       sync.Once
}

func NewKernel(bus *Bus, logger *logging.Logger) *Kernel {
	return &Kernel{Bus: bus, Logger: logger}
}

// Start opens the bus and spawns the interrupt watcher.
func (k *Kernel) Start() error {
	if err := k.Bus.Start(); err != nil {
		return err
	}
	interruptCh, unsub := k.Bus.Subscribe(ChannelInterrupt)
	k.unsubInterrupt = unsub
	k.interruptDone = make(chan struct{})
	go k.watchInterrupt(interruptCh)
	return nil
}

func (k *Kernel) watchInterrupt(ch <-chan Message) {
	defer close(k.interruptDone)
	for range ch {
		k.mu.Lock()
		cancel := k.cancelTurn
		k.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

// Stop cancels the interrupt watcher, emits client_exit, and closes the bus.
// Safe to call once; later calls are no-ops.
func (k *Kernel) Stop(ctx context.Context) {
	k.stopOnce.Do(func() {
		if k.unsubInterrupt != nil {
			k.unsubInterrupt()
			<-k.interruptDone
		}
		_ = k.Bus.Publish(ctx, Message{Channel: ChannelClientExit, Source: SourceServer})
		k.Bus.Stop()
	})
}

// Interrupt publishes on the interrupt channel, as a client's SIGINT would;
// the kernel's watcher cancels whatever turn is currently running.
func (k *Kernel) Interrupt(ctx context.Context) error {
	return k.Bus.Publish(ctx, Message{Channel: ChannelInterrupt, Source: SourceClient})
}

func (k *Kernel) nextRequestID(prefix string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reqCounter++
	return fmt.Sprintf("%s_%d", prefix, k.reqCounter)
}

// CollectUserInput implements the input-request protocol: publish on
// input_request with a fresh id, then await the first reply on
// input_request:{id}. A literal "q" (or the reply channel closing, which
// happens when Stop runs mid-wait) raises errs.SessionExit.
func (k *Kernel) CollectUserInput(ctx context.Context) (string, error) {
	id := k.nextRequestID("in")
	replyCh, unsub := k.Bus.Subscribe(InputReplyChannel(id))
	defer unsub()

	if err := k.Bus.Publish(ctx, Message{ID: id, Channel: ChannelInputRequest, Source: SourceServer}); err != nil {
		return "", err
	}

	select {
	case msg, ok := <-replyCh:
		if !ok {
			return "", errs.SessionExit
		}
		text, _ := msg.Data.(string)
		if text == "q" {
			return "", errs.SessionExit
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RespondToInput is how a client answers a pending CollectUserInput: publish
// the user's text on the given request's reply channel.
func (k *Kernel) RespondToInput(ctx context.Context, id, text string) error {
	return k.Bus.Publish(ctx, Message{ID: id, Channel: InputReplyChannel(id), Source: SourceClient, Data: text})
}

// PublishLoading toggles a loading indicator.
func (k *Kernel) PublishLoading(ctx context.Context, active bool) error {
	return k.Bus.Publish(ctx, Message{Channel: ChannelLoading, Source: SourceServer, Data: active})
}

// PublishDefault sends text to the default rendering channel.
func (k *Kernel) PublishDefault(ctx context.Context, text string) error {
	return k.Bus.Publish(ctx, Message{Channel: ChannelDefault, Source: SourceServer, Data: text})
}

// PublishEditsComplete announces that a write_changes transaction finished;
// complete is true iff at least one edit was actually applied — a
// cancellation mid-stream still carries true when partial replacements
// were committed.
func (k *Kernel) PublishEditsComplete(ctx context.Context, complete bool) error {
	return k.Bus.Publish(ctx, Message{Channel: ChannelEditsComplete, Source: SourceServer, Data: complete})
}

func (k *Kernel) beginTurn(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	k.mu.Lock()
	k.cancelTurn = cancel
	k.mu.Unlock()
	return ctx
}

func (k *Kernel) endTurn() {
	k.mu.Lock()
	if k.cancelTurn != nil {
		k.cancelTurn()
		k.cancelTurn = nil
	}
	k.mu.Unlock()
}

// Run drives the request/response loop: collect input, run one turn,
// repeat. The kernel catches every non-fatal error at the turn boundary
// and keeps running; only SessionExit and the parent ctx's own
// cancellation (as opposed to a per-turn interrupt cancellation) escape.
func (k *Kernel) Run(ctx context.Context, handle TurnHandler) error {
	for {
		input, err := k.CollectUserInput(ctx)
		if err != nil {
			if errors.Is(err, errs.SessionExit) {
				return nil
			}
			return err
		}

		turnCtx := k.beginTurn(ctx)
		turnErr := handle(turnCtx, input)
		k.endTurn()

		if turnErr == nil {
			continue
		}
		if errors.Is(turnErr, errs.SessionExit) {
			return nil
		}
		if ctx.Err() != nil {
			// The parent context (not just this turn) is done: propagate.
			return ctx.Err()
		}
		// Any other error — UserError, ModelError, ProviderError,
		// ContextSizeInsufficient, InternalError, or a turn-level
		// cancellation from the interrupt channel — is reported and the loop
		// continues.
		k.reportTurnError(ctx, turnErr)
	}
}

func (k *Kernel) reportTurnError(ctx context.Context, err error) {
	if k.Logger != nil {
		k.Logger.LogError(err)
	}
	_ = k.PublishDefault(ctx, err.Error())
}
