package parser

import (
	"context"
	"strings"

	"github.com/arrowgrove/codeloom/internal/errs"
)

// Format is the capability a wire format implements to plug into the
// shared Conversation/Special/Code state machine.
type Format interface {
	// CouldBeSpecial reports whether the accumulated (trimmed) line might
	// still turn out to be the opener of a special block; unused by this
	// line-buffered implementation but kept to document format contracts.
	CouldBeSpecial(line string) bool
	// StartsSpecial reports whether line opens a special block.
	StartsSpecial(line string) bool
	// EndsSpecial reports whether line closes the currently open special
	// block.
	EndsSpecial(line string) bool
	// SpecialBlock parses an accumulated special block (including its
	// opener and closer lines) into display metadata, a FileEdit, and
	// whether a code block follows. renameMap is passed for formats that
	// need it; Parse itself records rename declarations in it. Returns a
	// plain error on malformed input, which Parse wraps as a ModelError.
	SpecialBlock(block string, renameMap map[string]string) (DisplayInfo, FileEdit, bool, error)
	// EndsCode reports whether line closes the currently open code block.
	EndsCode(line string) bool
	// AddCodeBlock folds a finished code block's content into edit.
	AddCodeBlock(specialBlock, codeBlock string, info *DisplayInfo, edit *FileEdit)
	// CodeLineKind classifies one line inside an open code block for
	// rendering: EventAddedLine for formats whose code body is pure
	// replacement content, or EventRemovedLine/EventContextLine for formats
	// (like a unified diff) that mark deletions and context inline.
	CodeLineKind(line string) EventKind
}

// Parser drives the three-line-class state machine for a given Format.
type Parser struct {
	Format Format
}

func New(format Format) *Parser {
	return &Parser{Format: format}
}

// Result is what a completed (or cancelled, or error-terminated) parse run
// produced: the raw message text and the merged edit set.
type Result struct {
	Message string
	Edits   map[string]*FileEdit
}

// Parse consumes lines from the chunks channel (each element one line,
// including any trailing newline) until it closes, emitting RenderEvents to
// events as it classifies content. It returns early, committing everything
// accumulated so far, when ctx is cancelled or a malformed special block
// raises ModelError; in the latter case the error is also returned.
func (p *Parser) Parse(ctx context.Context, lines <-chan string, events chan<- RenderEvent) (*Result, error) {
	var message strings.Builder
	fileEdits := map[string]*FileEdit{}

	var prevBlock, curBlock strings.Builder
	var display *DisplayInfo
	var curEdit *FileEdit
	var inSpecial, inCode bool
	conversation := true
	renameMap := map[string]string{}

	for {
		select {
		case <-ctx.Done():
			if inCode && display != nil && curEdit != nil {
				p.Format.AddCodeBlock(prevBlock.String(), curBlock.String(), display, curEdit)
			}
			return &Result{Message: message.String(), Edits: fileEdits}, nil
		case line, ok := <-lines:
			if !ok {
				if inCode && display != nil && curEdit != nil {
					p.Format.AddCodeBlock(prevBlock.String(), curBlock.String(), display, curEdit)
					for _, l := range display.LaterLines {
						events <- RenderEvent{Kind: EventContextLine, Text: l}
					}
					events <- RenderEvent{Kind: EventDelimiter}
				}
				return &Result{Message: message.String(), Edits: fileEdits}, nil
			}

			message.WriteString(line)
			trimmed := strings.TrimSpace(line)

			switch {
			case !inSpecial && !inCode && p.Format.StartsSpecial(trimmed):
				// The opener line is absorbed into the special block; it
				// never reaches the rendered stream on its own.
				inSpecial = true
				curBlock.WriteString(line)

			case inSpecial && p.Format.EndsSpecial(trimmed):
				curBlock.WriteString(line)
				previousPath := ""
				if curEdit != nil {
					previousPath = curEdit.Path
				}

				info, edit, hasCode, err := p.Format.SpecialBlock(curBlock.String(), renameMap)
				if err != nil {
					events <- RenderEvent{Kind: EventModelError, Text: err.Error()}
					return &Result{Message: message.String(), Edits: fileEdits}, errs.NewModelError("parse special block", err)
				}
				inSpecial = false
				prevBlock.Reset()
				prevBlock.WriteString(curBlock.String())
				curBlock.Reset()

				if info.NewName != "" {
					renameMap[info.NewName] = info.FileName
				}
				if real, ok := renameMap[info.FileName]; ok {
					edit.Path = real
				}

				if existing, ok := fileEdits[edit.Path]; ok {
					existing.Merge(edit)
					curEdit = existing
				} else {
					e := edit
					fileEdits[e.Path] = &e
					curEdit = &e
				}
				infoCopy := info
				display = &infoCopy
				inCode = hasCode

				if conversation || info.IsRename || curEdit.Path != previousPath {
					conversation = false
					events <- RenderEvent{Kind: EventFileHeader, Text: curEdit.Path}
					events <- RenderEvent{Kind: EventDelimiter}
				} else {
					events <- RenderEvent{Kind: EventDelimiter}
				}

				for _, l := range info.PreviousLines {
					events <- RenderEvent{Kind: EventContextLine, Text: l}
				}
				for _, l := range info.RemovedLines {
					events <- RenderEvent{Kind: EventRemovedLine, Text: l}
				}
				if !hasCode {
					for _, l := range info.LaterLines {
						events <- RenderEvent{Kind: EventContextLine, Text: l}
					}
					events <- RenderEvent{Kind: EventDelimiter}
				}

			case inCode && p.Format.EndsCode(trimmed):
				curBlock.WriteString(line)
				if display != nil && curEdit != nil {
					p.Format.AddCodeBlock(prevBlock.String(), curBlock.String(), display, curEdit)
					for _, l := range display.LaterLines {
						events <- RenderEvent{Kind: EventContextLine, Text: l}
					}
				}
				events <- RenderEvent{Kind: EventDelimiter}
				inCode = false
				prevBlock.Reset()
				prevBlock.WriteString(curBlock.String())
				curBlock.Reset()

			case inCode:
				curBlock.WriteString(line)
				events <- RenderEvent{Kind: p.Format.CodeLineKind(line), Text: line}

			case inSpecial:
				// Accumulated silently until the closer.
				curBlock.WriteString(line)

			default:
				conversation = true
				events <- RenderEvent{Kind: EventConversation, Text: line}
			}
		}
	}
}
