package parser

// EventKind tags a RenderEvent so the terminal layer can style it without
// the parser importing any rendering package.
type EventKind int

const (
	// EventConversation is verbatim model prose, printed as it arrives.
	EventConversation EventKind = iota
	// EventFileHeader announces the path a following change block targets.
	EventFileHeader
	// EventDelimiter separates a file header from its change body.
	EventDelimiter
	// EventContextLine is an unchanged line shown for orientation.
	EventContextLine
	// EventRemovedLine is a line the change deletes.
	EventRemovedLine
	// EventAddedLine is a line the change adds; rendered with a + prefix.
	EventAddedLine
	// EventModelError reports a malformed special block inline.
	EventModelError
)

// RenderEvent is one unit of streamed output destined for the session bus.
type RenderEvent struct {
	Kind EventKind
	Text string
}
