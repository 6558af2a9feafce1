// Package conversation implements the ordered message log with token
// accounting; transcripts are written by package persist.
package conversation

import (
	"github.com/arrowgrove/codeloom/internal/feature"
)

// Origin records who produced a message, distinct from Role (which is the
// chat-completion role).
type Origin string

const (
	OriginUser         Origin = "user"
	OriginModel        Origin = "model"
	OriginAgent        Origin = "agent"
	OriginSystemPrompt Origin = "system-prompt"
)

// Message is one entry in the log.
type Message struct {
	Role       string // "system", "user", "assistant"
	Content    string
	Origin     Origin
	PromptUsed string // archived prompt that produced an assistant message
}

// perMessageOverhead is the fixed per-message token cost added on top of
// content length.
const perMessageOverhead = 4

// Conversation is an append-only ordered log. The opening system prompt is
// a constant re-emitted every turn rather than stored in the log, so
// Clear() never has to special-case it.
type Conversation struct {
	systemPrompt string
	messages     []Message
}

func New(systemPrompt string) *Conversation {
	return &Conversation{systemPrompt: systemPrompt}
}

func (c *Conversation) AddUser(text string) {
	c.messages = append(c.messages, Message{Role: "user", Content: text, Origin: OriginUser})
}

func (c *Conversation) AddAssistant(text, promptUsed string) {
	c.messages = append(c.messages, Message{Role: "assistant", Content: text, Origin: OriginModel, PromptUsed: promptUsed})
}

// AddSystem appends a non-opening system message, e.g. agent-loop command
// output fed back into the conversation.
func (c *Conversation) AddSystem(text string) {
	c.messages = append(c.messages, Message{Role: "system", Content: text, Origin: OriginSystem})
}

const OriginSystem Origin = "system"

// GetMessages returns the log, optionally prefixed with the opening system
// prompt.
func (c *Conversation) GetMessages(includeSystemPrompt bool) []Message {
	if !includeSystemPrompt || c.systemPrompt == "" {
		out := make([]Message, len(c.messages))
		copy(out, c.messages)
		return out
	}
	out := make([]Message, 0, len(c.messages)+1)
	out = append(out, Message{Role: "system", Content: c.systemPrompt, Origin: OriginSystemPrompt})
	out = append(out, c.messages...)
	return out
}

// Clear removes all non-system-prompt messages.
func (c *Conversation) Clear() {
	c.messages = nil
}

// CountTokens sums a per-message fixed overhead plus content token count for
// every message, including the re-emitted opening system prompt.
func (c *Conversation) CountTokens(model string) int {
	total := 0
	for _, m := range c.GetMessages(true) {
		total += perMessageOverhead + feature.EstimateTokens(m.Content)
	}
	return total
}
