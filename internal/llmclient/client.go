// Package llmclient defines the LLM client capability and its two
// concrete implementations: an OpenAI-compatible HTTP/SSE client and a
// local Ollama client. Both satisfy the same Client interface so the
// session never branches on provider identity.
package llmclient

import "context"

// Message is a single chat-completion message.
type Message struct {
	Role    string
	Content string
}

// TokenUsage mirrors the usage block most chat-completion APIs return.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamEvent is one incremental piece of a streamed completion.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
}

// Client is the capability every provider implementation satisfies.
type Client interface {
	// Complete performs a blocking chat completion.
	Complete(ctx context.Context, model string, messages []Message) (string, *TokenUsage, error)
	// Stream performs a streaming chat completion; the returned channel is
	// closed after a StreamEvent with Done=true or a StreamEvent carrying
	// a non-nil Err.
	Stream(ctx context.Context, model string, messages []Message) (<-chan StreamEvent, error)
	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, model string, texts []string) ([][]float64, error)
}
