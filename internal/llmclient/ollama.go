package llmclient

import (
	"context"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/arrowgrove/codeloom/internal/errs"
)

// OllamaClient talks to a local Ollama daemon for the local-model workflow.
type OllamaClient struct {
	client *ollamaapi.Client
}

// NewOllamaClient builds a client from the OLLAMA_HOST environment.
func NewOllamaClient() (*OllamaClient, error) {
	c, err := ollamaapi.ClientFromEnvironment()
	if err != nil {
		return nil, errs.NewProviderError("connect to ollama", err)
	}
	return &OllamaClient{client: c}, nil
}

func toOllamaMessages(messages []Message) []ollamaapi.Message {
	out := make([]ollamaapi.Message, len(messages))
	for i, m := range messages {
		out[i] = ollamaapi.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (o *OllamaClient) Complete(ctx context.Context, model string, messages []Message) (string, *TokenUsage, error) {
	stream := false
	var content string
	var usage TokenUsage
	req := &ollamaapi.ChatRequest{Model: model, Messages: toOllamaMessages(messages), Stream: &stream}

	err := o.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
		content += resp.Message.Content
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
			usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return "", nil, errs.NewProviderError("ollama chat", err)
	}
	return content, &usage, nil
}

func (o *OllamaClient) Stream(ctx context.Context, model string, messages []Message) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent, 16)
	stream := true
	req := &ollamaapi.ChatRequest{Model: model, Messages: toOllamaMessages(messages), Stream: &stream}

	go func() {
		defer close(events)
		err := o.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
			if resp.Message.Content != "" {
				events <- StreamEvent{Content: resp.Message.Content}
			}
			if resp.Done {
				events <- StreamEvent{Done: true}
			}
			return nil
		})
		if err != nil {
			events <- StreamEvent{Err: errs.NewProviderError("ollama chat stream", err)}
		}
	}()
	return events, nil
}

func (o *OllamaClient) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	req := &ollamaapi.EmbedRequest{Model: model, Input: texts}
	resp, err := o.client.Embed(ctx, req)
	if err != nil {
		return nil, errs.NewProviderError("ollama embed", err)
	}
	vectors := make([][]float64, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		vec := make([]float64, len(v))
		for j, f := range v {
			vec[j] = float64(f)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
