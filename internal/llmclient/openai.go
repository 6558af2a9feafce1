package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arrowgrove/codeloom/internal/errs"
)

// OpenAICompatibleClient talks to any chat-completions endpoint that speaks
// the OpenAI wire format, including the streaming SSE variant.
type OpenAICompatibleClient struct {
	BaseURL    string
	APIKey     string
	EmbedURL   string
	HTTPClient *http.Client
}

func NewOpenAICompatibleClient(baseURL, apiKey string) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 6 * time.Minute},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAICompatibleClient) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewInternalError("build llm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.NewProviderError("chat completion", ctx.Err())
		}
		return nil, errs.NewProviderError("chat completion", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		return nil, mapStatusError(resp.StatusCode, string(payload))
	}
	return resp, nil
}

func mapStatusError(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errs.NewProviderError("rate limited", fmt.Errorf("%d: %s", status, body))
	case status == http.StatusRequestEntityTooLarge || strings.Contains(body, "context_length_exceeded"):
		return errs.NewContextSizeError(fmt.Sprintf("request exceeds model context window: %s", body))
	case status >= 400 && status < 500:
		return errs.NewProviderError("bad request", fmt.Errorf("%d: %s", status, body))
	default:
		return errs.NewProviderError("server error", fmt.Errorf("%d: %s", status, body))
	}
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, model string, messages []Message) (string, *TokenUsage, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", nil, errs.NewInternalError("marshal llm request", err)
	}
	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, errs.NewProviderError("decode chat response", err)
	}
	if len(out.Choices) == 0 {
		return "", nil, errs.NewProviderError("chat completion", fmt.Errorf("empty choices"))
	}
	usage := &TokenUsage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	return out.Choices[0].Message.Content, usage, nil
}

// Stream issues a streaming request and decodes Server-Sent Events of the
// form "data: {...}", terminated by "data: [DONE]".
func (c *OpenAICompatibleClient) Stream(ctx context.Context, model string, messages []Message) (<-chan StreamEvent, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, errs.NewInternalError("marshal llm request", err)
	}
	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer resp.Body.Close()
		defer close(events)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				events <- StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			line := scanner.Text()
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "data: ") {
				line = line[len("data: "):]
			}
			if line == "[DONE]" {
				events <- StreamEvent{Done: true}
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue // malformed line: skip rather than aborting the whole stream
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				events <- StreamEvent{Content: chunk.Choices[0].Delta.Content}
			}
		}
		if err := scanner.Err(); err != nil {
			events <- StreamEvent{Err: errs.NewProviderError("read stream", err)}
			return
		}
		events <- StreamEvent{Done: true}
	}()
	return events, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAICompatibleClient) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	url := c.EmbedURL
	if url == "" {
		url = c.BaseURL
	}
	body, err := json.Marshal(embeddingRequest{Model: model, Input: texts})
	if err != nil {
		return nil, errs.NewInternalError("marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewInternalError("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := retryWithBackoff(c.HTTPClient, req)
	if err != nil {
		return nil, errs.NewProviderError("embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, mapStatusError(resp.StatusCode, string(payload))
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.NewProviderError("decode embedding response", err)
	}
	vectors := make([][]float64, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// retryWithBackoff retries transient 408/429/5xx failures with exponential
// backoff.
func retryWithBackoff(client *http.Client, req *http.Request) (*http.Response, error) {
	const maxRetries = 3
	const baseDelay = 100 * time.Millisecond

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	var lastResp *http.Response
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 && bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		resp, err := client.Do(req)
		lastResp, lastErr = resp, err
		if err != nil {
			if attempt < maxRetries {
				time.Sleep(baseDelay * time.Duration(1<<attempt))
				continue
			}
			return resp, err
		}
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, 500, 502, 503, 504:
			if attempt < maxRetries {
				resp.Body.Close()
				time.Sleep(baseDelay * time.Duration(1<<attempt))
				continue
			}
		}
		return resp, err
	}
	return lastResp, lastErr
}
