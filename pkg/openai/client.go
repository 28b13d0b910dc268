// Package openai is a minimal client for the OpenAI embeddings and chat
// completions APIs, covering the three capabilities the service needs:
// batch embeddings, one-shot completions and token streaming.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"mailpilot-backend/pkg/apperrors"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

type Client struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client

	maxAttempts    int
	retryBaseDelay time.Duration
}

func NewClient(apiKey, embeddingModel, chatModel string) *Client {
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	return &Client{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		httpClient:     &http.Client{},
		maxAttempts:    3,
		retryBaseDelay: 500 * time.Millisecond,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// WithRetry overrides the retry budget and base backoff delay.
func (c *Client) WithRetry(maxAttempts int, baseDelay time.Duration) *Client {
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		c.retryBaseDelay = baseDelay
	}
	return c
}

// CreateEmbeddings returns one vector per input, in input order. The whole
// batch goes to the API in a single request.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	payload := map[string]interface{}{
		"model": c.embeddingModel,
		"input": inputs,
	}

	respBody, err := c.postWithRetry(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}

	vectors := make([][]float32, len(inputs))
	for _, item := range result.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}

// CreateChatCompletionOnce runs a non-streamed completion and returns the
// assistant text.
func (c *Client) CreateChatCompletionOnce(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	payload := map[string]interface{}{
		"model":       c.chatModel,
		"messages":    messages,
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}

	respBody, err := c.postWithRetry(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return result.Choices[0].Message.Content, nil
}

// StreamChatCompletion opens a streamed completion and calls fn once per
// content token, in generation order. A non-nil error from fn stops the
// stream and is returned unchanged.
func (c *Client) StreamChatCompletion(ctx context.Context, messages []Message, opts ChatOptions, fn func(token string) error) error {
	payload := map[string]interface{}{
		"model":       c.chatModel,
		"messages":    messages,
		"temperature": opts.Temperature,
		"stream":      true,
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}

	resp, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}
		if err := fn(event.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.NewUpstreamRetryable("chat stream read failed", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, apperrors.NewUpstreamFatal("missing OpenAI API key", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamRetryable("openai request failed", err)
	}
	return resp, nil
}

// postWithRetry retries rate-limit and server-error responses with
// exponential backoff and jitter. Auth and client errors abort immediately.
func (c *Client) postWithRetry(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(c.retryBaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.post(ctx, path, payload)
		if err != nil {
			if apperrors.IsRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = apperrors.NewUpstreamRetryable("failed to read openai response", readErr)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		statusErr := classifyStatus(resp.StatusCode, respBody)
		if !apperrors.IsRetryable(statusErr) {
			return nil, statusErr
		}
		lastErr = statusErr
	}
	return nil, lastErr
}

func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("openai API error (%d): %s", status, string(body))
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.NewUpstreamRetryable("openai upstream error", err)
	}
	return apperrors.NewUpstreamFatal("openai request rejected", err)
}
