package reasonbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OpenRouterClient talks to an OpenRouter-compatible chat completions
// endpoint. Implements Generator. Transient failures (408, 429, 5xx) are
// retried at this boundary with exponential backoff; callers never see a
// retried attempt.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries uint64
	maxElapsed time.Duration
}

// OpenRouterOption customizes an OpenRouterClient.
type OpenRouterOption func(*OpenRouterClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenRouterOption {
	return func(o *OpenRouterClient) { o.client = c }
}

// WithBaseURL points the client at a different endpoint, e.g. a proxy or a
// test server.
func WithBaseURL(url string) OpenRouterOption {
	return func(o *OpenRouterClient) { o.baseURL = url }
}

// WithMaxRetries caps how many times a transient failure is retried.
func WithMaxRetries(n uint64) OpenRouterOption {
	return func(o *OpenRouterClient) { o.maxRetries = n }
}

// NewOpenRouterClient creates a chat completions client for the given key.
func NewOpenRouterClient(apiKey string, opts ...OpenRouterOption) *OpenRouterClient {
	c := &OpenRouterClient{
		apiKey:     apiKey,
		baseURL:    "https://openrouter.ai/api/v1",
		client:     &http.Client{Timeout: 120 * time.Second},
		maxRetries: 3,
		maxElapsed: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Reasoning   *reasoningSpec `json:"reasoning,omitempty"`
}

type reasoningSpec struct {
	Effort string `json:"effort"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one chat completion request and returns the first choice.
func (c *OpenRouterClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, &GenerationError{Err: fmt.Errorf("no API key configured")}
	}

	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}
	if req.ReasoningEffort != "" {
		body.Reasoning = &reasoningSpec{Effort: req.ReasoningEffort}
	}

	payload := make(map[string]any)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &GenerationError{Err: fmt.Errorf("marshal request: %w", err)}
	}
	if len(req.Extra) > 0 {
		// Extra params ride alongside the standard fields.
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, &GenerationError{Err: fmt.Errorf("rebuild request: %w", err)}
		}
		for k, v := range req.Extra {
			payload[k] = v
		}
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, &GenerationError{Err: fmt.Errorf("marshal request: %w", err)}
		}
	}

	var result *GenerateResult
	operation := func() error {
		var opErr error
		result, opErr = c.doRequest(ctx, raw)
		return opErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(c.maxElapsed), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			genErr = &GenerationError{Err: err}
		}
		return nil, genErr
	}
	return result, nil
}

func newBackoff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxElapsed
	return b
}

// doRequest performs one HTTP round trip. Retryable status codes come back
// as plain errors; everything else is wrapped in backoff.Permanent so the
// retry policy stops immediately.
func (c *OpenRouterClient) doRequest(ctx context.Context, raw []byte) (*GenerateResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, backoff.Permanent(&GenerationError{Err: fmt.Errorf("new request: %w", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Network-level failures (timeouts included) are retryable.
		return nil, &GenerationError{Err: fmt.Errorf("http: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		genErr := &GenerationError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("chat completions: %s", string(body)),
		}
		if retryableStatus(resp.StatusCode) {
			return nil, genErr
		}
		return nil, backoff.Permanent(genErr)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, backoff.Permanent(&GenerationError{Err: fmt.Errorf("decode response: %w", err)})
	}
	if parsed.Error != nil {
		return nil, backoff.Permanent(&GenerationError{Err: fmt.Errorf("api error: %s", parsed.Error.Message)})
	}
	if len(parsed.Choices) == 0 {
		return nil, backoff.Permanent(&GenerationError{Err: fmt.Errorf("empty response")})
	}

	return &GenerateResult{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		Model:      parsed.Model,
	}, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
