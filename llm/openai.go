package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

const defaultSystemPrompt = "You are an assistant that turns team CRM updates into concise executive briefings. Answer with JSON only when asked for JSON."

// OpenAICompleter calls an OpenAI-compatible chat completions endpoint.
// It is usually wrapped in a ResilientCompleter; on its own it performs a
// single HTTP call with no retry.
type OpenAICompleter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAICompleter creates an HTTP completer from config.
// Returns nil when no BaseURL is configured; callers treat a nil
// completer as "run degraded".
func NewOpenAICompleter(config Config, logger *zap.Logger) *OpenAICompleter {
	if config.BaseURL == "" {
		return nil
	}
	model := config.Model
	if model == "" {
		model = DefaultConfig().Model
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &OpenAICompleter{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "openai-completer")),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: defaultSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "encode provider request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "build provider request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "provider request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "read provider response").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", types.NewError(types.ErrParseFailure, "decode provider response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.ErrParseFailure, "provider returned no choices")
	}

	c.logger.Debug("completion returned",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(start)),
	)
	return parsed.Choices[0].Message.Content, nil
}

// Model implements Completer.
func (c *OpenAICompleter) Model() string { return c.model }

// classifyStatus maps HTTP status codes onto the engine error taxonomy.
// 429 and 5xx are transient; other client errors are not worth retrying.
func classifyStatus(status int, body []byte) error {
	msg := providerErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("provider rate limited: %s", msg)).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("provider error (%d): %s", status, msg)).WithRetryable(true)
	default:
		return types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("provider rejected request (%d): %s", status, msg)).WithRetryable(false)
	}
}

func providerErrorMessage(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
