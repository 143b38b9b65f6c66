// Package llm defines the completion-provider contract the engine consumes,
// an OpenAI-compatible HTTP client, and the resilience wrapper (retry, rate
// limit, timeout) applied to every outbound call. Tests and degraded paths
// use lightweight in-process fakes.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/copp1723/team-crm-sub000/types"
)

// Completer turns a prompt into a text completion.
// Implementations may fail with PROVIDER_UNAVAILABLE or RATE_LIMITED;
// callers must be prepared to fall back to a heuristic path.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the model identifier used for token budgeting.
	Model() string
}

// Config configures the outbound provider path.
type Config struct {
	// Model identifier, used for tokenizer selection and reporting.
	Model string `yaml:"model" json:"model"`

	// BaseURL of an OpenAI-compatible chat completions endpoint.
	// Empty disables the provider path; the engine then runs degraded.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey sent as a bearer token.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Per-call timeout applied on top of the caller's context.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Sustained requests per second allowed against the provider.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// Burst size for the rate limiter.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`

	// Retry policy for transient provider failures.
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:        "gpt-4o-mini",
		Timeout:      30 * time.Second,
		RateLimit:    2,
		RateBurst:    4,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	}
}

// DecodeJSONOutput parses provider output expected to be a JSON object.
// Providers are not trusted to return well-formed JSON: fenced code blocks
// are unwrapped and anything unparseable yields PARSE_FAILURE.
func DecodeJSONOutput(output string, v any) error {
	trimmed := strings.TrimSpace(output)

	// Unwrap markdown code fences some providers insist on.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return types.NewError(types.ErrParseFailure, "provider output is not JSON")
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return types.NewError(types.ErrParseFailure, "decode provider output").WithCause(err)
	}
	return nil
}
