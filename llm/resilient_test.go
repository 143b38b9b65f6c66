package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

// fakeCompleter 可编排的假补全器:前 failures 次返回 err,之后返回 reply
type fakeCompleter struct {
	reply    string
	err      error
	failures int
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestResilientCompleter_Success(t *testing.T) {
	inner := &fakeCompleter{reply: "summary text"}
	c := NewResilientCompleter(inner, fastConfig(), zap.NewNop())

	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "summary text", out)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientCompleter_RetriesTransientFailure(t *testing.T) {
	inner := &fakeCompleter{
		reply:    "ok",
		err:      errors.New("connection reset"),
		failures: 2,
	}
	c := NewResilientCompleter(inner, fastConfig(), zap.NewNop())

	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientCompleter_NonRetryableStopsImmediately(t *testing.T) {
	inner := &fakeCompleter{
		err:      types.NewError(types.ErrValidation, "bad prompt"),
		failures: 10,
	}
	c := NewResilientCompleter(inner, fastConfig(), zap.NewNop())

	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 1, inner.calls)
}

func TestResilientCompleter_BudgetExhausted(t *testing.T) {
	inner := &fakeCompleter{
		err:      errors.New("boom"),
		failures: 100,
	}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	c := NewResilientCompleter(inner, cfg, zap.NewNop())

	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
	assert.Equal(t, 3, inner.calls)
}

func TestResilientCompleter_ContextCancelled(t *testing.T) {
	inner := &fakeCompleter{
		err:      errors.New("boom"),
		failures: 100,
	}
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	c := NewResilientCompleter(inner, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, "prompt")
	assert.Error(t, err)
}

func TestDecodeJSONOutput(t *testing.T) {
	type payload struct {
		Headline string `json:"headline"`
	}

	tests := []struct {
		name     string
		output   string
		wantErr  bool
		headline string
	}{
		{name: "plain object", output: `{"headline":"ok"}`, headline: "ok"},
		{name: "fenced json", output: "```json\n{\"headline\":\"fenced\"}\n```", headline: "fenced"},
		{name: "bare fence", output: "```\n{\"headline\":\"bare\"}\n```", headline: "bare"},
		{name: "prose output", output: "Here is your summary: all good.", wantErr: true},
		{name: "truncated json", output: `{"headline":"oops`, wantErr: true},
		{name: "empty", output: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSONOutput(tt.output, &p)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrParseFailure, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.headline, p.Headline)
		})
	}
}
