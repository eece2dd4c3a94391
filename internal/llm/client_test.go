package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

type scriptedProvider struct {
	calls   int
	results []error
	text    string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, req *Request) (*Completion, error) {
	err := p.results[p.calls]
	p.calls++
	if err != nil {
		return nil, err
	}
	return &Completion{Text: p.text}, nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        4 * time.Millisecond,
	}
}

func TestClientRetriesTransientErrors(t *testing.T) {
	provider := &scriptedProvider{
		results: []error{
			appErr.NewTransient(errors.New("throttled")),
			appErr.NewTransient(errors.New("throttled")),
			nil,
		},
		text: "done",
	}
	client := NewClient(provider, fastRetry(5))
	out, err := client.Invoke(context.Background(), &Request{ModelID: "m", Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "done", out.Text)
	require.Equal(t, 3, provider.calls)
}

func TestClientDoesNotRetryFatalErrors(t *testing.T) {
	provider := &scriptedProvider{
		results: []error{appErr.NewFatal(appErr.ErrModelAuth)},
	}
	client := NewClient(provider, fastRetry(5))
	_, err := client.Invoke(context.Background(), &Request{ModelID: "m", Prompt: "p"})
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrModelAuth)
	require.Equal(t, 1, provider.calls)
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	provider := &scriptedProvider{
		results: []error{
			appErr.NewTransient(errors.New("boom")),
			appErr.NewTransient(errors.New("boom")),
		},
	}
	client := NewClient(provider, fastRetry(2))
	_, err := client.Invoke(context.Background(), &Request{ModelID: "m", Prompt: "p"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
	require.Equal(t, 2, provider.calls)
}

func TestRetryBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
	require.Equal(t, time.Second, cfg.backoff(1))
	require.Equal(t, 2*time.Second, cfg.backoff(2))
	require.Equal(t, 4*time.Second, cfg.backoff(3))
	require.Equal(t, 5*time.Second, cfg.backoff(4))
	require.Equal(t, 5*time.Second, cfg.backoff(10))
}

type fakeBedrock struct {
	lastBody []byte
	response anthropicResponse
	err      error
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastBody = params.Body
	if f.err != nil {
		return nil, f.err
	}
	body, _ := json.Marshal(f.response)
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockInvokeConcatenatesTextBlocks(t *testing.T) {
	fake := &fakeBedrock{
		response: anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "part one "},
				{Type: "tool_use"},
				{Type: "text", Text: "part two"},
			},
			StopReason: "end_turn",
		},
	}
	provider := &bedrockProvider{client: fake, version: anthropicVersion}

	out, err := provider.Invoke(context.Background(), &Request{
		ModelID:   "anthropic.claude-3-5-haiku-20241022-v1:0",
		Prompt:    "compare",
		MaxTokens: 5000,
	})
	require.NoError(t, err)
	require.Equal(t, "part one part two", out.Text)
	require.Equal(t, "end_turn", out.StopReason)

	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(fake.lastBody, &sent))
	require.Equal(t, anthropicVersion, sent.AnthropicVersion)
	require.Equal(t, 5000, sent.MaxTokens)
	require.Zero(t, sent.Temperature)
	require.Empty(t, sent.AnthropicBeta)
}

func TestBedrockInvokeExtendedContext(t *testing.T) {
	fake := &fakeBedrock{
		response: anthropicResponse{Content: []anthropicContentBlock{{Type: "text", Text: "ok"}}},
	}
	provider := &bedrockProvider{client: fake, version: anthropicVersion}
	_, err := provider.Invoke(context.Background(), &Request{ModelID: "m", Prompt: "p", MaxTokens: 250000, ExtendedContext: true})
	require.NoError(t, err)

	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(fake.lastBody, &sent))
	require.Equal(t, []string{extendedContextBeta}, sent.AnthropicBeta)
}

func TestBedrockInvokeEmptyCompletion(t *testing.T) {
	fake := &fakeBedrock{response: anthropicResponse{StopReason: "end_turn"}}
	provider := &bedrockProvider{client: fake, version: anthropicVersion}
	_, err := provider.Invoke(context.Background(), &Request{ModelID: "m", Prompt: "p"})
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrEmptyCompletion)
	require.True(t, appErr.IsFatal(err))
}

func TestClassifyAWSError(t *testing.T) {
	throttle := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	require.True(t, appErr.IsTransient(classifyAWSError(throttle)))

	denied := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "nope"}
	classified := classifyAWSError(denied)
	require.True(t, appErr.IsFatal(classified))
	require.ErrorIs(t, classified, appErr.ErrModelAuth)

	missing := &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no model"}
	require.ErrorIs(t, classifyAWSError(missing), appErr.ErrModelNotFound)

	plainNetwork := errors.New("connection reset by peer")
	require.True(t, appErr.IsTransient(classifyAWSError(plainNetwork)))
}
