package eval_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poleval/poleval/internal/cache"
	"github.com/poleval/poleval/internal/document"
	"github.com/poleval/poleval/internal/eval"
	"github.com/poleval/poleval/internal/llm"
	"github.com/poleval/poleval/internal/model"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

const testTemplate = `Policy:
{POLICY_TEXT}

Submission:
{SUBMISSION_TEXT}

Answer in JSON.`

type stubProvider struct {
	mu         sync.Mutex
	completion *llm.Completion
	err        error
	requests   []*llm.Request
}

func (p *stubProvider) Name() string {
	return "stub"
}

func (p *stubProvider) Invoke(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return p.completion, nil
}

type memoryHistory struct {
	records []*model.EvaluationRecord
}

func (m *memoryHistory) Create(ctx context.Context, record *model.EvaluationRecord) error {
	m.records = append(m.records, record)
	return nil
}

func newTestService(t *testing.T, provider *stubProvider, history eval.HistoryStore, debug bool) (*eval.Service, *cache.SessionCache) {
	t.Helper()
	tpl, err := eval.NewPromptTemplate(testTemplate)
	require.NoError(t, err)
	sessionCache := cache.New(filepath.Join(t.TempDir(), "cache"), debug)
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = 1
	svc := eval.NewService(
		document.NewNormalizer(nil, 0),
		sessionCache,
		llm.NewClient(provider, retry),
		tpl,
		history,
		eval.ServiceConfig{ModelID: "test-model", MaxTokensFloor: 5000, Debug: debug},
	)
	return svc, sessionCache
}

func goodCompletion() *llm.Completion {
	return &llm.Completion{
		Text: `{"summary":{"statement":"ok","totalChecks":1,"passed":1,"failed":0},"requirements":[{"requirement":"A","pass":true}]}`,
	}
}

func TestServiceEvaluateEndToEnd(t *testing.T) {
	provider := &stubProvider{completion: goodCompletion()}
	history := &memoryHistory{}
	svc, _ := newTestService(t, provider, history, false)

	result, err := svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Identity:   eval.StaticIdentity("s1"),
		Policy:     &model.Document{Filename: "policy.txt", Data: []byte("policy body")},
		Submission: &model.Document{Filename: "cert.txt", Data: []byte("submission body")},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusGreen, result.Status)
	require.Empty(t, result.Warnings)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	require.Contains(t, req.Prompt, "policy body")
	require.Contains(t, req.Prompt, "submission body")
	require.Equal(t, "test-model", req.ModelID)
	require.Equal(t, float64(0), req.Temperature)
	require.Equal(t, 5000, req.MaxTokens)
	require.False(t, req.ExtendedContext)

	require.Len(t, history.records, 1)
	record := history.records[0]
	require.Equal(t, "s1", record.SessionID)
	require.Equal(t, "policy.txt", record.PolicyFile)
	require.Equal(t, "cert.txt", record.SubmissionFile)
	require.Equal(t, string(model.StatusGreen), record.Status)
	require.Equal(t, 1, record.TotalChecks)
	require.NotEmpty(t, record.RawResult)
}

func TestServiceReusesCachedPolicy(t *testing.T) {
	provider := &stubProvider{completion: goodCompletion()}
	svc, _ := newTestService(t, provider, nil, false)

	ctx := context.Background()
	identity := eval.StaticIdentity("reuse")
	_, err := svc.Evaluate(ctx, &eval.EvaluateInput{
		Identity:   identity,
		Policy:     &model.Document{Filename: "policy.txt", Data: []byte("the one true policy")},
		Submission: &model.Document{Filename: "a.txt", Data: []byte("first")},
	})
	require.NoError(t, err)

	// Second call passes no policy; the cached one must flow into the prompt.
	_, err = svc.Evaluate(ctx, &eval.EvaluateInput{
		Identity:   identity,
		Submission: &model.Document{Filename: "b.txt", Data: []byte("second")},
	})
	require.NoError(t, err)
	require.Len(t, provider.requests, 2)
	require.Contains(t, provider.requests[1].Prompt, "the one true policy")
	require.Contains(t, provider.requests[1].Prompt, "second")
}

func TestServiceNoPolicyAnywhere(t *testing.T) {
	provider := &stubProvider{completion: goodCompletion()}
	svc, _ := newTestService(t, provider, nil, false)

	_, err := svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Identity:   eval.StaticIdentity("empty"),
		Submission: &model.Document{Filename: "a.txt", Data: []byte("x")},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no policy document")
	require.Empty(t, provider.requests)
}

func TestServiceMaxTokensWarning(t *testing.T) {
	provider := &stubProvider{completion: &llm.Completion{
		Text:       goodCompletion().Text,
		StopReason: llm.StopReasonMaxTokens,
	}}
	svc, _ := newTestService(t, provider, nil, false)

	result, err := svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Identity:   eval.StaticIdentity("s"),
		Policy:     &model.Document{Filename: "p.txt", Data: []byte("p")},
		Submission: &model.Document{Filename: "c.txt", Data: []byte("c")},
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, model.WarnPossiblyTruncated, result.Warnings[0].Kind)
}

func TestServiceNoHistoryOnResolveFailure(t *testing.T) {
	provider := &stubProvider{completion: &llm.Completion{Text: "no json at all"}}
	history := &memoryHistory{}
	svc, _ := newTestService(t, provider, history, false)

	_, err := svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Identity:   eval.StaticIdentity("s"),
		Policy:     &model.Document{Filename: "p.txt", Data: []byte("p")},
		Submission: &model.Document{Filename: "c.txt", Data: []byte("c")},
	})
	require.ErrorIs(t, err, appErr.ErrNoJSONFound)
	require.Empty(t, history.records)
}

func TestServiceDebugReusesSubmission(t *testing.T) {
	provider := &stubProvider{completion: goodCompletion()}
	svc, sessionCache := newTestService(t, provider, nil, true)

	ctx := context.Background()
	identity := eval.StaticIdentity("dbg")
	submission := &model.Document{Filename: "cert.txt", Data: []byte("original text")}
	_, err := svc.Evaluate(ctx, &eval.EvaluateInput{
		Identity:   identity,
		Policy:     &model.Document{Filename: "p.txt", Data: []byte("p")},
		Submission: submission,
	})
	require.NoError(t, err)

	cached, err := sessionCache.LoadSubmission(ctx, "dbg", "cert.txt")
	require.NoError(t, err)
	require.Equal(t, "original text", cached)

	// Same filename with different bytes: debug mode serves the cached text
	// instead of renormalizing.
	_, err = svc.Evaluate(ctx, &eval.EvaluateInput{
		Identity:   identity,
		Submission: &model.Document{Filename: "cert.txt", Data: []byte("changed text")},
	})
	require.NoError(t, err)
	require.Contains(t, provider.requests[1].Prompt, "original text")
	require.NotContains(t, provider.requests[1].Prompt, "changed text")
}

func TestServiceRejectsMissingInputs(t *testing.T) {
	provider := &stubProvider{completion: goodCompletion()}
	svc, _ := newTestService(t, provider, nil, false)

	_, err := svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Submission: &model.Document{Filename: "a.txt", Data: []byte("x")},
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = svc.Evaluate(context.Background(), &eval.EvaluateInput{
		Identity: eval.StaticIdentity("s"),
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestServiceConvert(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{completion: goodCompletion()}, nil, false)
	normalized, err := svc.Convert(context.Background(), &model.Document{
		Filename: "notes.md",
		Data:     []byte("# Title\n\nbody"),
	})
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nbody", normalized.Text)
	require.Equal(t, model.MethodPlain, normalized.Method)
}
