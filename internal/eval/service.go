package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/poleval/poleval/internal/cache"
	"github.com/poleval/poleval/internal/document"
	"github.com/poleval/poleval/internal/llm"
	"github.com/poleval/poleval/internal/model"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// Identity supplies the session the evaluation runs under. The CLI passes a
// fixed one, a web caller derives it from its cookie; the pipeline does not
// care which.
type Identity interface {
	SessionID() string
}

type StaticIdentity string

func (s StaticIdentity) SessionID() string {
	return string(s)
}

func NewSessionIdentity() Identity {
	return StaticIdentity(uuid.New().String())
}

// HistoryStore persists one record per completed evaluation.
type HistoryStore interface {
	Create(ctx context.Context, record *model.EvaluationRecord) error
}

type ServiceConfig struct {
	ModelID        string
	MaxTokensFloor int
	ResponseFormat string
	Timeout        time.Duration
	Debug          bool
}

type Service struct {
	normalizer *document.Normalizer
	cache      *cache.SessionCache
	client     *llm.Client
	template   *PromptTemplate
	history    HistoryStore
	cfg        ServiceConfig
}

func NewService(
	normalizer *document.Normalizer,
	sessionCache *cache.SessionCache,
	client *llm.Client,
	template *PromptTemplate,
	history HistoryStore,
	cfg ServiceConfig,
) *Service {
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = "json"
	}
	return &Service{
		normalizer: normalizer,
		cache:      sessionCache,
		client:     client,
		template:   template,
		history:    history,
		cfg:        cfg,
	}
}

type EvaluateInput struct {
	Identity Identity
	// Policy is optional; when nil the session's cached policy is used.
	Policy     *model.Document
	Submission *model.Document
}

// Evaluate runs the full pipeline for one submission: normalize both
// documents, build the prompt, size the token budget, invoke the model and
// resolve its completion. Cache and history writes happen only after the
// result is fully resolved, so an abandoned call never leaves a half-written
// entry behind.
func (s *Service) Evaluate(ctx context.Context, input *EvaluateInput) (*model.EvaluationResult, error) {
	if input.Identity == nil {
		return nil, fmt.Errorf("%w: identity is required", appErr.ErrInvalid)
	}
	if input.Submission == nil {
		return nil, fmt.Errorf("%w: submission document is required", appErr.ErrInvalid)
	}
	sessionID := input.Identity.SessionID()
	logger := logutil.GetLogger(ctx).With(
		zap.String("session", sessionID),
		zap.String("submission", input.Submission.Filename),
	)

	policyText, policyName, err := s.resolvePolicy(ctx, sessionID, input.Policy)
	if err != nil {
		return nil, err
	}

	submissionText, err := s.resolveSubmission(ctx, sessionID, input.Submission)
	if err != nil {
		return nil, err
	}

	prompt := s.template.Build(policyText, submissionText)
	budget := ComputeBudget(len(prompt), s.cfg.MaxTokensFloor)
	logger.Info("invoking model",
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("max_tokens", budget.MaxTokens),
		zap.Bool("extended_context", budget.ExtendedContext),
	)

	invokeCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	completion, err := s.client.Invoke(invokeCtx, &llm.Request{
		ModelID:         s.cfg.ModelID,
		Prompt:          prompt,
		MaxTokens:       budget.MaxTokens,
		Temperature:     0,
		ExtendedContext: budget.ExtendedContext,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.resolveCompletion(completion.Text)
	if err != nil {
		return nil, err
	}
	if completion.StopReason == llm.StopReasonMaxTokens {
		// Parsing may have succeeded on a partial array; flag it anyway.
		result.Warnings = append(result.Warnings, model.Warning{
			Kind:    model.WarnPossiblyTruncated,
			Message: fmt.Sprintf("completion stopped at the %d token budget", budget.MaxTokens),
		})
	}
	logger.Info("evaluation resolved",
		zap.String("status", string(result.Status)),
		zap.Int("total_checks", result.Summary.TotalChecks),
		zap.Int("warnings", len(result.Warnings)),
	)

	if err := s.cache.StoreResult(ctx, sessionID, input.Submission.Filename, completion.Text); err != nil {
		logger.Warn("store raw result failed", zap.Error(err))
	}
	s.record(ctx, sessionID, policyName, input.Submission.Filename, completion.Text, result)
	return result, nil
}

// Convert exposes bare normalization for the document conversion path.
func (s *Service) Convert(ctx context.Context, doc *model.Document) (*model.NormalizedText, error) {
	return s.normalizer.Normalize(ctx, doc)
}

func (s *Service) resolvePolicy(ctx context.Context, sessionID string, policy *model.Document) (string, string, error) {
	if policy != nil {
		normalized, err := s.normalizer.Normalize(ctx, policy)
		if err != nil {
			return "", "", err
		}
		if err := s.cache.StorePolicy(ctx, sessionID, normalized.Text); err != nil {
			return "", "", fmt.Errorf("cache policy: %w", err)
		}
		return normalized.Text, policy.Filename, nil
	}
	cached, err := s.cache.LoadPolicy(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("no policy document available for session %s: %w", sessionID, err)
	}
	logutil.GetLogger(ctx).Debug("using cached policy", zap.String("session", sessionID))
	return cached, "", nil
}

func (s *Service) resolveSubmission(ctx context.Context, sessionID string, submission *model.Document) (string, error) {
	if s.cfg.Debug {
		if cached, err := s.cache.LoadSubmission(ctx, sessionID, submission.Filename); err == nil {
			logutil.GetLogger(ctx).Debug("using cached submission", zap.String("filename", submission.Filename))
			return cached, nil
		}
	}
	normalized, err := s.normalizer.Normalize(ctx, submission)
	if err != nil {
		return "", err
	}
	if err := s.cache.StoreSubmission(ctx, sessionID, submission.Filename, normalized.Text); err != nil {
		logutil.GetLogger(ctx).Warn("cache submission failed", zap.Error(err))
	}
	return normalized.Text, nil
}

func (s *Service) resolveCompletion(raw string) (*model.EvaluationResult, error) {
	if s.cfg.ResponseFormat == "text" {
		return ResolveText(raw)
	}
	return Resolve(raw)
}

func (s *Service) record(ctx context.Context, sessionID, policyName, submissionName, raw string, result *model.EvaluationResult) {
	if s.history == nil {
		return
	}
	err := s.history.Create(ctx, &model.EvaluationRecord{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		PolicyFile:     policyName,
		SubmissionFile: submissionName,
		Status:         string(result.Status),
		TotalChecks:    result.Summary.TotalChecks,
		Passed:         result.Summary.Passed,
		Failed:         result.Summary.Failed,
		Partial:        result.Summary.Partial,
		RawResult:      raw,
		Ctime:          time.Now().Unix(),
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("record evaluation failed", zap.Error(err))
	}
}
