package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

// geminiProvider is the alternate hosted-model path for deployments without
// Bedrock access.
type geminiProvider struct {
	apiKey string
}

func init() {
	Register("gemini", createGeminiProvider)
}

func createGeminiProvider(args interface{}) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Invoke(ctx context.Context, req *Request) (*Completion, error) {
	if p.apiKey == "" {
		return nil, appErr.NewFatal(appErr.ErrModelAuth)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, appErr.NewFatal(err)
	}
	temperature := float32(req.Temperature)
	resp, err := client.Models.GenerateContent(
		ctx,
		req.ModelID,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
		&genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: int32(req.MaxTokens),
		},
	)
	if err != nil {
		// The genai client retries internally; anything surfacing here is
		// worth one more round through our own backoff.
		return nil, appErr.NewTransient(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, appErr.NewFatal(appErr.ErrEmptyCompletion)
	}
	stopReason := ""
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		stopReason = StopReasonMaxTokens
	}
	return &Completion{Text: text, StopReason: stopReason}, nil
}
