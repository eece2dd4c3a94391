package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

const (
	anthropicVersion    = "bedrock-2023-05-31"
	extendedContextBeta = "context-1m-2025-08-07"
)

type bedrockConfig struct {
	Region           string `json:"region"`
	AnthropicVersion string `json:"anthropic_version"`
}

// BedrockAPI is the slice of the Bedrock runtime client the provider needs.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type bedrockProvider struct {
	client  BedrockAPI
	version string
}

func init() {
	Register("bedrock", createBedrockProvider)
}

func createBedrockProvider(args interface{}) (IProvider, error) {
	cfg := &bedrockConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = anthropicVersion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &bedrockProvider{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		version: cfg.AnthropicVersion,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
	AnthropicBeta    []string           `json:"anthropic_beta,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

func (p *bedrockProvider) Name() string {
	return "bedrock"
}

func (p *bedrockProvider) Invoke(ctx context.Context, req *Request) (*Completion, error) {
	body := anthropicRequest{
		AnthropicVersion: p.version,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		Messages:         []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.ExtendedContext {
		body.AnthropicBeta = []string{extendedContextBeta}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, appErr.NewFatal(fmt.Errorf("encode request body: %w", err))
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, appErr.NewFatal(fmt.Errorf("decode response body: %w", err))
	}
	// Concatenate every text-bearing content block in order.
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, appErr.NewFatal(appErr.ErrEmptyCompletion)
	}
	return &Completion{
		Text:       strings.Join(parts, ""),
		StopReason: resp.StopReason,
	}, nil
}

// classifyAWSError sorts service failures into retryable and terminal ones.
func classifyAWSError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// Connection resets and the like are worth retrying.
		return appErr.NewTransient(err)
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException", "ServiceUnavailableException",
		"InternalServerException", "ModelTimeoutException", "ModelNotReadyException":
		return appErr.NewTransient(err)
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return appErr.NewFatal(fmt.Errorf("%w: %v", appErr.ErrModelAuth, err))
	case "ResourceNotFoundException":
		return appErr.NewFatal(fmt.Errorf("%w: %v", appErr.ErrModelNotFound, err))
	default:
		return appErr.NewFatal(err)
	}
}
