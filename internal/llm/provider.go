package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StopReasonMaxTokens signals the completion was cut by the token budget.
// Callers must treat the result as possibly truncated even when it parses.
const StopReasonMaxTokens = "max_tokens"

// Request is one model invocation. Temperature stays at zero for
// reproducible verdicts; the budgeter decides MaxTokens and whether the
// provider should ask for its long-context mode.
type Request struct {
	ModelID         string
	Prompt          string
	MaxTokens       int
	Temperature     float64
	ExtendedContext bool
}

// Completion is the raw text outcome of a model call plus the provider's
// stop reason.
type Completion struct {
	Text       string
	StopReason string
}

type IProvider interface {
	Name() string
	Invoke(ctx context.Context, req *Request) (*Completion, error)
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("model.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported model provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode provider config: %w", err)
	}
	return nil
}
