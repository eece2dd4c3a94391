package eval

import (
	"fmt"
	"os"
	"strings"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// Placeholder tokens replaced literally in the prompt template. Literal
// replacement, not a template engine: the template embeds a JSON example
// whose braces must survive untouched.
const (
	PlaceholderPolicy     = "{POLICY_TEXT}"
	PlaceholderSubmission = "{SUBMISSION_TEXT}"
)

type PromptTemplate struct {
	text string
}

func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return NewPromptTemplate(string(data))
}

// NewPromptTemplate validates that both document placeholders are present.
// A template that silently dropped one of the two documents would produce a
// confidently wrong evaluation.
func NewPromptTemplate(text string) (*PromptTemplate, error) {
	if !strings.Contains(text, PlaceholderPolicy) {
		return nil, fmt.Errorf("%w: %s", appErr.ErrTemplateMissingPlaceholder, PlaceholderPolicy)
	}
	if !strings.Contains(text, PlaceholderSubmission) {
		return nil, fmt.Errorf("%w: %s", appErr.ErrTemplateMissingPlaceholder, PlaceholderSubmission)
	}
	return &PromptTemplate{text: text}, nil
}

func (t *PromptTemplate) Build(policyText, submissionText string) string {
	prompt := strings.Replace(t.text, PlaceholderPolicy, policyText, 1)
	return strings.Replace(prompt, PlaceholderSubmission, submissionText, 1)
}
