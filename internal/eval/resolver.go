package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/poleval/poleval/internal/model"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// ExtractJSON locates the first balanced JSON object in a noisy completion
// by brace-depth counting. Braces inside quoted strings do not affect the
// depth, so prose before and remarks after the object are both tolerated.
func ExtractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", appErr.ErrNoJSONFound
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	// An opening brace with no matching close: the dominant failure mode is
	// a token budget too small for the requirement array.
	return "", &appErr.MalformedJSONError{
		Raw:    raw[start:],
		Offset: int64(len(raw) - start),
		Err:    errors.New("unbalanced braces, completion likely truncated"),
	}
}

// rawResult mirrors the model's output contract with every field optional,
// since the payload is untrusted and partially conforming.
type rawResult struct {
	Summary      *rawSummary      `json:"summary"`
	Requirements []rawRequirement `json:"requirements"`
}

type rawSummary struct {
	Statement   string `json:"statement"`
	TotalChecks int    `json:"totalChecks"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Partial     int    `json:"partial"`
}

type rawRequirement struct {
	Requirement       *string `json:"requirement"`
	PolicyRequirement string  `json:"policyRequirement"`
	SubmissionValue   string  `json:"submissionValue"`
	Pass              *bool   `json:"pass"`
	PassStatus        string  `json:"pass_status"`
	Notes             string  `json:"notes"`
}

// Resolve turns a raw completion into a validated EvaluationResult. The
// requirement rows are ground truth: summary counts are recomputed from
// them, and a disagreement with the model's declared counts is surfaced as
// a warning rather than a failure.
func Resolve(rawCompletion string) (*model.EvaluationResult, error) {
	span, err := ExtractJSON(rawCompletion)
	if err != nil {
		return nil, err
	}

	var parsed rawResult
	if err := decodeStrictOffset(span, &parsed); err != nil {
		return nil, err
	}
	if parsed.Summary == nil {
		return nil, fmt.Errorf("%w: missing summary object", appErr.ErrInvalid)
	}
	if parsed.Requirements == nil {
		return nil, fmt.Errorf("%w: missing requirements array", appErr.ErrInvalid)
	}

	result := &model.EvaluationResult{
		Summary: model.Summary{Statement: parsed.Summary.Statement},
	}
	var passed, failed, partial int
	for i, row := range parsed.Requirements {
		if row.Requirement == nil {
			return nil, fmt.Errorf("%w: requirement %d missing requirement field", appErr.ErrInvalid, i)
		}
		if row.Pass == nil {
			return nil, fmt.Errorf("%w: requirement %d missing pass field", appErr.ErrInvalid, i)
		}
		req := model.Requirement{
			Requirement:       *row.Requirement,
			PolicyRequirement: row.PolicyRequirement,
			SubmissionValue:   row.SubmissionValue,
			Pass:              *row.Pass,
			PassStatus:        normalizePassStatus(row.PassStatus),
			Notes:             row.Notes,
		}
		switch {
		case req.PassStatus == model.PassStatusPartial:
			partial++
		case req.Pass:
			passed++
		default:
			failed++
		}
		result.Requirements = append(result.Requirements, req)
	}

	result.Summary.TotalChecks = len(result.Requirements)
	result.Summary.Passed = passed
	result.Summary.Failed = failed
	result.Summary.Partial = partial

	declared := parsed.Summary
	if declared.TotalChecks != result.Summary.TotalChecks ||
		declared.Passed != passed || declared.Failed != failed || declared.Partial != partial {
		result.Warnings = append(result.Warnings, model.Warning{
			Kind: model.WarnCountMismatch,
			Message: fmt.Sprintf(
				"summary declared total=%d passed=%d failed=%d partial=%d, requirements yield total=%d passed=%d failed=%d partial=%d",
				declared.TotalChecks, declared.Passed, declared.Failed, declared.Partial,
				result.Summary.TotalChecks, passed, failed, partial,
			),
		})
	}

	result.Status = deriveStatus(result.Requirements)
	return result, nil
}

// deriveStatus is independent of the summary narrative: the badge must
// never contradict the detailed table.
func deriveStatus(rows []model.Requirement) model.Status {
	for _, row := range rows {
		if !row.Pass {
			return model.StatusRed
		}
	}
	return model.StatusGreen
}

func normalizePassStatus(value string) model.PassStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(model.PassStatusPass):
		return model.PassStatusPass
	case string(model.PassStatusFail):
		return model.PassStatusFail
	case string(model.PassStatusPartial):
		return model.PassStatusPartial
	default:
		return ""
	}
}

// decodeStrictOffset decodes the extracted span and preserves the parser's
// byte offset on failure, so an operator can see where truncation landed.
func decodeStrictOffset(span string, dst interface{}) error {
	err := json.Unmarshal([]byte(span), dst)
	if err == nil {
		return nil
	}
	offset := int64(0)
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	} else if errors.As(err, &typeErr) {
		offset = typeErr.Offset
	}
	return &appErr.MalformedJSONError{Raw: span, Offset: offset, Err: err}
}

// Legacy plain-text contract: the completion is a status word plus prose.
var legacyStatuses = []model.Status{model.StatusGreen, model.StatusYellow, model.StatusOrange, model.StatusRed}

// ResolveText parses the plain GREEN/YELLOW/ORANGE/RED response variant.
func ResolveText(rawCompletion string) (*model.EvaluationResult, error) {
	upper := strings.ToUpper(rawCompletion)
	for _, status := range legacyStatuses {
		if !strings.Contains(upper, string(status)) {
			continue
		}
		idx := strings.Index(upper, string(status))
		explanation := rawCompletion[:idx] + rawCompletion[idx+len(status):]
		explanation = strings.TrimLeft(strings.TrimSpace(explanation), ".:- \n")
		return &model.EvaluationResult{
			Status:      status,
			Explanation: explanation,
		}, nil
	}
	return nil, fmt.Errorf("%w: no status word in completion", appErr.ErrInvalid)
}
