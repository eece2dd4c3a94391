package eval_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poleval/poleval/internal/eval"
	"github.com/poleval/poleval/internal/model"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

const cleanCompletion = `Here you go:
{"summary":{"statement":"ok","totalChecks":1,"passed":1,"failed":0},"requirements":[{"requirement":"A","pass":true}]}
Thanks`

func TestResolveCleanCompletion(t *testing.T) {
	result, err := eval.Resolve(cleanCompletion)
	require.NoError(t, err)
	require.Len(t, result.Requirements, 1)
	require.Equal(t, "A", result.Requirements[0].Requirement)
	require.True(t, result.Requirements[0].Pass)
	require.Equal(t, model.StatusGreen, result.Status)
	require.Empty(t, result.Warnings)
	require.Equal(t, 1, result.Summary.TotalChecks)
}

func TestResolveIsIdempotent(t *testing.T) {
	first, err := eval.Resolve(cleanCompletion)
	require.NoError(t, err)
	second, err := eval.Resolve(cleanCompletion)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolveRecomputesMismatchedCounts(t *testing.T) {
	raw := `{"summary":{"statement":"ok","totalChecks":1,"passed":1,"failed":1},"requirements":[{"requirement":"A","pass":true}]}`
	result, err := eval.Resolve(raw)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, model.WarnCountMismatch, result.Warnings[0].Kind)
	require.Equal(t, 1, result.Summary.Passed)
	require.Equal(t, 0, result.Summary.Failed)
	require.Equal(t, model.StatusGreen, result.Status)
}

func TestResolveStatusRedOnAnyFailure(t *testing.T) {
	raw := `{"summary":{"statement":"","totalChecks":3,"passed":2,"failed":1},"requirements":[
		{"requirement":"A","pass":true},
		{"requirement":"B","pass":false,"notes":"limit too low"},
		{"requirement":"C","pass":true}
	]}`
	result, err := eval.Resolve(raw)
	require.NoError(t, err)
	require.Equal(t, model.StatusRed, result.Status)
	require.Empty(t, result.Warnings)
}

func TestResolvePartialRows(t *testing.T) {
	raw := `{"summary":{"statement":"","totalChecks":2,"passed":1,"failed":0,"partial":1},"requirements":[
		{"requirement":"A","pass":true,"pass_status":"PASS"},
		{"requirement":"B","pass":false,"pass_status":"PARTIAL","notes":"ambiguous wording"}
	]}`
	result, err := eval.Resolve(raw)
	require.NoError(t, err)
	require.Equal(t, 1, result.Summary.Passed)
	require.Equal(t, 0, result.Summary.Failed)
	require.Equal(t, 1, result.Summary.Partial)
	require.Empty(t, result.Warnings)
	// A partial row is not a pass, so the badge cannot be green.
	require.Equal(t, model.StatusRed, result.Status)
}

func TestResolveDefaultsOptionalFields(t *testing.T) {
	raw := `{"summary":{"statement":"","totalChecks":1,"passed":1,"failed":0},"requirements":[{"requirement":"A","pass":true}]}`
	result, err := eval.Resolve(raw)
	require.NoError(t, err)
	row := result.Requirements[0]
	require.Empty(t, row.PolicyRequirement)
	require.Empty(t, row.SubmissionValue)
	require.Empty(t, row.Notes)
	require.Empty(t, string(row.PassStatus))
}

func TestResolveTotalChecksAlwaysMatchesRows(t *testing.T) {
	for declared := 0; declared < 5; declared++ {
		raw := fmt.Sprintf(`{"summary":{"statement":"","totalChecks":%d,"passed":0,"failed":2},"requirements":[{"requirement":"A","pass":false},{"requirement":"B","pass":false}]}`, declared)
		result, err := eval.Resolve(raw)
		require.NoError(t, err)
		require.Equal(t, len(result.Requirements), result.Summary.TotalChecks)
		require.Equal(t, 2, result.Summary.TotalChecks)
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	raw := `prefix {"summary":{"statement":"see {policy} for details"},"requirements":[{"requirement":"A","pass":true,"notes":"{see policy}"}]} suffix { stray`
	span, err := eval.ExtractJSON(raw)
	require.NoError(t, err)
	require.Equal(t, `{"summary":{"statement":"see {policy} for details"},"requirements":[{"requirement":"A","pass":true,"notes":"{see policy}"}]}`, span)
}

func TestExtractJSONEscapedQuotes(t *testing.T) {
	raw := `{"a":"quote \" then } brace","b":1}`
	span, err := eval.ExtractJSON(raw)
	require.NoError(t, err)
	require.Equal(t, raw, span)
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := eval.ExtractJSON("the model refused to answer")
	require.ErrorIs(t, err, appErr.ErrNoJSONFound)
}

func TestResolveTruncatedCompletion(t *testing.T) {
	raw := `{"summary":{"statement":"ok","totalChecks":3,"passed":3,"failed":0},"requirements":[{"requirement":"A","pass":true},{"requirement":"B"`
	_, err := eval.Resolve(raw)
	require.Error(t, err)
	require.True(t, appErr.IsMalformedJSON(err))
	var malformed *appErr.MalformedJSONError
	require.True(t, errors.As(err, &malformed))
	require.NotEmpty(t, malformed.Raw)
}

func TestResolveMalformedJSONKeepsOffset(t *testing.T) {
	raw := `{"summary":{"statement":"ok","totalChecks":1,"passed":1,"failed":0},"requirements":[{"requirement":"A","pass":}]}`
	_, err := eval.Resolve(raw)
	require.Error(t, err)
	var malformed *appErr.MalformedJSONError
	require.True(t, errors.As(err, &malformed))
	require.Greater(t, malformed.Offset, int64(0))
	require.Equal(t, raw, malformed.Raw)
}

func TestResolveMissingTopLevelKeys(t *testing.T) {
	_, err := eval.Resolve(`{"summary":{"statement":"ok"}}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "requirements")

	_, err = eval.Resolve(`{"requirements":[]}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "summary")
}

func TestResolveRowMissingPass(t *testing.T) {
	_, err := eval.Resolve(`{"summary":{"statement":""},"requirements":[{"requirement":"A"}]}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pass field")
}

func TestResolveTextLegacyContract(t *testing.T) {
	result, err := eval.ResolveText("GREEN. All requirements are met in full.")
	require.NoError(t, err)
	require.Equal(t, model.StatusGreen, result.Status)
	require.Equal(t, "All requirements are met in full.", result.Explanation)

	result, err = eval.ResolveText("After review the verdict is RED because coverage is missing.")
	require.NoError(t, err)
	require.Equal(t, model.StatusRed, result.Status)

	_, err = eval.ResolveText("no verdict here")
	require.Error(t, err)
}
