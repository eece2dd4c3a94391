package eval

// Output length tracks input length for this task: one result row per
// requirement, and requirement count grows with document size.
const (
	// absoluteTokenFloor is the smallest budget that reliably avoids
	// mid-JSON truncation for the structured output shape.
	absoluteTokenFloor = 5000
	// extendedContextThreshold is the budget above which the provider must
	// be asked for its long-context mode (exclusive).
	extendedContextThreshold = 200000
)

type Budget struct {
	MaxTokens       int
	ExtendedContext bool
}

// ComputeBudget allocates max(floor, ceil(2/3 * inputBytes)) output tokens.
func ComputeBudget(inputBytes, configuredFloor int) Budget {
	floor := configuredFloor
	if floor < absoluteTokenFloor {
		floor = absoluteTokenFloor
	}
	maxTokens := (2*inputBytes + 2) / 3
	if maxTokens < floor {
		maxTokens = floor
	}
	return Budget{
		MaxTokens:       maxTokens,
		ExtendedContext: maxTokens > extendedContextThreshold,
	}
}
