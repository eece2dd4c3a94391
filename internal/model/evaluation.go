package model

// Status is the final verdict badge derived from the requirement rows,
// never from the model's own summary narrative.
type Status string

const (
	StatusGreen Status = "GREEN"
	StatusRed   Status = "RED"
	// Legacy plain-text contract statuses.
	StatusYellow Status = "YELLOW"
	StatusOrange Status = "ORANGE"
)

// PassStatus is the optional per-row tri-state verdict.
type PassStatus string

const (
	PassStatusPass    PassStatus = "PASS"
	PassStatusFail    PassStatus = "FAIL"
	PassStatusPartial PassStatus = "PARTIAL"
)

type Summary struct {
	Statement   string `json:"statement"`
	TotalChecks int    `json:"totalChecks"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Partial     int    `json:"partial,omitempty"`
}

type Requirement struct {
	Requirement       string     `json:"requirement"`
	PolicyRequirement string     `json:"policyRequirement"`
	SubmissionValue   string     `json:"submissionValue"`
	Pass              bool       `json:"pass"`
	PassStatus        PassStatus `json:"pass_status,omitempty"`
	Notes             string     `json:"notes"`
}

// Warning kinds attached to an EvaluationResult without failing it.
const (
	WarnCountMismatch     = "count_mismatch"
	WarnPossiblyTruncated = "possibly_truncated"
)

type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type EvaluationResult struct {
	Summary      Summary       `json:"summary"`
	Requirements []Requirement `json:"requirements"`
	Status       Status        `json:"status"`
	Warnings     []Warning     `json:"warnings,omitempty"`
	// Explanation is only set in legacy plain-text mode.
	Explanation string `json:"explanation,omitempty"`
}

// EvaluationRecord is one persisted history row per completed evaluation.
type EvaluationRecord struct {
	ID             string
	SessionID      string
	PolicyFile     string
	SubmissionFile string
	Status         string
	TotalChecks    int
	Passed         int
	Failed         int
	Partial        int
	RawResult      string
	Ctime          int64
}
