package domain

import "time"

// TaskState is one step of the task lifecycle. Terminal states are closed
// and failed.
type TaskState string

const (
	TaskCreated              TaskState = "created"
	TaskValidationRequested  TaskState = "validation_requested"
	TaskValidationCollecting TaskState = "validation_collecting"
	TaskValidationDecided    TaskState = "validation_decided"
	TaskFeedbackSubmitted    TaskState = "feedback_submitted"
	TaskClosed               TaskState = "closed"
	TaskFailed               TaskState = "failed"
)

func (s TaskState) Terminal() bool {
	return s == TaskClosed || s == TaskFailed
}

// Task is one unit of work: a single code-change submission driven through
// validation and feedback.
type Task struct {
	ID            string    `json:"id"`
	AgentID       AgentID   `json:"agent_id"`
	Client        Address   `json:"client"`
	ArtifactURI   string    `json:"artifact_uri"`
	ArtifactHash  string    `json:"artifact_hash"`
	State         TaskState `json:"state"`
	RequestHashes []string  `json:"request_hashes,omitempty"`

	// ValidationRequestedAt anchors the aggregation timeout: it is set when
	// the validation requests go out, not when the task was created.
	ValidationRequestedAt *time.Time `json:"validation_requested_at,omitempty"`

	// Decision fields are immutable once the state reaches
	// validation_decided.
	DecisionPass  *bool    `json:"decision_pass,omitempty"`
	DecisionScore *float64 `json:"decision_score,omitempty"`

	FeedbackIndex *uint64 `json:"feedback_index,omitempty"`
	FailureCode   string  `json:"failure_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskOutcome carries the raw validator metadata a decision was based on,
// as input to the reputation rubric.
type TaskOutcome struct {
	Pass             bool    `json:"pass"`
	MeanScore        float64 `json:"mean_score"`
	TestsPassed      bool    `json:"tests_passed"`
	CoveragePercent  float64 `json:"coverage_percent"`
	ReviewComments   int     `json:"review_comments"`
	ChangesRequested bool    `json:"changes_requested"`
	RejectionCause   string  `json:"rejection_cause,omitempty"`
}
