package db

import "time"

// Projection tables are event-history rows: every row carries the block it
// originated in and rewinding a reorg is a delete by block number. Current
// state (latest metadata value, latest response, revoked flags) is derived
// at query time, never mutated in place.

type AgentModel struct {
	AgentID   uint64    `gorm:"primaryKey;autoIncrement:false"`
	Owner     string    `gorm:"index;not null"`
	TokenURI  string    `gorm:"not null"`
	Block     uint64    `gorm:"index;not null"`
	TxIndex   int       `gorm:"not null"`
	BlockTime time.Time `gorm:"not null"`
}

func (AgentModel) TableName() string { return "agents" }

type AgentMetadataModel struct {
	AgentID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Key     string `gorm:"primaryKey"`
	Block   uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	TxIndex int    `gorm:"primaryKey;autoIncrement:false"`
	Value   []byte `gorm:"type:bytea"`
}

func (AgentMetadataModel) TableName() string { return "agent_metadata" }

type ValidationRequestModel struct {
	RequestHash string    `gorm:"primaryKey"`
	Validator   string    `gorm:"index;not null"`
	AgentID     uint64    `gorm:"index;not null"`
	RequestURI  string    `gorm:"not null"`
	ContentHash string    `gorm:"not null"`
	Block       uint64    `gorm:"index;not null"`
	TxIndex     int       `gorm:"not null"`
	BlockTime   time.Time `gorm:"not null"`
}

func (ValidationRequestModel) TableName() string { return "validation_requests" }

type ValidationResponseModel struct {
	RequestHash string    `gorm:"primaryKey"`
	Block       uint64    `gorm:"primaryKey;autoIncrement:false;index"`
	TxIndex     int       `gorm:"primaryKey;autoIncrement:false"`
	Score       int16     `gorm:"not null"`
	ResponseURI string    `gorm:"not null"`
	ContentHash string    `gorm:"not null"`
	Tag         string    `gorm:"not null"`
	BlockTime   time.Time `gorm:"not null"`
}

func (ValidationResponseModel) TableName() string { return "validation_responses" }

type FeedbackModel struct {
	AgentID       uint64    `gorm:"primaryKey;autoIncrement:false"`
	Client        string    `gorm:"primaryKey"`
	FeedbackIndex uint64    `gorm:"primaryKey;autoIncrement:false"`
	Score         int16     `gorm:"not null"`
	Tag1          string    `gorm:"not null"`
	Tag2          string    `gorm:"not null"`
	FileURI       string    `gorm:"not null"`
	FileHash      string    `gorm:"not null"`
	AuthRef       string    `gorm:"not null"`
	Block         uint64    `gorm:"index;not null"`
	TxIndex       int       `gorm:"not null"`
	BlockTime     time.Time `gorm:"not null"`
}

func (FeedbackModel) TableName() string { return "feedback" }

type FeedbackRevocationModel struct {
	AgentID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Client        string `gorm:"primaryKey"`
	FeedbackIndex uint64 `gorm:"primaryKey;autoIncrement:false"`
	Block         uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	TxIndex       int    `gorm:"not null"`
}

func (FeedbackRevocationModel) TableName() string { return "feedback_revocations" }

type FeedbackResponseModel struct {
	AgentID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Client        string `gorm:"primaryKey"`
	FeedbackIndex uint64 `gorm:"primaryKey;autoIncrement:false"`
	Block         uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	TxIndex       int    `gorm:"primaryKey;autoIncrement:false"`
	Responder     string `gorm:"not null"`
	ResponseURI   string `gorm:"not null"`
	ContentHash   string `gorm:"not null"`
}

func (FeedbackResponseModel) TableName() string { return "feedback_responses" }

// AppliedBlockModel keeps the hash chain of applied blocks so a reorg
// rewind can locate the common ancestor without trusting the remote chain.
type AppliedBlockModel struct {
	Number     uint64    `gorm:"primaryKey;autoIncrement:false"`
	Hash       string    `gorm:"not null"`
	ParentHash string    `gorm:"not null"`
	BlockTime  time.Time `gorm:"not null"`
}

func (AppliedBlockModel) TableName() string { return "applied_blocks" }

// CheckpointModel is a single-row table (id = 1): the indexer's durable
// cursor.
type CheckpointModel struct {
	ID          int       `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber uint64    `gorm:"not null"`
	BlockHash   string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (CheckpointModel) TableName() string { return "checkpoint" }

// QuarantineModel rows are unique per (block, tx index, kind, reason) so
// replaying a block cannot double-quarantine the same event, while distinct
// malformed events in one block each keep their own row.
type QuarantineModel struct {
	ID          int64     `gorm:"primaryKey"`
	BlockNumber uint64    `gorm:"index;uniqueIndex:uq_quarantine;not null"`
	BlockHash   string    `gorm:"uniqueIndex:uq_quarantine;not null"`
	TxIndex     int       `gorm:"uniqueIndex:uq_quarantine;not null"`
	Kind        string    `gorm:"uniqueIndex:uq_quarantine;not null"`
	Payload     []byte    `gorm:"type:bytea"`
	Reason      string    `gorm:"uniqueIndex:uq_quarantine;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (QuarantineModel) TableName() string { return "event_quarantine" }

type WriteAuditModel struct {
	ID          int64     `gorm:"primaryKey"`
	TaskID      string    `gorm:"index"`
	Op          string    `gorm:"not null"`
	TargetKey   string    `gorm:"index;not null"`
	PayloadHash string
	Status      string    `gorm:"not null"`
	ErrorCode   string
	TxHash      string
	CreatedAt   time.Time `gorm:"not null"`
}

func (WriteAuditModel) TableName() string { return "write_audit" }

type TaskModel struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	AgentID               uint64 `gorm:"index;not null"`
	Client                string `gorm:"not null"`
	ArtifactURI           string `gorm:"not null"`
	ArtifactHash          string `gorm:"not null"`
	State                 string `gorm:"index;not null"`
	RequestHashes         []byte `gorm:"type:jsonb"`
	ValidationRequestedAt *time.Time
	DecisionPass          *bool
	DecisionScore         *float64
	FeedbackIndex         *int64
	FailureCode           string
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (TaskModel) TableName() string { return "tasks" }
