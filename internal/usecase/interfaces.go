package usecase

import (
	"context"

	"agentsync/internal/domain"
)

// ChainReader is the read side of the ledger gateway.
type ChainReader interface {
	Latest(ctx context.Context) (domain.BlockRef, error)
	Header(ctx context.Context, number uint64) (domain.BlockRef, error)
	Events(ctx context.Context, from, to uint64) ([]domain.RawEvent, error)
	Notify(ctx context.Context) (<-chan domain.BlockRef, error)
}

// ChainWriter submits registry transactions. Effects are never applied to
// the read model directly; they surface later as indexed events.
type ChainWriter interface {
	Register(ctx context.Context, tokenURI string, metadata map[string][]byte) (domain.AgentID, domain.WriteReceipt, error)
	SetMetadata(ctx context.Context, agentID domain.AgentID, key string, value []byte) (domain.WriteReceipt, error)
	ValidationRequest(ctx context.Context, validator domain.Address, agentID domain.AgentID, requestURI, contentHash string) (domain.WriteReceipt, error)
	ValidationResponse(ctx context.Context, requestHash string, score uint8, responseURI, responseHash, tag string) (domain.WriteReceipt, error)
	GiveFeedback(ctx context.Context, agentID domain.AgentID, score uint8, tag1, tag2, fileURI, fileHash string, cred domain.AuthCredential) (domain.WriteReceipt, error)
	RevokeFeedback(ctx context.Context, agentID domain.AgentID, feedbackIndex uint64) (domain.WriteReceipt, error)
	AppendResponse(ctx context.Context, agentID domain.AgentID, client domain.Address, feedbackIndex uint64, responseURI, responseHash string) (domain.WriteReceipt, error)
}

// ProjectionStore is the write side of the read model, owned exclusively by
// the indexer.
type ProjectionStore interface {
	Checkpoint(ctx context.Context) (*domain.Checkpoint, error)
	AppliedBlock(ctx context.Context, number uint64) (*domain.BlockRef, error)
	ApplyBlock(ctx context.Context, header domain.BlockRef, events []domain.Event) error
	RewindTo(ctx context.Context, ancestor domain.BlockRef) error
	Quarantine(ctx context.Context, rec domain.QuarantineRecord) error
}

// Read-only query surfaces over the projection. Everything outside the
// indexer sees the read model through these.

type AgentReader interface {
	GetAgent(ctx context.Context, agentID domain.AgentID) (*domain.Agent, error)
	GetMetadata(ctx context.Context, agentID domain.AgentID, key string) ([]byte, error)
}

type ValidationReader interface {
	GetRequest(ctx context.Context, requestHash string) (*domain.ValidationRequest, error)
	GetResponse(ctx context.Context, requestHash string) (*domain.ValidationResponse, error)
	ListResponses(ctx context.Context, requestHashes []string) (map[string]domain.ValidationResponse, error)
}

type FeedbackReader interface {
	NextIndex(ctx context.Context, agentID domain.AgentID, client domain.Address) (uint64, error)
	Get(ctx context.Context, agentID domain.AgentID, client domain.Address, index uint64) (*domain.FeedbackRecord, error)
	ListByAgent(ctx context.Context, agentID domain.AgentID, includeRevoked bool) ([]domain.FeedbackRecord, error)
	Summary(ctx context.Context, agentID domain.AgentID) (domain.FeedbackSummary, error)
}

type TaskRepository interface {
	Create(ctx context.Context, task domain.Task) error
	Update(ctx context.Context, task domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	ListOpen(ctx context.Context) ([]domain.Task, error)
}

type WriteAuditRepository interface {
	Append(ctx context.Context, entry domain.WriteAudit) error
	ListByTask(ctx context.Context, taskID string) ([]domain.WriteAudit, error)
}

// EvidenceStore persists payload blobs and returns their locator. The
// content-addressed gateway satisfies it.
type EvidenceStore interface {
	Store(ctx context.Context, payload []byte) (uri string, contentHash string, err error)
}

// RubricEngine converts a task outcome into a feedback score. Both the
// static table and the rego-backed engine satisfy it.
type RubricEngine interface {
	Score(ctx context.Context, outcome domain.TaskOutcome) (uint8, error)
}

// CredentialSource issues the authorization credential for one feedback
// submission. Issuance is an external trust boundary; credentials are
// requested fresh at submission time and never cached past their bound.
type CredentialSource interface {
	Credential(ctx context.Context, agentID domain.AgentID, client domain.Address) (domain.AuthCredential, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context, agentID domain.AgentID, client domain.Address) (domain.AuthCredential, error)

func (f CredentialFunc) Credential(ctx context.Context, agentID domain.AgentID, client domain.Address) (domain.AuthCredential, error) {
	return f(ctx, agentID, client)
}
