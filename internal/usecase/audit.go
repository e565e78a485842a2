package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"agentsync/internal/domain"
)

// WriteAuditor records every on-chain write attempt and its outcome. Audit
// failures are logged, never propagated: losing a trail entry must not fail
// the write it describes.
type WriteAuditor struct {
	repo WriteAuditRepository
}

func NewWriteAuditor(repo WriteAuditRepository) *WriteAuditor {
	return &WriteAuditor{repo: repo}
}

func (a *WriteAuditor) Attempt(ctx context.Context, taskID, op, targetKey string, payload any) {
	a.append(ctx, domain.WriteAudit{
		TaskID:      taskID,
		Op:          op,
		TargetKey:   targetKey,
		PayloadHash: payloadHash(payload),
		Status:      domain.WriteAttempted,
	})
}

func (a *WriteAuditor) Confirm(ctx context.Context, taskID, op, targetKey string, receipt domain.WriteReceipt) {
	a.append(ctx, domain.WriteAudit{
		TaskID:    taskID,
		Op:        op,
		TargetKey: targetKey,
		Status:    domain.WriteConfirmed,
		TxHash:    receipt.TxHash,
	})
}

func (a *WriteAuditor) Reject(ctx context.Context, taskID, op, targetKey, code string) {
	a.append(ctx, domain.WriteAudit{
		TaskID:    taskID,
		Op:        op,
		TargetKey: targetKey,
		Status:    domain.WriteRejected,
		ErrorCode: code,
	})
}

// History returns the recorded write attempts for a task, oldest first.
// Unlike appends, history reads surface their errors: callers use them to
// decide whether a write may already have landed.
func (a *WriteAuditor) History(ctx context.Context, taskID string) ([]domain.WriteAudit, error) {
	if a == nil || a.repo == nil {
		return nil, nil
	}
	return a.repo.ListByTask(ctx, taskID)
}

func (a *WriteAuditor) append(ctx context.Context, entry domain.WriteAudit) {
	if a == nil || a.repo == nil {
		return
	}
	entry.CreatedAt = time.Now().UTC()
	if err := a.repo.Append(ctx, entry); err != nil {
		log.Printf("write audit: append %s %s: %v", entry.Op, entry.Status, err)
	}
}

func payloadHash(payload any) string {
	if payload == nil {
		return ""
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
