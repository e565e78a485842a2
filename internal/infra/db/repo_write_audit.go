package db

import (
	"context"
	"errors"
	"time"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type WriteAuditRepository struct {
	db *gorm.DB
}

func NewWriteAuditRepository(db *gorm.DB) *WriteAuditRepository {
	return &WriteAuditRepository{db: db}
}

func (r *WriteAuditRepository) Append(ctx context.Context, entry domain.WriteAudit) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if entry.Op == "" {
		return errors.New("op is required")
	}
	if entry.Status == "" {
		return errors.New("status is required")
	}
	model := WriteAuditModel{
		TaskID:      entry.TaskID,
		Op:          entry.Op,
		TargetKey:   entry.TargetKey,
		PayloadHash: entry.PayloadHash,
		Status:      string(entry.Status),
		ErrorCode:   entry.ErrorCode,
		TxHash:      entry.TxHash,
		CreatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *WriteAuditRepository) ListByTask(ctx context.Context, taskID string) ([]domain.WriteAudit, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []WriteAuditModel
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.WriteAudit, 0, len(models))
	for _, model := range models {
		out = append(out, domain.WriteAudit{
			ID:          model.ID,
			TaskID:      model.TaskID,
			Op:          model.Op,
			TargetKey:   model.TargetKey,
			PayloadHash: model.PayloadHash,
			Status:      domain.WriteStatus(model.Status),
			ErrorCode:   model.ErrorCode,
			TxHash:      model.TxHash,
			CreatedAt:   model.CreatedAt,
		})
	}
	return out, nil
}
