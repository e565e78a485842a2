package db

import (
	"context"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type QuarantineRepository struct {
	db *gorm.DB
}

func NewQuarantineRepository(db *gorm.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

func (r *QuarantineRepository) List(ctx context.Context, limit int) ([]domain.QuarantineRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	var models []QuarantineModel
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuarantineRecord, 0, len(models))
	for _, model := range models {
		out = append(out, domain.QuarantineRecord{
			BlockNumber: model.BlockNumber,
			BlockHash:   model.BlockHash,
			TxIndex:     model.TxIndex,
			Kind:        domain.EventKind(model.Kind),
			Payload:     copyBytes(model.Payload),
			Reason:      model.Reason,
			CreatedAt:   model.CreatedAt,
		})
	}
	return out, nil
}
