package db

import (
	"context"
	"errors"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type FeedbackRepository struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// NextIndex is the next unused feedback index for a pair, derived from the
// projection: highest observed index plus one.
func (r *FeedbackRepository) NextIndex(ctx context.Context, agentID domain.AgentID, client domain.Address) (uint64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var max *int64
	err := r.db.WithContext(ctx).
		Model(&FeedbackModel{}).
		Select("MAX(feedback_index)").
		Where("agent_id = ? AND client = ?", uint64(agentID), string(client)).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return uint64(*max) + 1, nil
}

func (r *FeedbackRepository) Get(ctx context.Context, agentID domain.AgentID, client domain.Address, index uint64) (*domain.FeedbackRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model FeedbackModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND client = ? AND feedback_index = ?", uint64(agentID), string(client), index).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	revoked, err := r.isRevoked(ctx, model)
	if err != nil {
		return nil, err
	}
	record := feedbackFromModel(model, revoked)
	return &record, nil
}

func (r *FeedbackRepository) ListByAgent(ctx context.Context, agentID domain.AgentID, includeRevoked bool) ([]domain.FeedbackRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var rows []feedbackWithRevocation
	err := r.db.WithContext(ctx).Raw(
		`SELECT f.*, (r.agent_id IS NOT NULL) AS revoked
		 FROM feedback f
		 LEFT JOIN feedback_revocations r
		   ON r.agent_id = f.agent_id AND r.client = f.client AND r.feedback_index = f.feedback_index
		 WHERE f.agent_id = ?
		 ORDER BY f.client, f.feedback_index`,
		uint64(agentID),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.FeedbackRecord, 0, len(rows))
	for _, row := range rows {
		if row.Revoked && !includeRevoked {
			continue
		}
		out = append(out, feedbackFromModel(row.FeedbackModel, row.Revoked))
	}
	return out, nil
}

// Summary aggregates non-revoked feedback for an agent.
func (r *FeedbackRepository) Summary(ctx context.Context, agentID domain.AgentID) (domain.FeedbackSummary, error) {
	if r.db == nil {
		return domain.FeedbackSummary{}, errDBUnavailable
	}
	var row struct {
		Count int64
		Mean  *float64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, AVG(f.score) AS mean
		 FROM feedback f
		 LEFT JOIN feedback_revocations r
		   ON r.agent_id = f.agent_id AND r.client = f.client AND r.feedback_index = f.feedback_index
		 WHERE f.agent_id = ? AND r.agent_id IS NULL`,
		uint64(agentID),
	).Scan(&row).Error
	if err != nil {
		return domain.FeedbackSummary{}, err
	}
	summary := domain.FeedbackSummary{AgentID: agentID, Count: row.Count}
	if row.Mean != nil {
		summary.MeanScore = *row.Mean
	}
	return summary, nil
}

func (r *FeedbackRepository) ListResponses(ctx context.Context, agentID domain.AgentID, client domain.Address, index uint64) ([]domain.FeedbackResponse, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var rows []FeedbackResponseModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND client = ? AND feedback_index = ?", uint64(agentID), string(client), index).
		Order("block ASC, tx_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.FeedbackResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.FeedbackResponse{
			AgentID:       domain.AgentID(row.AgentID),
			Client:        domain.Address(row.Client),
			FeedbackIndex: row.FeedbackIndex,
			Responder:     domain.Address(row.Responder),
			ResponseURI:   row.ResponseURI,
			ContentHash:   row.ContentHash,
			CreatedBlock:  row.Block,
		})
	}
	return out, nil
}

func (r *FeedbackRepository) isRevoked(ctx context.Context, model FeedbackModel) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FeedbackRevocationModel{}).
		Where("agent_id = ? AND client = ? AND feedback_index = ?", model.AgentID, model.Client, model.FeedbackIndex).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type feedbackWithRevocation struct {
	FeedbackModel
	Revoked bool
}

func feedbackFromModel(model FeedbackModel, revoked bool) domain.FeedbackRecord {
	return domain.FeedbackRecord{
		AgentID:      domain.AgentID(model.AgentID),
		Client:       domain.Address(model.Client),
		Index:        model.FeedbackIndex,
		Score:        uint8(model.Score),
		Tag1:         model.Tag1,
		Tag2:         model.Tag2,
		FileURI:      model.FileURI,
		FileHash:     model.FileHash,
		AuthRef:      model.AuthRef,
		Revoked:      revoked,
		CreatedBlock: model.Block,
		CreatedAt:    model.BlockTime,
	}
}
