package db

import (
	"context"
	"errors"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetAgent returns the agent with its current metadata view: the latest
// value per key wins.
func (r *AgentRepository) GetAgent(ctx context.Context, agentID domain.AgentID) (*domain.Agent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AgentModel
	err := r.db.WithContext(ctx).Where("agent_id = ?", uint64(agentID)).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rows []AgentMetadataModel
	err = r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (key) * FROM agent_metadata
		 WHERE agent_id = ?
		 ORDER BY key, block DESC, tx_index DESC`,
		uint64(agentID),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		ID:           domain.AgentID(model.AgentID),
		Owner:        domain.Address(model.Owner),
		TokenURI:     model.TokenURI,
		CreatedBlock: model.Block,
		CreatedAt:    model.BlockTime,
		UpdatedBlock: model.Block,
		UpdatedAt:    model.BlockTime,
	}
	if len(rows) > 0 {
		agent.Metadata = make(map[string][]byte, len(rows))
	}
	for _, row := range rows {
		agent.Metadata[row.Key] = copyBytes(row.Value)
		if row.Block > agent.UpdatedBlock {
			agent.UpdatedBlock = row.Block
		}
	}
	return agent, nil
}

func (r *AgentRepository) GetMetadata(ctx context.Context, agentID domain.AgentID, key string) ([]byte, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var row AgentMetadataModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND key = ?", uint64(agentID), key).
		Order("block DESC, tx_index DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return copyBytes(row.Value), nil
}
