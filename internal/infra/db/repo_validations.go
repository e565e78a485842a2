package db

import (
	"context"
	"errors"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type ValidationRepository struct {
	db *gorm.DB
}

func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

func (r *ValidationRepository) GetRequest(ctx context.Context, requestHash string) (*domain.ValidationRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ValidationRequestModel
	err := r.db.WithContext(ctx).Where("request_hash = ?", requestHash).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	request := requestFromModel(model)
	response, err := r.GetResponse(ctx, requestHash)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if response != nil {
		request.Status = domain.ValidationResponded
	}
	return &request, nil
}

// GetResponse returns the current response for a request: the latest
// recorded one wins, matching the chain's overwrite semantics.
func (r *ValidationRepository) GetResponse(ctx context.Context, requestHash string) (*domain.ValidationResponse, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ValidationResponseModel
	err := r.db.WithContext(ctx).
		Where("request_hash = ?", requestHash).
		Order("block DESC, tx_index DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	response := responseFromModel(model)
	return &response, nil
}

// ListResponses returns the current response per request hash; hashes with
// no response are absent from the map.
func (r *ValidationRepository) ListResponses(ctx context.Context, requestHashes []string) (map[string]domain.ValidationResponse, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if len(requestHashes) == 0 {
		return map[string]domain.ValidationResponse{}, nil
	}
	var rows []ValidationResponseModel
	err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (request_hash) * FROM validation_responses
		 WHERE request_hash IN ?
		 ORDER BY request_hash, block DESC, tx_index DESC`,
		requestHashes,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ValidationResponse, len(rows))
	for _, row := range rows {
		out[row.RequestHash] = responseFromModel(row)
	}
	return out, nil
}

func requestFromModel(model ValidationRequestModel) domain.ValidationRequest {
	return domain.ValidationRequest{
		RequestHash:  model.RequestHash,
		Validator:    domain.Address(model.Validator),
		AgentID:      domain.AgentID(model.AgentID),
		RequestURI:   model.RequestURI,
		ContentHash:  model.ContentHash,
		CreatedBlock: model.Block,
		Status:       domain.ValidationPending,
	}
}

func responseFromModel(model ValidationResponseModel) domain.ValidationResponse {
	return domain.ValidationResponse{
		RequestHash:    model.RequestHash,
		Score:          uint8(model.Score),
		ResponseURI:    model.ResponseURI,
		ContentHash:    model.ContentHash,
		Tag:            model.Tag,
		RespondedBlock: model.Block,
		RespondedAt:    model.BlockTime,
	}
}
