package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentsync/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Projection owns all writes to the read-model tables. One block is one
// transaction: either every event of the block lands and the checkpoint
// advances, or nothing does.
type Projection struct {
	db *gorm.DB
}

func NewProjection(db *gorm.DB) *Projection {
	return &Projection{db: db}
}

func (p *Projection) Checkpoint(ctx context.Context) (*domain.Checkpoint, error) {
	if p.db == nil {
		return nil, errDBUnavailable
	}
	var model CheckpointModel
	err := p.db.WithContext(ctx).Where("id = ?", 1).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Checkpoint{
		BlockNumber: model.BlockNumber,
		BlockHash:   model.BlockHash,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}

// AppliedBlock returns the locally recorded header for a block number, or
// nil when the block was never applied (or already rewound).
func (p *Projection) AppliedBlock(ctx context.Context, number uint64) (*domain.BlockRef, error) {
	if p.db == nil {
		return nil, errDBUnavailable
	}
	var model AppliedBlockModel
	err := p.db.WithContext(ctx).Where("number = ?", number).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.BlockRef{
		Number:     model.Number,
		Hash:       model.Hash,
		ParentHash: model.ParentHash,
		Time:       model.BlockTime,
	}, nil
}

// ApplyBlock applies one block's normalized events and advances the
// checkpoint in a single transaction. Re-applying the same block is a
// no-op: every row key is deterministic and inserts do nothing on
// conflict.
func (p *Projection) ApplyBlock(ctx context.Context, header domain.BlockRef, events []domain.Event) error {
	if p.db == nil {
		return errDBUnavailable
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ev := range events {
			if ev.Block.Hash != header.Hash {
				return fmt.Errorf("event block %s does not belong to %s", ev.Block.Hash, header.Hash)
			}
			if err := applyEvent(tx, ev); err != nil {
				return err
			}
		}
		if err := insertIgnore(tx, &AppliedBlockModel{
			Number:     header.Number,
			Hash:       header.Hash,
			ParentHash: header.ParentHash,
			BlockTime:  header.Time.UTC(),
		}); err != nil {
			return err
		}
		return advanceCheckpoint(tx, header)
	})
}

// RewindTo discards every projection row that originated after the common
// ancestor and resets the checkpoint to it, atomically. Safe to re-run:
// rewinding twice to the same ancestor is a no-op.
func (p *Projection) RewindTo(ctx context.Context, ancestor domain.BlockRef) error {
	if p.db == nil {
		return errDBUnavailable
	}
	n := ancestor.Number
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purges := []struct {
			model  any
			column string
		}{
			{&AgentModel{}, "block"},
			{&AgentMetadataModel{}, "block"},
			{&ValidationRequestModel{}, "block"},
			{&ValidationResponseModel{}, "block"},
			{&FeedbackModel{}, "block"},
			{&FeedbackRevocationModel{}, "block"},
			{&FeedbackResponseModel{}, "block"},
			{&QuarantineModel{}, "block_number"},
			{&AppliedBlockModel{}, "number"},
		}
		for _, purge := range purges {
			if err := tx.Where(purge.column+" > ?", n).Delete(purge.model).Error; err != nil {
				return err
			}
		}
		return advanceCheckpoint(tx, ancestor)
	})
}

// Quarantine records an event the indexer refused to apply.
func (p *Projection) Quarantine(ctx context.Context, rec domain.QuarantineRecord) error {
	if p.db == nil {
		return errDBUnavailable
	}
	return insertIgnore(p.db.WithContext(ctx), &QuarantineModel{
		BlockNumber: rec.BlockNumber,
		BlockHash:   rec.BlockHash,
		TxIndex:     rec.TxIndex,
		Kind:        string(rec.Kind),
		Payload:     copyBytes(rec.Payload),
		Reason:      rec.Reason,
		CreatedAt:   time.Now().UTC(),
	})
}

func advanceCheckpoint(tx *gorm.DB, header domain.BlockRef) error {
	model := CheckpointModel{
		ID:          1,
		BlockNumber: header.Number,
		BlockHash:   header.Hash,
		UpdatedAt:   time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "block_hash", "updated_at"}),
	}).Create(&model).Error
}

func applyEvent(tx *gorm.DB, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventRegistered:
		return insertIgnore(tx, &AgentModel{
			AgentID:   uint64(ev.Registered.AgentID),
			Owner:     string(ev.Registered.Owner),
			TokenURI:  ev.Registered.TokenURI,
			Block:     ev.Block.Number,
			TxIndex:   ev.TxIndex,
			BlockTime: ev.Block.Time.UTC(),
		})
	case domain.EventMetadataSet:
		return insertIgnore(tx, &AgentMetadataModel{
			AgentID: uint64(ev.MetadataSet.AgentID),
			Key:     ev.MetadataSet.Key,
			Block:   ev.Block.Number,
			TxIndex: ev.TxIndex,
			Value:   copyBytes(ev.MetadataSet.Value),
		})
	case domain.EventValidationRequest:
		return insertIgnore(tx, &ValidationRequestModel{
			RequestHash: ev.ValidationRequest.RequestHash,
			Validator:   string(ev.ValidationRequest.Validator),
			AgentID:     uint64(ev.ValidationRequest.AgentID),
			RequestURI:  ev.ValidationRequest.RequestURI,
			ContentHash: ev.ValidationRequest.ContentHash,
			Block:       ev.Block.Number,
			TxIndex:     ev.TxIndex,
			BlockTime:   ev.Block.Time.UTC(),
		})
	case domain.EventValidationResponse:
		return applyValidationResponse(tx, ev)
	case domain.EventNewFeedback:
		return insertIgnore(tx, &FeedbackModel{
			AgentID:       uint64(ev.NewFeedback.AgentID),
			Client:        string(ev.NewFeedback.Client),
			FeedbackIndex: ev.NewFeedback.FeedbackIndex,
			Score:         int16(ev.NewFeedback.Score),
			Tag1:          ev.NewFeedback.Tag1,
			Tag2:          ev.NewFeedback.Tag2,
			FileURI:       ev.NewFeedback.FileURI,
			FileHash:      ev.NewFeedback.FileHash,
			AuthRef:       ev.NewFeedback.AuthRef,
			Block:         ev.Block.Number,
			TxIndex:       ev.TxIndex,
			BlockTime:     ev.Block.Time.UTC(),
		})
	case domain.EventFeedbackRevoked:
		return insertIgnore(tx, &FeedbackRevocationModel{
			AgentID:       uint64(ev.FeedbackRevoked.AgentID),
			Client:        string(ev.FeedbackRevoked.Client),
			FeedbackIndex: ev.FeedbackRevoked.FeedbackIndex,
			Block:         ev.Block.Number,
			TxIndex:       ev.TxIndex,
		})
	case domain.EventResponseAppended:
		return insertIgnore(tx, &FeedbackResponseModel{
			AgentID:       uint64(ev.ResponseAppended.AgentID),
			Client:        string(ev.ResponseAppended.Client),
			FeedbackIndex: ev.ResponseAppended.FeedbackIndex,
			Block:         ev.Block.Number,
			TxIndex:       ev.TxIndex,
			Responder:     string(ev.ResponseAppended.Responder),
			ResponseURI:   ev.ResponseAppended.ResponseURI,
			ContentHash:   ev.ResponseAppended.ContentHash,
		})
	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind)
	}
}

// applyValidationResponse quarantines a response whose request is unknown:
// the chain enforces validator authorization upstream, so a response
// without a matching request means the projection is missing data and the
// row must not be invented.
func applyValidationResponse(tx *gorm.DB, ev domain.Event) error {
	var count int64
	if err := tx.Model(&ValidationRequestModel{}).
		Where("request_hash = ?", ev.ValidationResponse.RequestHash).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return insertIgnore(tx, &QuarantineModel{
			BlockNumber: ev.Block.Number,
			BlockHash:   ev.Block.Hash,
			TxIndex:     ev.TxIndex,
			Kind:        string(ev.Kind),
			Reason:      "response for unknown request " + ev.ValidationResponse.RequestHash,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return insertIgnore(tx, &ValidationResponseModel{
		RequestHash: ev.ValidationResponse.RequestHash,
		Block:       ev.Block.Number,
		TxIndex:     ev.TxIndex,
		Score:       int16(ev.ValidationResponse.Score),
		ResponseURI: ev.ValidationResponse.ResponseURI,
		ContentHash: ev.ValidationResponse.ContentHash,
		Tag:         ev.ValidationResponse.Tag,
		BlockTime:   ev.Block.Time.UTC(),
	})
}

func insertIgnore(tx *gorm.DB, model any) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error
}
