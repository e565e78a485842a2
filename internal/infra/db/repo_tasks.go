package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"agentsync/internal/domain"

	"gorm.io/gorm"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task domain.Task) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if task.ID == "" {
		return errors.New("task id is required")
	}
	model, err := taskModelFromDomain(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *TaskRepository) Update(ctx context.Context, task domain.Task) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := taskModelFromDomain(task)
	if err != nil {
		return err
	}
	model.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", task.ID).Updates(map[string]any{
		"state":                   model.State,
		"request_hashes":          model.RequestHashes,
		"validation_requested_at": model.ValidationRequestedAt,
		"decision_pass":           model.DecisionPass,
		"decision_score":          model.DecisionScore,
		"feedback_index":          model.FeedbackIndex,
		"failure_code":            model.FailureCode,
		"updated_at":              model.UpdatedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TaskModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return taskFromModel(model)
}

// ListOpen returns every task not yet in a terminal state, oldest first,
// for resumption after a restart.
func (r *TaskRepository) ListOpen(ctx context.Context) ([]domain.Task, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TaskModel
	err := r.db.WithContext(ctx).
		Where("state NOT IN ?", []string{string(domain.TaskClosed), string(domain.TaskFailed)}).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(models))
	for _, model := range models {
		task, err := taskFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, nil
}

func (r *TaskRepository) List(ctx context.Context) ([]domain.Task, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TaskModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(models))
	for _, model := range models {
		task, err := taskFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, nil
}

func taskModelFromDomain(task domain.Task) (TaskModel, error) {
	var hashes []byte
	if len(task.RequestHashes) > 0 {
		encoded, err := json.Marshal(task.RequestHashes)
		if err != nil {
			return TaskModel{}, err
		}
		hashes = encoded
	}
	var index *int64
	if task.FeedbackIndex != nil {
		value := int64(*task.FeedbackIndex)
		index = &value
	}
	return TaskModel{
		ID:                    task.ID,
		AgentID:               uint64(task.AgentID),
		Client:                string(task.Client),
		ArtifactURI:           task.ArtifactURI,
		ArtifactHash:          task.ArtifactHash,
		State:                 string(task.State),
		RequestHashes:         hashes,
		ValidationRequestedAt: task.ValidationRequestedAt,
		DecisionPass:          task.DecisionPass,
		DecisionScore:         task.DecisionScore,
		FeedbackIndex:         index,
		FailureCode:           task.FailureCode,
		CreatedAt:             task.CreatedAt,
		UpdatedAt:             task.UpdatedAt,
	}, nil
}

func taskFromModel(model TaskModel) (*domain.Task, error) {
	var hashes []string
	if len(model.RequestHashes) > 0 {
		if err := json.Unmarshal(model.RequestHashes, &hashes); err != nil {
			return nil, err
		}
	}
	var index *uint64
	if model.FeedbackIndex != nil {
		value := uint64(*model.FeedbackIndex)
		index = &value
	}
	return &domain.Task{
		ID:                    model.ID,
		AgentID:               domain.AgentID(model.AgentID),
		Client:                domain.Address(model.Client),
		ArtifactURI:           model.ArtifactURI,
		ArtifactHash:          model.ArtifactHash,
		State:                 domain.TaskState(model.State),
		RequestHashes:         hashes,
		ValidationRequestedAt: model.ValidationRequestedAt,
		DecisionPass:          model.DecisionPass,
		DecisionScore:         model.DecisionScore,
		FeedbackIndex:         index,
		FailureCode:           model.FailureCode,
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}, nil
}
