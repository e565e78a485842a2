package usecase

import (
	"context"
	"sync"

	"agentsync/internal/domain"
)

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]domain.Task)}
}

func (r *memTaskRepo) Create(ctx context.Context, task domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	return nil
}

func (r *memTaskRepo) Update(ctx context.Context, task domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return domain.ErrNotFound
	}
	r.tasks[task.ID] = task
	return nil
}

func (r *memTaskRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &task, nil
}

func (r *memTaskRepo) ListOpen(ctx context.Context) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, task := range r.tasks {
		if !task.State.Terminal() {
			out = append(out, task)
		}
	}
	return out, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.WriteAudit
}

func (r *memAuditRepo) Append(ctx context.Context, entry domain.WriteAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) ListByTask(ctx context.Context, taskID string) ([]domain.WriteAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WriteAudit
	for _, entry := range r.entries {
		if entry.TaskID == taskID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memAuditRepo) byStatus(status domain.WriteStatus) []domain.WriteAudit {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WriteAudit
	for _, entry := range r.entries {
		if entry.Status == status {
			out = append(out, entry)
		}
	}
	return out
}
