// Package http serves the read-only query API over the projection plus the
// task endpoints. It never reads the chain directly: everything it returns
// is as-of the indexer checkpoint.
package http

import (
	"context"
	"net/http"

	"agentsync/internal/config"
	"agentsync/internal/domain"
	"agentsync/internal/infra/db"
	"agentsync/internal/usecase"

	"github.com/gin-gonic/gin"
)

type CheckpointSource interface {
	Checkpoint(ctx context.Context) (*domain.Checkpoint, error)
}

type TaskStore interface {
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
}

type QuarantineStore interface {
	List(ctx context.Context, limit int) ([]domain.QuarantineRecord, error)
}

type AuditTrail interface {
	ListByTask(ctx context.Context, taskID string) ([]domain.WriteAudit, error)
}

type Server struct {
	cfg config.Config
	r   *gin.Engine

	agents      usecase.AgentReader
	validations usecase.ValidationReader
	feedback    usecase.FeedbackReader
	checkpoint  CheckpointSource
	quarantine  QuarantineStore
	taskStore   TaskStore
	auditTrail  AuditTrail
	orch        *usecase.Orchestrator
	limiter     domain.RateLimiter
}

func NewServer(cfg config.Config, store *db.Store, orch *usecase.Orchestrator, limiter domain.RateLimiter) *Server {
	deps := ServerDeps{Orchestrator: orch, Limiter: limiter}
	if store != nil && store.DB != nil {
		deps.Agents = db.NewAgentRepository(store.DB)
		deps.Validations = db.NewValidationRepository(store.DB)
		deps.Feedback = db.NewFeedbackRepository(store.DB)
		deps.Checkpoint = db.NewProjection(store.DB)
		deps.Quarantine = db.NewQuarantineRepository(store.DB)
		deps.Tasks = db.NewTaskRepository(store.DB)
		deps.Audit = db.NewWriteAuditRepository(store.DB)
	}
	return NewServerWithDeps(cfg, deps)
}

type ServerDeps struct {
	Agents       usecase.AgentReader
	Validations  usecase.ValidationReader
	Feedback     usecase.FeedbackReader
	Checkpoint   CheckpointSource
	Quarantine   QuarantineStore
	Tasks        TaskStore
	Audit        AuditTrail
	Orchestrator *usecase.Orchestrator
	Limiter      domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		agents:      deps.Agents,
		validations: deps.Validations,
		feedback:    deps.Feedback,
		checkpoint:  deps.Checkpoint,
		quarantine:  deps.Quarantine,
		taskStore:   deps.Tasks,
		auditTrail:  deps.Audit,
		orch:        deps.Orchestrator,
		limiter:     deps.Limiter,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.GET("/agents/:agent_id", s.handleGetAgent)
		v1.GET("/agents/:agent_id/metadata/:key", s.handleGetMetadata)
		v1.GET("/agents/:agent_id/feedback", s.handleListFeedback)
		v1.GET("/agents/:agent_id/summary", s.handleFeedbackSummary)
		v1.GET("/validations/:request_hash", s.handleGetValidation)
		v1.GET("/quarantine", s.handleListQuarantine)

		v1.POST("/tasks", s.rateLimit("tasks:create"), s.handleCreateTask)
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:task_id", s.handleGetTask)
		v1.GET("/tasks/:task_id/audit", s.handleTaskAudit)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
