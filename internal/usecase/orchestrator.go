package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agentsync/internal/domain"

	"github.com/google/uuid"
)

// OrchestratorConfig tunes the task driver. Validators is the panel asked
// to validate every artifact unless the policy names its own required set.
type OrchestratorConfig struct {
	Validators   []domain.Address
	Policy       domain.AggregationPolicy
	PollInterval time.Duration
	Retry        RetryPolicy
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Orchestrator drives tasks through the lifecycle: request validations,
// collect responses, settle a decision, submit feedback, close. Every
// transition is persisted before the next step runs, so a restart resumes
// exactly where the task stopped.
type Orchestrator struct {
	chain       ChainWriter
	validations ValidationReader
	tasks       TaskRepository
	reputation  *ReputationService
	evidence    EvidenceStore
	audit       *WriteAuditor
	cfg         OrchestratorConfig
	now         func() time.Time
}

func NewOrchestrator(chain ChainWriter, validations ValidationReader, tasks TaskRepository, reputation *ReputationService, store EvidenceStore, audit *WriteAuditor, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		chain:       chain,
		validations: validations,
		tasks:       tasks,
		reputation:  reputation,
		evidence:    store,
		audit:       audit,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
	}
}

// CreateTask persists a new task in the created state. It does not touch
// the chain; RunTask does.
func (o *Orchestrator) CreateTask(ctx context.Context, agentID domain.AgentID, client domain.Address, artifactURI, artifactHash string) (*domain.Task, error) {
	if artifactHash == "" {
		return nil, fmt.Errorf("artifact hash is required")
	}
	now := o.now().UTC()
	task := domain.Task{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Client:       client,
		ArtifactURI:  artifactURI,
		ArtifactHash: artifactHash,
		State:        domain.TaskCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RunTask drives one task until it reaches a terminal state or the context
// is cancelled. Safe to call again for a task that already finished.
func (o *Orchestrator) RunTask(ctx context.Context, id string) error {
	task, err := o.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	for !task.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch task.State {
		case domain.TaskCreated:
			err = o.requestValidations(ctx, task)
		case domain.TaskValidationRequested:
			err = o.transition(ctx, task, domain.TaskValidationCollecting)
		case domain.TaskValidationCollecting:
			err = o.collect(ctx, task)
		case domain.TaskValidationDecided:
			err = o.submitFeedback(ctx, task)
		case domain.TaskFeedbackSubmitted:
			err = o.transition(ctx, task, domain.TaskClosed)
		default:
			return fmt.Errorf("task %s in unknown state %s", task.ID, task.State)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ResumeOpen re-drives every non-terminal task, concurrently. Used at
// startup: the durable task state is the only resume point.
func (o *Orchestrator) ResumeOpen(ctx context.Context) error {
	open, err := o.tasks.ListOpen(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, task := range open {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := o.RunTask(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("orchestrator: resume task %s: %v", id, err)
			}
		}(task.ID)
	}
	wg.Wait()
	return nil
}

func (o *Orchestrator) panel() []domain.Address {
	if len(o.cfg.Policy.Required) > 0 {
		return o.cfg.Policy.Required
	}
	return o.cfg.Validators
}

// requestValidations sends one validation request per panel validator.
// Requests are keyed by the deterministic request hash, so a request the
// read model already knows is never submitted twice.
func (o *Orchestrator) requestValidations(ctx context.Context, task *domain.Task) error {
	panel := o.panel()
	if len(panel) == 0 {
		return o.fail(ctx, task, "no_validators")
	}
	hashes := make([]string, 0, len(panel))
	for _, validator := range panel {
		requestHash := domain.ComputeRequestHash(validator, task.AgentID, task.ArtifactHash)
		hashes = append(hashes, requestHash)

		existing, err := o.validations.GetRequest(ctx, requestHash)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			continue
		}

		o.audit.Attempt(ctx, task.ID, "validation_request", requestHash, map[string]any{
			"validator":    validator,
			"agent_id":     task.AgentID,
			"content_hash": task.ArtifactHash,
		})
		var receipt domain.WriteReceipt
		err = o.cfg.Retry.retry(ctx, func() error {
			var werr error
			receipt, werr = o.chain.ValidationRequest(ctx, validator, task.AgentID, task.ArtifactURI, task.ArtifactHash)
			return werr
		})
		if err != nil {
			var rej *domain.RejectedWriteError
			if errors.As(err, &rej) {
				o.audit.Reject(ctx, task.ID, "validation_request", requestHash, rej.Code)
				return o.fail(ctx, task, rej.Code)
			}
			if domain.IsTransient(err) {
				// Retry budget spent: the task must still land in a
				// terminal state, not sit in created forever.
				o.audit.Reject(ctx, task.ID, "validation_request", requestHash, "transient_exhausted")
				return o.fail(ctx, task, "transient_exhausted")
			}
			return err
		}
		o.audit.Confirm(ctx, task.ID, "validation_request", requestHash, receipt)
	}
	task.RequestHashes = hashes
	requestedAt := o.now().UTC()
	task.ValidationRequestedAt = &requestedAt
	return o.transition(ctx, task, domain.TaskValidationRequested)
}

// collect polls the read model until the aggregation policy settles. The
// decision is recorded once and never rewritten.
func (o *Orchestrator) collect(ctx context.Context, task *domain.Task) error {
	panel := o.panel()
	byHash := make(map[string]domain.Address, len(panel))
	for _, validator := range panel {
		byHash[domain.ComputeRequestHash(validator, task.AgentID, task.ArtifactHash)] = validator
	}
	for {
		responses, err := o.validations.ListResponses(ctx, task.RequestHashes)
		if err != nil {
			return err
		}
		byValidator := make(map[domain.Address]domain.ValidationResponse, len(responses))
		for hash, resp := range responses {
			if validator, ok := byHash[hash]; ok {
				byValidator[validator] = resp
			}
		}
		// The timeout clock starts when the requests went out; tasks
		// resumed long after creation are not settled prematurely.
		startedAt := task.CreatedAt
		if task.ValidationRequestedAt != nil {
			startedAt = *task.ValidationRequestedAt
		}
		decision, ready := Aggregate(o.cfg.Policy, panel, byValidator, startedAt, o.now())
		if ready {
			if decision.Forced {
				log.Printf("orchestrator: task %s settled at timeout with %d/%d responses", task.ID, decision.Responses, decision.Expected)
			}
			task.DecisionPass = &decision.Pass
			task.DecisionScore = &decision.Score
			return o.transition(ctx, task, domain.TaskValidationDecided)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// submitFeedback turns the recorded decision into on-chain feedback. The
// feedback report blob goes to the evidence store first so the on-chain
// entry carries a resolvable, content-addressed file.
func (o *Orchestrator) submitFeedback(ctx context.Context, task *domain.Task) error {
	if task.DecisionPass == nil || task.DecisionScore == nil {
		return fmt.Errorf("task %s has no recorded decision", task.ID)
	}
	outcome := domain.TaskOutcome{
		Pass:        *task.DecisionPass,
		MeanScore:   *task.DecisionScore,
		TestsPassed: *task.DecisionPass,
	}
	if !outcome.Pass {
		outcome.RejectionCause = "validation_failed"
	}

	report, err := json.Marshal(map[string]any{
		"task_id":       task.ID,
		"agent_id":      task.AgentID,
		"artifact_hash": task.ArtifactHash,
		"pass":          outcome.Pass,
		"mean_score":    outcome.MeanScore,
	})
	if err != nil {
		return err
	}
	fileURI, fileHash, err := o.evidence.Store(ctx, report)
	if err != nil {
		return fmt.Errorf("store feedback report: %w", err)
	}

	index, _, err := o.reputation.SubmitFeedback(ctx, task, outcome, fileURI, fileHash)
	if err != nil {
		if errors.Is(err, domain.ErrStaleAuthorization) {
			return o.fail(ctx, task, "stale_authorization")
		}
		var rej *domain.RejectedWriteError
		if errors.As(err, &rej) {
			return o.fail(ctx, task, rej.Code)
		}
		if domain.IsTransient(err) {
			return o.fail(ctx, task, "transient_exhausted")
		}
		return err
	}
	task.FeedbackIndex = &index
	return o.transition(ctx, task, domain.TaskFeedbackSubmitted)
}

func (o *Orchestrator) transition(ctx context.Context, task *domain.Task, next domain.TaskState) error {
	task.State = next
	task.UpdatedAt = o.now().UTC()
	return o.tasks.Update(ctx, *task)
}

func (o *Orchestrator) fail(ctx context.Context, task *domain.Task, code string) error {
	log.Printf("orchestrator: task %s failed: %s", task.ID, code)
	task.FailureCode = code
	return o.transition(ctx, task, domain.TaskFailed)
}
