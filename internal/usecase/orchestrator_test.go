package usecase

import (
	"context"
	"testing"
	"time"

	"agentsync/internal/domain"
	"agentsync/internal/infra/chainmem"
	"agentsync/internal/infra/evidence"
	"agentsync/internal/infra/projmem"
)

type orchFixture struct {
	chain *chainmem.Chain
	store *projmem.Store
	tasks *memTaskRepo
	audit *memAuditRepo
	orch  *Orchestrator

	agentID   domain.AgentID
	client    domain.Address
	validator domain.Address
}

func newOrchFixture(t *testing.T, policy domain.AggregationPolicy, credLimit uint64) (*orchFixture, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	chain := chainmem.New()
	chain.SetCaller("0xowner")
	agentID, _, err := chain.Register(context.Background(), "ipfs://agent-card", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	store := projmem.New()
	ix := newTestIndexer(chain, store, 0)
	go ix.Run(ctx)

	client := domain.Address("0xclient")
	validator := domain.Address("0xvalidator")
	auditRepo := &memAuditRepo{}
	auditor := NewWriteAuditor(auditRepo)
	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	fileStore, err := evidence.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}

	reputation := NewReputationService(chain, store, staticCred(agentID, client, credLimit, time.Now().Add(time.Hour)), DefaultStaticRubric(), auditor, retry, ix.WaitSynced)
	tasks := newMemTaskRepo()
	orch := NewOrchestrator(chain, store, tasks, reputation, fileStore, auditor, OrchestratorConfig{
		Validators:   []domain.Address{validator},
		Policy:       policy,
		PollInterval: 5 * time.Millisecond,
		Retry:        retry,
	})

	return &orchFixture{
		chain:     chain,
		store:     store,
		tasks:     tasks,
		audit:     auditRepo,
		orch:      orch,
		agentID:   agentID,
		client:    client,
		validator: validator,
	}, cancel
}

// respondWhenRequested plays the validator: it waits for the validation
// request to reach the read model, then responds on chain and hands the
// caller identity to the client for the feedback write that follows.
func (f *orchFixture) respondWhenRequested(t *testing.T, contentHash string, score uint8, tag string) {
	t.Helper()
	requestHash := domain.ComputeRequestHash(f.validator, f.agentID, contentHash)
	f.chain.SetCaller(f.validator)
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := f.store.GetRequest(context.Background(), requestHash); err == nil {
				if _, err := f.chain.ValidationResponse(context.Background(), requestHash, score, "evidence:sha256/resp", "", tag); err != nil {
					t.Errorf("validation response: %v", err)
				}
				f.chain.SetCaller(f.client)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		t.Error("validation request never reached the read model")
	}()
}

func TestOrchestratorHappyPath(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: 5 * time.Second}
	f, cancel := newOrchFixture(t, policy, 1)
	defer cancel()

	// A transient fault on the first request write must be retried away.
	f.chain.FailNext("validationRequest", &domain.TransientError{Op: "validationRequest", Err: context.DeadlineExceeded})

	task, err := f.orch.CreateTask(context.Background(), f.agentID, f.client, "evidence:sha256/artifact", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	f.respondWhenRequested(t, "0xartifact", 85, "ci-passed")

	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}

	final, err := f.tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if final.State != domain.TaskClosed {
		t.Fatalf("want closed, got %s (%s)", final.State, final.FailureCode)
	}
	if final.DecisionPass == nil || !*final.DecisionPass || *final.DecisionScore != 85 {
		t.Fatalf("decision mismatch: %+v", final)
	}
	if final.FeedbackIndex == nil || *final.FeedbackIndex != 0 {
		t.Fatalf("first feedback for the pair must take index 0: %+v", final.FeedbackIndex)
	}

	// The feedback event eventually lands in the read model with the
	// rubric score for a clean pass.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := f.store.Get(context.Background(), f.agentID, f.client, 0)
		if err == nil {
			if rec.Score != 95 || rec.Tag1 != "pass" {
				t.Fatalf("unexpected feedback record: %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("feedback never reached the read model")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if got := len(f.audit.byStatus(domain.WriteConfirmed)); got != 2 {
		t.Fatalf("want confirmed audit entries for request and feedback, got %d", got)
	}

	// Re-running a finished task is a no-op.
	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("re-run: %v", err)
	}
}

func TestOrchestratorForcedFailureAtTimeout(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: 50 * time.Millisecond}
	f, cancel := newOrchFixture(t, policy, 1)
	defer cancel()

	f.chain.SetCaller(f.client)
	task, err := f.orch.CreateTask(context.Background(), f.agentID, f.client, "uri", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	// No validator ever responds.
	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}

	final, _ := f.tasks.Get(context.Background(), task.ID)
	if final.State != domain.TaskClosed {
		t.Fatalf("timed-out task still settles and closes, got %s (%s)", final.State, final.FailureCode)
	}
	if final.DecisionPass == nil || *final.DecisionPass || *final.DecisionScore != 0 {
		t.Fatalf("zero responses must decide fail with score 0: %+v", final)
	}
	if final.FeedbackIndex == nil {
		t.Fatal("failing feedback must still be submitted")
	}
}

func TestOrchestratorFailsOnRejectedRequest(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: time.Second}
	f, cancel := newOrchFixture(t, policy, 1)
	defer cancel()

	task, err := f.orch.CreateTask(context.Background(), 42, f.client, "uri", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}

	final, _ := f.tasks.Get(context.Background(), task.ID)
	if final.State != domain.TaskFailed || final.FailureCode != "unknown_agent" {
		t.Fatalf("want failed/unknown_agent, got %s (%s)", final.State, final.FailureCode)
	}
	if got := len(f.audit.byStatus(domain.WriteRejected)); got != 1 {
		t.Fatalf("rejection must be audited, got %d", got)
	}
}

// unreachableChain simulates a chain endpoint that never recovers: every
// validation request write fails transiently.
type unreachableChain struct {
	*chainmem.Chain
}

func (c *unreachableChain) ValidationRequest(ctx context.Context, validator domain.Address, agentID domain.AgentID, requestURI, contentHash string) (domain.WriteReceipt, error) {
	return domain.WriteReceipt{}, &domain.TransientError{Op: "validationRequest", Err: context.DeadlineExceeded}
}

func TestOrchestratorFailsWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	chain := chainmem.New()
	chain.SetCaller("0xowner")
	agentID, _, err := chain.Register(ctx, "uri", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	store := projmem.New()
	auditRepo := &memAuditRepo{}
	auditor := NewWriteAuditor(auditRepo)
	retry := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	reputation := NewReputationService(chain, store, staticCred(agentID, "0xclient", 1, time.Now().Add(time.Hour)), DefaultStaticRubric(), auditor, retry, nil)
	fileStore, err := evidence.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	tasks := newMemTaskRepo()
	orch := NewOrchestrator(&unreachableChain{chain}, store, tasks, reputation, fileStore, auditor, OrchestratorConfig{
		Validators:   []domain.Address{"0xvalidator"},
		Policy:       domain.AggregationPolicy{Threshold: 80, Timeout: time.Second},
		PollInterval: time.Millisecond,
		Retry:        retry,
	})

	task, err := orch.CreateTask(ctx, agentID, "0xclient", "uri", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := orch.RunTask(ctx, task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}

	final, _ := tasks.Get(ctx, task.ID)
	if final.State != domain.TaskFailed || final.FailureCode != "transient_exhausted" {
		t.Fatalf("exhausted retries must fail the task, got %s (%s)", final.State, final.FailureCode)
	}
	if !final.State.Terminal() {
		t.Fatalf("task left in non-terminal state %s", final.State)
	}
	rejected := auditRepo.byStatus(domain.WriteRejected)
	if len(rejected) != 1 || rejected[0].ErrorCode != "transient_exhausted" {
		t.Fatalf("exhaustion must be audited, got %+v", rejected)
	}
}

func TestOrchestratorTimeoutStartsAtValidationRequest(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: 2 * time.Second}
	f, cancel := newOrchFixture(t, policy, 1)
	defer cancel()

	// A task created long ago, driven only now: the aggregation window
	// opens when the requests go out, not at creation time.
	created := time.Now().Add(-time.Hour).UTC()
	task := domain.Task{
		ID:           "task-old",
		AgentID:      f.agentID,
		Client:       f.client,
		ArtifactURI:  "uri",
		ArtifactHash: "0xartifact",
		State:        domain.TaskCreated,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	f.respondWhenRequested(t, "0xartifact", 90, "ci-passed")

	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}
	final, _ := f.tasks.Get(context.Background(), task.ID)
	if final.State != domain.TaskClosed {
		t.Fatalf("want closed, got %s (%s)", final.State, final.FailureCode)
	}
	if final.DecisionPass == nil || !*final.DecisionPass || *final.DecisionScore != 90 {
		t.Fatalf("stale creation time must not force the decision: %+v", final)
	}
	if final.ValidationRequestedAt == nil || final.ValidationRequestedAt.Before(created.Add(time.Minute)) {
		t.Fatalf("validation_requested_at must reflect the actual request time: %v", final.ValidationRequestedAt)
	}
}

func TestOrchestratorFailsOnStaleAuthorization(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: 50 * time.Millisecond}
	// Credential limit 0 can never cover the first feedback index.
	f, cancel := newOrchFixture(t, policy, 0)
	defer cancel()

	f.chain.SetCaller(f.client)
	task, err := f.orch.CreateTask(context.Background(), f.agentID, f.client, "uri", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := f.orch.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("run task: %v", err)
	}

	final, _ := f.tasks.Get(context.Background(), task.ID)
	if final.State != domain.TaskFailed || final.FailureCode != "stale_authorization" {
		t.Fatalf("want failed/stale_authorization, got %s (%s)", final.State, final.FailureCode)
	}
	if final.DecisionPass == nil {
		t.Fatal("the decision must be recorded even when feedback fails")
	}
}

func TestOrchestratorResumeOpen(t *testing.T) {
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: 5 * time.Second}
	f, cancel := newOrchFixture(t, policy, 1)
	defer cancel()

	task, err := f.orch.CreateTask(context.Background(), f.agentID, f.client, "uri", "0xartifact")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	f.respondWhenRequested(t, "0xartifact", 90, "ci-passed")

	if err := f.orch.ResumeOpen(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	final, _ := f.tasks.Get(context.Background(), task.ID)
	if final.State != domain.TaskClosed {
		t.Fatalf("resumed task must run to completion, got %s (%s)", final.State, final.FailureCode)
	}
}
