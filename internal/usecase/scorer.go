package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agentsync/internal/domain"
)

// StaticRubric is the compiled-in scoring table. It produces the same
// numbers as the default rego rubric; deployments that want a different
// table without recompiling swap in the policy engine instead.
type StaticRubric struct {
	PassBase      int
	FailBase      int
	HardFailBase  int
	CleanBonus    int
	NoisyPenalty  int
	NoisyAbove    int
	ChangePenalty int
}

func DefaultStaticRubric() StaticRubric {
	return StaticRubric{
		PassBase:      85,
		FailBase:      30,
		HardFailBase:  20,
		CleanBonus:    10,
		NoisyPenalty:  -10,
		NoisyAbove:    5,
		ChangePenalty: -15,
	}
}

func (r StaticRubric) Score(_ context.Context, outcome domain.TaskOutcome) (uint8, error) {
	score := r.HardFailBase
	switch {
	case outcome.Pass:
		score = r.PassBase
	case outcome.TestsPassed:
		score = r.FailBase
	}
	if outcome.Pass && outcome.ReviewComments == 0 {
		score += r.CleanBonus
	}
	if outcome.ReviewComments > r.NoisyAbove {
		score += r.NoisyPenalty
	}
	if outcome.ChangesRequested {
		score += r.ChangePenalty
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return uint8(score), nil
}

// SyncBarrier blocks until the read model has caught up with the confirmed
// chain head. The indexer's WaitSynced satisfies it.
type SyncBarrier func(ctx context.Context) error

// ReputationService turns settled task outcomes into on-chain feedback.
// Submissions for the same (agent, client) pair are serialized so the next
// feedback index observed from the read model is still free when the write
// lands.
type ReputationService struct {
	chain    ChainWriter
	feedback FeedbackReader
	creds    CredentialSource
	rubric   RubricEngine
	audit    *WriteAuditor
	retry    RetryPolicy
	barrier  SyncBarrier
	now      func() time.Time

	mu    sync.Mutex
	pairs map[string]*sync.Mutex
}

func NewReputationService(chain ChainWriter, feedback FeedbackReader, creds CredentialSource, rubric RubricEngine, audit *WriteAuditor, retry RetryPolicy, barrier SyncBarrier) *ReputationService {
	return &ReputationService{
		chain:    chain,
		feedback: feedback,
		creds:    creds,
		rubric:   rubric,
		audit:    audit,
		retry:    retry,
		barrier:  barrier,
		now:      time.Now,
		pairs:    make(map[string]*sync.Mutex),
	}
}

// SubmitFeedback scores the outcome and posts it as feedback for the task's
// (agent, client) pair. A task that already carries a feedback index backed
// by a read-model row is not submitted again.
func (s *ReputationService) SubmitFeedback(ctx context.Context, task *domain.Task, outcome domain.TaskOutcome, fileURI, fileHash string) (uint64, uint8, error) {
	score, err := s.rubric.Score(ctx, outcome)
	if err != nil {
		return 0, 0, fmt.Errorf("score outcome: %w", err)
	}

	lock := s.pairLock(task.AgentID, task.Client)
	lock.Lock()
	defer lock.Unlock()

	if task.FeedbackIndex != nil {
		rec, err := s.feedback.Get(ctx, task.AgentID, task.Client, *task.FeedbackIndex)
		if err == nil && rec != nil {
			return rec.Index, rec.Score, nil
		}
	}

	// A crash after the chain write but before the task row was updated
	// leaves no feedback index behind. The audit trail remembers the
	// attempt; when one exists, catch the read model up with the chain and
	// look for the task's report before writing again.
	if rec, err := s.reconcile(ctx, task, fileURI); err != nil {
		return 0, 0, err
	} else if rec != nil {
		return rec.Index, rec.Score, nil
	}

	nextIndex, err := s.feedback.NextIndex(ctx, task.AgentID, task.Client)
	if err != nil {
		return 0, 0, fmt.Errorf("next feedback index: %w", err)
	}
	cred, err := s.creds.Credential(ctx, task.AgentID, task.Client)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch credential: %w", err)
	}
	if !cred.Covers(nextIndex, s.now()) {
		return 0, 0, domain.ErrStaleAuthorization
	}

	tag1 := "pass"
	if !outcome.Pass {
		tag1 = "fail"
	}
	target := fmt.Sprintf("%d/%s/%d", task.AgentID, task.Client, nextIndex)
	s.audit.Attempt(ctx, task.ID, "give_feedback", target, outcome)

	var receipt domain.WriteReceipt
	err = s.retry.retry(ctx, func() error {
		var werr error
		receipt, werr = s.chain.GiveFeedback(ctx, task.AgentID, score, tag1, outcome.RejectionCause, fileURI, fileHash, cred)
		return werr
	})
	if err != nil {
		code := "transient_exhausted"
		var rej *domain.RejectedWriteError
		if errors.As(err, &rej) {
			code = rej.Code
		}
		s.audit.Reject(ctx, task.ID, "give_feedback", target, code)
		return 0, 0, err
	}
	s.audit.Confirm(ctx, task.ID, "give_feedback", target, receipt)
	// The chain assigns the index; confirm it from the read model rather
	// than trusting the pre-write guess.
	if rec, rerr := s.findSubmitted(ctx, task, fileURI); rerr == nil && rec != nil {
		return rec.Index, rec.Score, nil
	}
	return nextIndex, score, nil
}

// reconcile reports the already-landed feedback record for a task, or nil
// when no earlier attempt exists. The report uri is derived from the task id,
// so a (client, uri) match identifies the task's own entry.
func (s *ReputationService) reconcile(ctx context.Context, task *domain.Task, fileURI string) (*domain.FeedbackRecord, error) {
	history, err := s.audit.History(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	attempted := false
	for _, entry := range history {
		if entry.Op == "give_feedback" {
			attempted = true
			break
		}
	}
	if !attempted {
		return nil, nil
	}
	return s.findSubmitted(ctx, task, fileURI)
}

func (s *ReputationService) findSubmitted(ctx context.Context, task *domain.Task, fileURI string) (*domain.FeedbackRecord, error) {
	if s.barrier != nil {
		if err := s.barrier(ctx); err != nil {
			return nil, fmt.Errorf("sync read model: %w", err)
		}
	}
	records, err := s.feedback.ListByAgent(ctx, task.AgentID, true)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	for i := range records {
		if records[i].Client == task.Client && records[i].FileURI == fileURI {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (s *ReputationService) pairLock(agentID domain.AgentID, client domain.Address) *sync.Mutex {
	key := fmt.Sprintf("%d/%s", agentID, client)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.pairs[key]
	if !ok {
		lock = &sync.Mutex{}
		s.pairs[key] = lock
	}
	return lock
}
