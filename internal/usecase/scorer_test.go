package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentsync/internal/domain"
	"agentsync/internal/infra/chainmem"
	"agentsync/internal/infra/projmem"
)

func TestStaticRubricScores(t *testing.T) {
	rubric := DefaultStaticRubric()
	cases := []struct {
		name    string
		outcome domain.TaskOutcome
		want    uint8
	}{
		{"clean merge", domain.TaskOutcome{Pass: true, ReviewComments: 0}, 95},
		{"merge with comments", domain.TaskOutcome{Pass: true, ReviewComments: 3}, 85},
		{"noisy merge", domain.TaskOutcome{Pass: true, ReviewComments: 7}, 75},
		{"rejected tests green", domain.TaskOutcome{Pass: false, TestsPassed: true}, 30},
		{"rejected tests red", domain.TaskOutcome{Pass: false, TestsPassed: false}, 20},
		{"merge after changes requested", domain.TaskOutcome{Pass: true, ChangesRequested: true}, 80},
	}
	for _, tc := range cases {
		got, err := rubric.Score(context.Background(), tc.outcome)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: want %d, got %d", tc.name, tc.want, got)
		}
	}
}

func staticCred(agentID domain.AgentID, client domain.Address, limit uint64, expires time.Time) CredentialSource {
	return CredentialFunc(func(ctx context.Context, a domain.AgentID, c domain.Address) (domain.AuthCredential, error) {
		return domain.AuthCredential{
			AgentID:    agentID,
			Client:     client,
			IndexLimit: limit,
			ExpiresAt:  expires,
			Ref:        "cred-test",
		}, nil
	})
}

func newFeedbackFixture(t *testing.T) (*chainmem.Chain, *projmem.Store, domain.AgentID, domain.Address) {
	t.Helper()
	ctx := context.Background()
	chain := chainmem.New()
	chain.SetCaller("0xowner")
	id, _, err := chain.Register(ctx, "uri", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	client := domain.Address("0xclient")
	chain.SetCaller(client)
	return chain, projmem.New(), id, client
}

func TestReputationSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)
	auditRepo := &memAuditRepo{}
	svc := NewReputationService(chain, store, staticCred(agentID, client, 1, time.Now().Add(time.Hour)), DefaultStaticRubric(), NewWriteAuditor(auditRepo), RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)

	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	index, score, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, "evidence:sha256/aa", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if index != 0 || score != 95 {
		t.Fatalf("want index 0 score 95, got %d %d", index, score)
	}
	if got := len(auditRepo.byStatus(domain.WriteConfirmed)); got != 1 {
		t.Fatalf("want 1 confirmed audit entry, got %d", got)
	}
}

func TestReputationStaleWhenLimitEqualsNextIndex(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)
	// Next index for a fresh pair is 0; a credential with limit 0 is
	// already exhausted.
	svc := NewReputationService(chain, store, staticCred(agentID, client, 0, time.Now().Add(time.Hour)), DefaultStaticRubric(), nil, RetryPolicy{MaxAttempts: 1}, nil)

	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	_, _, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, "", "")
	if !errors.Is(err, domain.ErrStaleAuthorization) {
		t.Fatalf("want ErrStaleAuthorization, got %v", err)
	}
}

func TestReputationStaleWhenExpired(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)
	svc := NewReputationService(chain, store, staticCred(agentID, client, 5, time.Now().Add(-time.Minute)), DefaultStaticRubric(), nil, RetryPolicy{MaxAttempts: 1}, nil)

	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	_, _, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, "", "")
	if !errors.Is(err, domain.ErrStaleAuthorization) {
		t.Fatalf("want ErrStaleAuthorization, got %v", err)
	}
}

func TestReputationSkipsAlreadySubmitted(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)

	// Seed the read model with the feedback row the task already points at.
	header := domain.BlockRef{Number: 5, Hash: "0xb5", ParentHash: "0xb4", Time: time.Now()}
	err := store.ApplyBlock(ctx, header, []domain.Event{{
		Kind:    domain.EventNewFeedback,
		Block:   header,
		TxIndex: 0,
		NewFeedback: &domain.NewFeedbackPayload{
			AgentID:       agentID,
			Client:        client,
			FeedbackIndex: 0,
			Score:         95,
		},
	}})
	if err != nil {
		t.Fatalf("seed projection: %v", err)
	}

	chain.FailNext("giveFeedback", &domain.RejectedWriteError{Op: "giveFeedback", Code: "must_not_be_called"})
	svc := NewReputationService(chain, store, staticCred(agentID, client, 1, time.Now().Add(time.Hour)), DefaultStaticRubric(), nil, RetryPolicy{MaxAttempts: 1}, nil)

	existing := uint64(0)
	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client, FeedbackIndex: &existing}
	index, score, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, "", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if index != 0 || score != 95 {
		t.Fatalf("want the recorded feedback back, got %d %d", index, score)
	}
}

func TestReputationDoesNotDoubleSubmitAfterCrash(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)
	ix := newTestIndexer(chain, store, 0)
	auditRepo := &memAuditRepo{}
	svc := NewReputationService(chain, store, staticCred(agentID, client, 5, time.Now().Add(time.Hour)), DefaultStaticRubric(), NewWriteAuditor(auditRepo), RetryPolicy{MaxAttempts: 1}, ix.SyncOnce)

	fileURI := "evidence:sha256/report"
	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	index, score, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, fileURI, "")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// A crash between the chain write and the task update loses the
	// feedback index, and the projection lags the chain. Re-driving the
	// task must find the landed entry instead of posting a second one.
	resumed := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	again, againScore, err := svc.SubmitFeedback(ctx, resumed, domain.TaskOutcome{Pass: true}, fileURI, "")
	if err != nil {
		t.Fatalf("retried submit: %v", err)
	}
	if again != index || againScore != score {
		t.Fatalf("retry must return the original entry, got %d/%d vs %d/%d", again, againScore, index, score)
	}

	head, err := chain.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	raws, err := chain.Events(ctx, 0, head.Number)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	feedbackEvents := 0
	for _, raw := range raws {
		if raw.Kind == domain.EventNewFeedback {
			feedbackEvents++
		}
	}
	if feedbackEvents != 1 {
		t.Fatalf("the chain must carry exactly one feedback entry for the task, got %d", feedbackEvents)
	}
}

func TestReputationRejectionIsAudited(t *testing.T) {
	ctx := context.Background()
	chain, store, agentID, client := newFeedbackFixture(t)
	auditRepo := &memAuditRepo{}
	// Credential bound to the wrong client is rejected on chain.
	svc := NewReputationService(chain, store, staticCred(agentID, "0xsomeone-else", 1, time.Now().Add(time.Hour)), DefaultStaticRubric(), NewWriteAuditor(auditRepo), RetryPolicy{MaxAttempts: 1}, nil)

	task := &domain.Task{ID: "task-1", AgentID: agentID, Client: client}
	_, _, err := svc.SubmitFeedback(ctx, task, domain.TaskOutcome{Pass: true}, "", "")
	var rej *domain.RejectedWriteError
	if !errors.As(err, &rej) || rej.Code != "auth_mismatch" {
		t.Fatalf("want auth_mismatch rejection, got %v", err)
	}
	rejected := auditRepo.byStatus(domain.WriteRejected)
	if len(rejected) != 1 || rejected[0].ErrorCode != "auth_mismatch" {
		t.Fatalf("rejection must be audited, got %+v", rejected)
	}
}
