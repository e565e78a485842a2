package usecase

import (
	"testing"
	"time"

	"agentsync/internal/domain"
)

func respWith(score uint8) domain.ValidationResponse {
	return domain.ValidationResponse{Score: score}
}

func TestAggregateFullCoverage(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{Threshold: 80, Timeout: time.Hour}
	expected := []domain.Address{"0xval-a", "0xval-b"}

	decision, ready := Aggregate(policy, expected, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(90),
		"0xval-b": respWith(70),
	}, started, started.Add(time.Minute))
	if !ready {
		t.Fatal("full coverage must settle immediately")
	}
	if !decision.Pass || decision.Score != 80 {
		t.Fatalf("mean of 90 and 70 at threshold 80 must pass, got %+v", decision)
	}
	if decision.Forced {
		t.Fatal("full coverage is not a forced decision")
	}

	decision, ready = Aggregate(policy, expected, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(90),
		"0xval-b": respWith(60),
	}, started, started.Add(time.Minute))
	if !ready || decision.Pass {
		t.Fatalf("mean 75 under threshold 80 must fail, got %+v ready=%v", decision, ready)
	}
}

func TestAggregateWaitsBeforeTimeout(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{Threshold: 80, MinFraction: 0.5, Timeout: time.Hour}
	expected := []domain.Address{"0xval-a", "0xval-b"}

	_, ready := Aggregate(policy, expected, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(90),
	}, started, started.Add(time.Minute))
	if ready {
		t.Fatal("partial coverage before timeout must not settle")
	}
}

func TestAggregateForcedAtTimeout(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{Threshold: 80, MinFraction: 0.5, Timeout: time.Minute}
	expected := []domain.Address{"0xval-a", "0xval-b"}

	decision, ready := Aggregate(policy, expected, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(90),
	}, started, started.Add(2*time.Minute))
	if !ready || !decision.Forced {
		t.Fatalf("timeout with enough coverage must force a decision, got %+v ready=%v", decision, ready)
	}
	if !decision.Pass || decision.Score != 90 {
		t.Fatalf("single response of 90 must pass at threshold 80, got %+v", decision)
	}
}

func TestAggregateZeroResponsesAtTimeout(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{Threshold: 80, MinFraction: 0.5, Timeout: time.Minute}
	expected := []domain.Address{"0xval-a", "0xval-b"}

	decision, ready := Aggregate(policy, expected, nil, started, started.Add(2*time.Minute))
	if !ready {
		t.Fatal("timeout with zero responses must still settle")
	}
	if decision.Pass || decision.Score != 0 || !decision.Forced {
		t.Fatalf("zero responses must fail with score 0, got %+v", decision)
	}
}

func TestAggregateBelowMinFractionAtTimeout(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{Threshold: 80, MinFraction: 0.5, Timeout: time.Minute}
	expected := []domain.Address{"0xval-a", "0xval-b", "0xval-c"}

	decision, ready := Aggregate(policy, expected, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(95),
	}, started, started.Add(2*time.Minute))
	if !ready {
		t.Fatal("timeout must settle")
	}
	if decision.Pass {
		t.Fatalf("1 of 3 responses is under min fraction 0.5 and must fail, got %+v", decision)
	}
	if decision.Score != 95 {
		t.Fatalf("the observed mean is still recorded, got %+v", decision)
	}
}

func TestAggregateRequiredSetOverridesPanel(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.AggregationPolicy{
		Required:  []domain.Address{"0xval-a"},
		Threshold: 80,
		Timeout:   time.Hour,
	}

	decision, ready := Aggregate(policy, []domain.Address{"0xval-a", "0xval-b"}, map[domain.Address]domain.ValidationResponse{
		"0xval-a": respWith(85),
	}, started, started.Add(time.Minute))
	if !ready || !decision.Pass {
		t.Fatalf("required set of one is fully covered, got %+v ready=%v", decision, ready)
	}
	if decision.Expected != 1 {
		t.Fatalf("expected set must be the required set, got %d", decision.Expected)
	}
}
