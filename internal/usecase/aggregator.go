package usecase

import (
	"time"

	"agentsync/internal/domain"
)

// Aggregate folds the validator responses collected so far into a decision.
// Before the timeout it settles only on full coverage of the expected set.
// At the timeout it always settles with whatever arrived: enough coverage
// decides on the mean, too little coverage fails the task, and zero
// responses fail it with score 0.
func Aggregate(policy domain.AggregationPolicy, expected []domain.Address, responses map[domain.Address]domain.ValidationResponse, startedAt, now time.Time) (domain.AggregationDecision, bool) {
	if len(policy.Required) > 0 {
		expected = policy.Required
	}

	got := 0
	var sum float64
	for _, v := range expected {
		resp, ok := responses[v]
		if !ok {
			continue
		}
		got++
		sum += float64(resp.Score)
	}

	timedOut := policy.Timeout > 0 && !now.Before(startedAt.Add(policy.Timeout))
	complete := len(expected) > 0 && got == len(expected)
	if !complete && !timedOut {
		return domain.AggregationDecision{}, false
	}

	decision := domain.AggregationDecision{
		Responses: got,
		Expected:  len(expected),
		Forced:    !complete,
		DecidedAt: now,
	}
	if got == 0 {
		return decision, true
	}
	decision.Score = sum / float64(got)

	fraction := float64(got) / float64(len(expected))
	if !complete && policy.MinFraction > 0 && fraction < policy.MinFraction {
		return decision, true
	}
	decision.Pass = decision.Score >= policy.Threshold
	return decision, true
}
