// Package projmem is the in-memory twin of the database projection. It
// keeps the same contract: event-history rows keyed by origin block, one
// block applied atomically, rewind as a pure discard, current state derived
// at read time. Tests and db-less runs use it in place of the gorm store.
package projmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agentsync/internal/domain"
)

type quarantineKey struct {
	block   uint64
	hash    string
	txIndex int
	kind    domain.EventKind
	reason  string
}

type Store struct {
	mu sync.Mutex

	checkpoint *domain.Checkpoint
	applied    map[uint64]domain.BlockRef
	events     []domain.Event
	seen       map[string]bool

	quarantine     []domain.QuarantineRecord
	quarantineSeen map[quarantineKey]bool
}

func New() *Store {
	return &Store{
		applied:        make(map[uint64]domain.BlockRef),
		seen:           make(map[string]bool),
		quarantineSeen: make(map[quarantineKey]bool),
	}
}

// --- projection writes ---

func (s *Store) Checkpoint(ctx context.Context) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	cp := *s.checkpoint
	return &cp, nil
}

func (s *Store) AppliedBlock(ctx context.Context, number uint64) (*domain.BlockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, ok := s.applied[number]
	if !ok {
		return nil, nil
	}
	return &header, nil
}

func (s *Store) ApplyBlock(ctx context.Context, header domain.BlockRef, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		key := eventKey(ev)
		if s.seen[key] {
			continue
		}
		if ev.Kind == domain.EventValidationResponse && !s.hasRequestLocked(ev.ValidationResponse.RequestHash) {
			s.quarantineLocked(domain.QuarantineRecord{
				BlockNumber: ev.Block.Number,
				BlockHash:   ev.Block.Hash,
				TxIndex:     ev.TxIndex,
				Kind:        ev.Kind,
				Reason:      "response for unknown request " + ev.ValidationResponse.RequestHash,
				CreatedAt:   time.Now().UTC(),
			})
			s.seen[key] = true
			continue
		}
		s.seen[key] = true
		s.events = append(s.events, ev)
	}
	s.applied[header.Number] = header
	s.checkpoint = &domain.Checkpoint{
		BlockNumber: header.Number,
		BlockHash:   header.Hash,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *Store) RewindTo(ctx context.Context, ancestor domain.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := ancestor.Number
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Block.Number > n {
			delete(s.seen, eventKey(ev))
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	for number := range s.applied {
		if number > n {
			delete(s.applied, number)
		}
	}
	keptQ := s.quarantine[:0]
	for _, rec := range s.quarantine {
		if rec.BlockNumber > n {
			delete(s.quarantineSeen, quarantineKey{rec.BlockNumber, rec.BlockHash, rec.TxIndex, rec.Kind, rec.Reason})
			continue
		}
		keptQ = append(keptQ, rec)
	}
	s.quarantine = keptQ
	s.checkpoint = &domain.Checkpoint{
		BlockNumber: ancestor.Number,
		BlockHash:   ancestor.Hash,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *Store) Quarantine(ctx context.Context, rec domain.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantineLocked(rec)
	return nil
}

func (s *Store) ListQuarantine(ctx context.Context, limit int) ([]domain.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QuarantineRecord, len(s.quarantine))
	copy(out, s.quarantine)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) quarantineLocked(rec domain.QuarantineRecord) {
	key := quarantineKey{rec.BlockNumber, rec.BlockHash, rec.TxIndex, rec.Kind, rec.Reason}
	if s.quarantineSeen[key] {
		return
	}
	s.quarantineSeen[key] = true
	s.quarantine = append(s.quarantine, rec)
}

// --- derived reads ---

func (s *Store) GetAgent(ctx context.Context, agentID domain.AgentID) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var agent *domain.Agent
	for _, ev := range s.ordered() {
		switch ev.Kind {
		case domain.EventRegistered:
			if ev.Registered.AgentID != agentID {
				continue
			}
			agent = &domain.Agent{
				ID:           agentID,
				Owner:        ev.Registered.Owner,
				TokenURI:     ev.Registered.TokenURI,
				Metadata:     make(map[string][]byte),
				CreatedBlock: ev.Block.Number,
				CreatedAt:    ev.Block.Time,
				UpdatedBlock: ev.Block.Number,
				UpdatedAt:    ev.Block.Time,
			}
		case domain.EventMetadataSet:
			if agent == nil || ev.MetadataSet.AgentID != agentID {
				continue
			}
			agent.Metadata[ev.MetadataSet.Key] = ev.MetadataSet.Value
			agent.UpdatedBlock = ev.Block.Number
			agent.UpdatedAt = ev.Block.Time
		}
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	return agent, nil
}

func (s *Store) GetMetadata(ctx context.Context, agentID domain.AgentID, key string) ([]byte, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	value, ok := agent.Metadata[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return value, nil
}

func (s *Store) GetRequest(ctx context.Context, requestHash string) (*domain.ValidationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var request *domain.ValidationRequest
	responded := false
	for _, ev := range s.ordered() {
		switch ev.Kind {
		case domain.EventValidationRequest:
			if ev.ValidationRequest.RequestHash != requestHash {
				continue
			}
			request = &domain.ValidationRequest{
				RequestHash:  requestHash,
				Validator:    ev.ValidationRequest.Validator,
				AgentID:      ev.ValidationRequest.AgentID,
				RequestURI:   ev.ValidationRequest.RequestURI,
				ContentHash:  ev.ValidationRequest.ContentHash,
				CreatedBlock: ev.Block.Number,
			}
		case domain.EventValidationResponse:
			if ev.ValidationResponse.RequestHash == requestHash {
				responded = true
			}
		}
	}
	if request == nil {
		return nil, domain.ErrNotFound
	}
	request.Status = domain.ValidationPending
	if responded {
		request.Status = domain.ValidationResponded
	}
	return request, nil
}

func (s *Store) GetResponse(ctx context.Context, requestHash string) (*domain.ValidationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var response *domain.ValidationResponse
	for _, ev := range s.ordered() {
		if ev.Kind != domain.EventValidationResponse || ev.ValidationResponse.RequestHash != requestHash {
			continue
		}
		response = &domain.ValidationResponse{
			RequestHash:    requestHash,
			Score:          ev.ValidationResponse.Score,
			ResponseURI:    ev.ValidationResponse.ResponseURI,
			ContentHash:    ev.ValidationResponse.ContentHash,
			Tag:            ev.ValidationResponse.Tag,
			RespondedBlock: ev.Block.Number,
			RespondedAt:    ev.Block.Time,
		}
	}
	if response == nil {
		return nil, domain.ErrNotFound
	}
	return response, nil
}

func (s *Store) ListResponses(ctx context.Context, requestHashes []string) (map[string]domain.ValidationResponse, error) {
	out := make(map[string]domain.ValidationResponse, len(requestHashes))
	for _, hash := range requestHashes {
		response, err := s.GetResponse(ctx, hash)
		if err != nil {
			continue
		}
		out[hash] = *response
	}
	return out, nil
}

func (s *Store) NextIndex(ctx context.Context, agentID domain.AgentID, client domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := uint64(0)
	for _, ev := range s.events {
		if ev.Kind != domain.EventNewFeedback {
			continue
		}
		fb := ev.NewFeedback
		if fb.AgentID == agentID && fb.Client == client && fb.FeedbackIndex+1 > next {
			next = fb.FeedbackIndex + 1
		}
	}
	return next, nil
}

func (s *Store) Get(ctx context.Context, agentID domain.AgentID, client domain.Address, index uint64) (*domain.FeedbackRecord, error) {
	records, err := s.ListByAgent(ctx, agentID, true)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Client == client && records[i].Index == index {
			return &records[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListByAgent(ctx context.Context, agentID domain.AgentID, includeRevoked bool) ([]domain.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		client domain.Address
		index  uint64
	}
	revoked := make(map[pair]bool)
	for _, ev := range s.events {
		if ev.Kind == domain.EventFeedbackRevoked && ev.FeedbackRevoked.AgentID == agentID {
			revoked[pair{ev.FeedbackRevoked.Client, ev.FeedbackRevoked.FeedbackIndex}] = true
		}
	}
	var out []domain.FeedbackRecord
	for _, ev := range s.ordered() {
		if ev.Kind != domain.EventNewFeedback || ev.NewFeedback.AgentID != agentID {
			continue
		}
		fb := ev.NewFeedback
		isRevoked := revoked[pair{fb.Client, fb.FeedbackIndex}]
		if isRevoked && !includeRevoked {
			continue
		}
		out = append(out, domain.FeedbackRecord{
			AgentID:      agentID,
			Client:       fb.Client,
			Index:        fb.FeedbackIndex,
			Score:        fb.Score,
			Tag1:         fb.Tag1,
			Tag2:         fb.Tag2,
			FileURI:      fb.FileURI,
			FileHash:     fb.FileHash,
			AuthRef:      fb.AuthRef,
			Revoked:      isRevoked,
			CreatedBlock: ev.Block.Number,
			CreatedAt:    ev.Block.Time,
		})
	}
	return out, nil
}

func (s *Store) Summary(ctx context.Context, agentID domain.AgentID) (domain.FeedbackSummary, error) {
	records, err := s.ListByAgent(ctx, agentID, false)
	if err != nil {
		return domain.FeedbackSummary{}, err
	}
	summary := domain.FeedbackSummary{AgentID: agentID}
	var sum float64
	for _, rec := range records {
		summary.Count++
		sum += float64(rec.Score)
	}
	if summary.Count > 0 {
		summary.MeanScore = sum / float64(summary.Count)
	}
	return summary, nil
}

// ordered returns events sorted by (block, tx index). The slice is
// append-ordered already except across reorg replays, so sort stays cheap.
func (s *Store) ordered() []domain.Event {
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Block.Number != out[j].Block.Number {
			return out[i].Block.Number < out[j].Block.Number
		}
		return out[i].TxIndex < out[j].TxIndex
	})
	return out
}

func (s *Store) hasRequestLocked(requestHash string) bool {
	for _, ev := range s.events {
		if ev.Kind == domain.EventValidationRequest && ev.ValidationRequest.RequestHash == requestHash {
			return true
		}
	}
	return false
}

func eventKey(ev domain.Event) string {
	return fmt.Sprintf("%s|%d|%s", ev.Block.Hash, ev.TxIndex, ev.Kind)
}
