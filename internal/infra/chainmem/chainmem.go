// Package chainmem is an in-memory ledger gateway used by tests and local
// runs. It keeps the same observable contract as the HTTP client: writes
// are validated against registry state, effects surface only as events in
// mined blocks, and the chain can be rewritten to exercise reorg handling.
package chainmem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agentsync/internal/domain"
)

type pairKey struct {
	agent  domain.AgentID
	client domain.Address
}

type agentState struct {
	owner    domain.Address
	tokenURI string
	metadata map[string][]byte
}

type requestState struct {
	validator domain.Address
	status    domain.ValidationStatus
}

type feedbackState struct {
	revoked bool
}

type Chain struct {
	mu    sync.Mutex
	clock func() time.Time

	blocks  []domain.BlockRef
	events  [][]domain.RawEvent // events[i] belongs to blocks[i]
	pending []domain.RawEvent
	forkSeq int

	caller      domain.Address
	autoMine    bool
	nextAgentID domain.AgentID
	agents      map[domain.AgentID]*agentState
	requests    map[string]*requestState
	feedback    map[pairKey][]feedbackState

	failNext map[string]error
	subs     []chan domain.BlockRef
}

func New() *Chain {
	c := &Chain{
		clock:       time.Now,
		nextAgentID: 1,
		autoMine:    true,
		agents:      make(map[domain.AgentID]*agentState),
		requests:    make(map[string]*requestState),
		feedback:    make(map[pairKey][]feedbackState),
		failNext:    make(map[string]error),
	}
	genesis := domain.BlockRef{Number: 0, Hash: c.hashBlock(0, "", 0), Time: c.clock()}
	c.blocks = []domain.BlockRef{genesis}
	c.events = [][]domain.RawEvent{nil}
	return c
}

func NewWithClock(clock func() time.Time) *Chain {
	c := New()
	c.clock = clock
	c.blocks[0].Time = clock()
	return c
}

// SetCaller sets the sender identity attached to subsequent writes.
func (c *Chain) SetCaller(addr domain.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = addr
}

// SetAutoMine controls whether each write seals its own block immediately.
func (c *Chain) SetAutoMine(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = enabled
}

// FailNext makes the next write of the given op fail with err.
func (c *Chain) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = err
}

// --- reads ---

func (c *Chain) Latest(ctx context.Context) (domain.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1], nil
}

func (c *Chain) Header(ctx context.Context, number uint64) (domain.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.blocks)) {
		return domain.BlockRef{}, domain.ErrNotFound
	}
	return c.blocks[number], nil
}

func (c *Chain) Events(ctx context.Context, from, to uint64) ([]domain.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to >= uint64(len(c.blocks)) {
		to = uint64(len(c.blocks)) - 1
	}
	var out []domain.RawEvent
	for n := from; n <= to && n < uint64(len(c.events)); n++ {
		out = append(out, c.events[n]...)
	}
	return out, nil
}

func (c *Chain) Notify(ctx context.Context) (<-chan domain.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan domain.BlockRef, 64)
	c.subs = append(c.subs, ch)
	return ch, nil
}

func (c *Chain) TokenURI(ctx context.Context, agentID domain.AgentID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[agentID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return agent.tokenURI, nil
}

func (c *Chain) GetMetadata(ctx context.Context, agentID domain.AgentID, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	value, ok := agent.metadata[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return value, nil
}

func (c *Chain) GetValidationStatus(ctx context.Context, requestHash string) (domain.ValidationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.requests[requestHash]
	if !ok {
		return "", domain.ErrNotFound
	}
	return request.status, nil
}

// --- writes ---

func (c *Chain) Register(ctx context.Context, tokenURI string, metadata map[string][]byte) (domain.AgentID, domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("register"); err != nil {
		return 0, domain.WriteReceipt{}, err
	}
	id := c.nextAgentID
	c.nextAgentID++
	stored := make(map[string][]byte, len(metadata))
	c.agents[id] = &agentState{owner: c.caller, tokenURI: tokenURI, metadata: stored}
	c.emit(domain.EventRegistered, domain.RegisteredPayload{
		AgentID:  id,
		Owner:    c.caller,
		TokenURI: tokenURI,
	})
	for key, value := range metadata {
		stored[key] = value
		c.emit(domain.EventMetadataSet, domain.MetadataSetPayload{AgentID: id, Key: key, Value: value})
	}
	return id, c.seal(), nil
}

func (c *Chain) SetMetadata(ctx context.Context, agentID domain.AgentID, key string, value []byte) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("setMetadata"); err != nil {
		return domain.WriteReceipt{}, err
	}
	agent, ok := c.agents[agentID]
	if !ok {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "setMetadata", Code: "unknown_agent"}
	}
	if agent.owner != c.caller {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "setMetadata", Code: "not_owner"}
	}
	agent.metadata[key] = value
	c.emit(domain.EventMetadataSet, domain.MetadataSetPayload{AgentID: agentID, Key: key, Value: value})
	return c.seal(), nil
}

func (c *Chain) ValidationRequest(ctx context.Context, validator domain.Address, agentID domain.AgentID, requestURI, contentHash string) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("validationRequest"); err != nil {
		return domain.WriteReceipt{}, err
	}
	if _, ok := c.agents[agentID]; !ok {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "validationRequest", Code: "unknown_agent"}
	}
	id := domain.ComputeRequestHash(validator, agentID, contentHash)
	if _, exists := c.requests[id]; !exists {
		c.requests[id] = &requestState{validator: validator, status: domain.ValidationPending}
		c.emit(domain.EventValidationRequest, domain.ValidationRequestPayload{
			RequestHash: id,
			Validator:   validator,
			AgentID:     agentID,
			RequestURI:  requestURI,
			ContentHash: contentHash,
		})
	}
	return c.seal(), nil
}

func (c *Chain) ValidationResponse(ctx context.Context, requestHash string, score uint8, responseURI, responseHash, tag string) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("validationResponse"); err != nil {
		return domain.WriteReceipt{}, err
	}
	request, ok := c.requests[requestHash]
	if !ok {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "validationResponse", Code: "unknown_request"}
	}
	if request.validator != c.caller {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "validationResponse", Code: "not_validator"}
	}
	if score > 100 {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "validationResponse", Code: "score_out_of_range"}
	}
	request.status = domain.ValidationResponded
	c.emit(domain.EventValidationResponse, domain.ValidationResponsePayload{
		RequestHash: requestHash,
		Score:       score,
		ResponseURI: responseURI,
		ContentHash: responseHash,
		Tag:         tag,
	})
	return c.seal(), nil
}

func (c *Chain) GiveFeedback(ctx context.Context, agentID domain.AgentID, score uint8, tag1, tag2, fileURI, fileHash string, cred domain.AuthCredential) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("giveFeedback"); err != nil {
		return domain.WriteReceipt{}, err
	}
	if _, ok := c.agents[agentID]; !ok {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "giveFeedback", Code: "unknown_agent"}
	}
	if cred.AgentID != agentID || cred.Client != c.caller {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "giveFeedback", Code: "auth_mismatch"}
	}
	key := pairKey{agent: agentID, client: c.caller}
	next := uint64(len(c.feedback[key]))
	if !cred.Covers(next, c.clock()) {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "giveFeedback", Code: "auth_expired"}
	}
	c.feedback[key] = append(c.feedback[key], feedbackState{})
	c.emit(domain.EventNewFeedback, domain.NewFeedbackPayload{
		AgentID:       agentID,
		Client:        c.caller,
		FeedbackIndex: next,
		Score:         score,
		Tag1:          tag1,
		Tag2:          tag2,
		FileURI:       fileURI,
		FileHash:      fileHash,
		AuthRef:       cred.Ref,
	})
	return c.seal(), nil
}

func (c *Chain) RevokeFeedback(ctx context.Context, agentID domain.AgentID, feedbackIndex uint64) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("revokeFeedback"); err != nil {
		return domain.WriteReceipt{}, err
	}
	key := pairKey{agent: agentID, client: c.caller}
	entries := c.feedback[key]
	if feedbackIndex >= uint64(len(entries)) {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "revokeFeedback", Code: "unknown_feedback"}
	}
	entries[feedbackIndex].revoked = true
	c.emit(domain.EventFeedbackRevoked, domain.FeedbackRevokedPayload{
		AgentID:       agentID,
		Client:        c.caller,
		FeedbackIndex: feedbackIndex,
	})
	return c.seal(), nil
}

func (c *Chain) AppendResponse(ctx context.Context, agentID domain.AgentID, client domain.Address, feedbackIndex uint64, responseURI, responseHash string) (domain.WriteReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure("appendResponse"); err != nil {
		return domain.WriteReceipt{}, err
	}
	key := pairKey{agent: agentID, client: client}
	if feedbackIndex >= uint64(len(c.feedback[key])) {
		return domain.WriteReceipt{}, &domain.RejectedWriteError{Op: "appendResponse", Code: "unknown_feedback"}
	}
	c.emit(domain.EventResponseAppended, domain.ResponseAppendedPayload{
		AgentID:       agentID,
		Client:        client,
		FeedbackIndex: feedbackIndex,
		Responder:     c.caller,
		ResponseURI:   responseURI,
		ContentHash:   responseHash,
	})
	return c.seal(), nil
}

// --- block production ---

// Mine seals all pending events into one block and returns its header.
func (c *Chain) Mine() domain.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mine()
}

// MineEmpty advances the chain by n empty blocks.
func (c *Chain) MineEmpty(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.mine()
	}
}

// Reorg drops every block from number fromNumber on, bumps the fork
// sequence so replacement hashes differ, and re-mines. When keepEvents is
// true the dropped events are re-included in a single replacement block;
// otherwise they are gone from the canonical chain.
func (c *Chain) Reorg(fromNumber uint64, keepEvents bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fromNumber == 0 || fromNumber >= uint64(len(c.blocks)) {
		return
	}
	var dropped []domain.RawEvent
	for n := fromNumber; n < uint64(len(c.blocks)); n++ {
		dropped = append(dropped, c.events[n]...)
	}
	depth := uint64(len(c.blocks)) - fromNumber
	c.blocks = c.blocks[:fromNumber]
	c.events = c.events[:fromNumber]
	c.forkSeq++
	if keepEvents {
		c.pending = append(dropped, c.pending...)
	}
	// Replacement branch is at least as long as the one it displaced.
	for uint64(len(c.blocks)) < fromNumber+depth {
		c.mine()
	}
}

func (c *Chain) seal() domain.WriteReceipt {
	if c.autoMine {
		header := c.mine()
		return domain.WriteReceipt{TxHash: "0xtx-" + header.Hash[2:18]}
	}
	return domain.WriteReceipt{TxHash: fmt.Sprintf("0xtx-pending-%d", len(c.pending))}
}

func (c *Chain) mine() domain.BlockRef {
	parent := c.blocks[len(c.blocks)-1]
	number := parent.Number + 1
	header := domain.BlockRef{
		Number:     number,
		Hash:       c.hashBlock(number, parent.Hash, len(c.pending)),
		ParentHash: parent.Hash,
		Time:       c.clock(),
	}
	mined := c.pending
	c.pending = nil
	for i := range mined {
		mined[i].Block = header
		mined[i].TxIndex = i
	}
	c.blocks = append(c.blocks, header)
	c.events = append(c.events, mined)
	for _, sub := range c.subs {
		select {
		case sub <- header:
		default:
		}
	}
	return header
}

func (c *Chain) emit(kind domain.EventKind, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("chainmem: encode %s payload: %v", kind, err))
	}
	c.pending = append(c.pending, domain.RawEvent{Kind: kind, Payload: encoded})
}

// EmitRaw queues an arbitrary raw event, bypassing write validation. Tests
// use it to feed malformed payloads through the indexer.
func (c *Chain) EmitRaw(kind domain.EventKind, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, domain.RawEvent{Kind: kind, Payload: payload})
}

func (c *Chain) takeFailure(op string) error {
	if err, ok := c.failNext[op]; ok {
		delete(c.failNext, op)
		return err
	}
	return nil
}

func (c *Chain) hashBlock(number uint64, parentHash string, txs int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d|%d", number, parentHash, c.forkSeq, txs)))
	return "0x" + hex.EncodeToString(sum[:])
}
