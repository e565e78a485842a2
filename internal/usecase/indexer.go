package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"agentsync/internal/domain"
)

// errReorg aborts a forward sync so the caller can rewind and resume.
var errReorg = errors.New("reorg detected")

// IndexerConfig tunes the block consumer. Confirmations is how far behind
// the head the indexer stays; deeper reorgs are still handled by
// rewind-and-replay.
type IndexerConfig struct {
	Confirmations uint64
	StartBlock    uint64
	BatchBlocks   uint64
	PollInterval  time.Duration
	Retry         RetryPolicy
}

func (c IndexerConfig) withDefaults() IndexerConfig {
	if c.BatchBlocks == 0 {
		c.BatchBlocks = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Indexer is the single sequential consumer of chain blocks. It normalizes
// events and applies them to the projection one block per transaction;
// everything downstream reads the projection instead of the chain.
type Indexer struct {
	chain ChainReader
	store ProjectionStore
	cfg   IndexerConfig
}

func NewIndexer(chain ChainReader, store ProjectionStore, cfg IndexerConfig) *Indexer {
	return &Indexer{chain: chain, store: store, cfg: cfg.withDefaults()}
}

// Run syncs until ctx is done. Chain unavailability degrades to retry with
// backoff; it is never fatal and never loses data.
func (ix *Indexer) Run(ctx context.Context) error {
	notify, err := ix.chain.Notify(ctx)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := ix.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("indexer: sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-notify:
			if !ok {
				notify = nil
			}
		}
	}
}

// SyncOnce brings the projection up to the confirmed head. It resumes
// strictly from the durable checkpoint; in-memory state never survives a
// restart.
func (ix *Indexer) SyncOnce(ctx context.Context) error {
	for {
		err := ix.syncForward(ctx)
		if errors.Is(err, errReorg) {
			if err := ix.rewind(ctx); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

func (ix *Indexer) syncForward(ctx context.Context) error {
	head, err := ix.latest(ctx)
	if err != nil {
		return err
	}
	if head.Number < ix.cfg.Confirmations {
		return nil
	}
	target := head.Number - ix.cfg.Confirmations

	cp, err := ix.store.Checkpoint(ctx)
	if err != nil {
		return err
	}
	from := ix.cfg.StartBlock
	lastHash := ""
	if cp != nil {
		from = cp.BlockNumber + 1
		lastHash = cp.BlockHash
	}
	if from > target {
		return nil
	}

	for batchFrom := from; batchFrom <= target; batchFrom += ix.cfg.BatchBlocks {
		batchTo := batchFrom + ix.cfg.BatchBlocks - 1
		if batchTo > target {
			batchTo = target
		}
		blocks, err := ix.fetchRange(ctx, batchFrom, batchTo)
		if err != nil {
			return err
		}
		for _, blk := range blocks {
			// The new block must extend what we already applied;
			// anything else means the chain was rewritten.
			if lastHash != "" && blk.header.ParentHash != lastHash {
				return errReorg
			}
			if err := ix.applyBlock(ctx, blk); err != nil {
				return err
			}
			lastHash = blk.header.Hash
		}
	}
	return nil
}

type fetchedBlock struct {
	header domain.BlockRef
	raw    []domain.RawEvent
}

// fetchRange collects headers and events for [from, to]. The event fetch
// for the whole range runs concurrently with the header walk; application
// stays strictly sequential.
func (ix *Indexer) fetchRange(ctx context.Context, from, to uint64) ([]fetchedBlock, error) {
	type eventsResult struct {
		raws []domain.RawEvent
		err  error
	}
	eventsCh := make(chan eventsResult, 1)
	go func() {
		var raws []domain.RawEvent
		err := ix.cfg.Retry.retry(ctx, func() error {
			var ferr error
			raws, ferr = ix.chain.Events(ctx, from, to)
			return ferr
		})
		eventsCh <- eventsResult{raws: raws, err: err}
	}()

	blocks := make([]fetchedBlock, 0, to-from+1)
	for n := from; n <= to; n++ {
		var header domain.BlockRef
		err := ix.cfg.Retry.retry(ctx, func() error {
			var herr error
			header, herr = ix.chain.Header(ctx, n)
			return herr
		})
		if err != nil {
			return nil, fmt.Errorf("fetch header %d: %w", n, err)
		}
		blocks = append(blocks, fetchedBlock{header: header})
	}

	events := <-eventsCh
	if events.err != nil {
		return nil, fmt.Errorf("fetch events %d-%d: %w", from, to, events.err)
	}
	byNumber := make(map[uint64][]domain.RawEvent)
	for _, raw := range events.raws {
		byNumber[raw.Block.Number] = append(byNumber[raw.Block.Number], raw)
	}
	for i := range blocks {
		raws := byNumber[blocks[i].header.Number]
		for _, raw := range raws {
			// Events fetched for a block must match the header we
			// verified; a mismatch is a reorg race between the two
			// fetches.
			if raw.Block.Hash != blocks[i].header.Hash {
				return nil, errReorg
			}
		}
		blocks[i].raw = raws
	}
	return blocks, nil
}

// applyBlock normalizes and applies one block atomically; malformed events
// are quarantined after the block lands so indexing never stalls on bad
// payloads.
func (ix *Indexer) applyBlock(ctx context.Context, blk fetchedBlock) error {
	events := make([]domain.Event, 0, len(blk.raw))
	var malformed []domain.QuarantineRecord
	for _, raw := range blk.raw {
		ev, err := domain.DecodeEvent(raw)
		if err != nil {
			log.Printf("indexer: quarantine %s event in block %d: %v", raw.Kind, raw.Block.Number, err)
			malformed = append(malformed, domain.QuarantineRecord{
				BlockNumber: raw.Block.Number,
				BlockHash:   raw.Block.Hash,
				TxIndex:     raw.TxIndex,
				Kind:        raw.Kind,
				Payload:     raw.Payload,
				Reason:      err.Error(),
			})
			continue
		}
		events = append(events, ev)
	}
	if err := ix.store.ApplyBlock(ctx, blk.header, events); err != nil {
		return fmt.Errorf("apply block %d: %w", blk.header.Number, err)
	}
	for _, rec := range malformed {
		if err := ix.store.Quarantine(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// rewind walks back from the checkpoint to the last locally applied block
// the chain still agrees on, then discards everything after it. The
// discard is one transaction, so an interrupted rewind resumes cleanly.
func (ix *Indexer) rewind(ctx context.Context) error {
	cp, err := ix.store.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		return nil
	}
	for n := cp.BlockNumber; ; n-- {
		applied, err := ix.store.AppliedBlock(ctx, n)
		if err != nil {
			return err
		}
		if applied == nil {
			// Nothing local left to compare: replay everything from
			// the start block.
			before := uint64(0)
			if ix.cfg.StartBlock > 0 {
				before = ix.cfg.StartBlock - 1
			}
			start, err := ix.header(ctx, before)
			if err != nil {
				return err
			}
			log.Printf("indexer: reorg beyond local history, replaying from block %d", ix.cfg.StartBlock)
			return ix.store.RewindTo(ctx, start)
		}
		remote, err := ix.header(ctx, n)
		if err != nil {
			return err
		}
		if remote.Hash == applied.Hash {
			log.Printf("indexer: reorg: rewinding to common ancestor %d (%s)", n, applied.Hash)
			return ix.store.RewindTo(ctx, *applied)
		}
		if n == 0 {
			return fmt.Errorf("no common ancestor with chain")
		}
	}
}

// WaitSynced blocks until the projection checkpoint has reached the
// confirmed chain head observed at call time. Writers use it as a barrier
// before trusting the read model for idempotency decisions.
func (ix *Indexer) WaitSynced(ctx context.Context) error {
	head, err := ix.latest(ctx)
	if err != nil {
		return err
	}
	if head.Number < ix.cfg.Confirmations {
		return nil
	}
	target := head.Number - ix.cfg.Confirmations
	for {
		cp, err := ix.store.Checkpoint(ctx)
		if err != nil {
			return err
		}
		if cp != nil && cp.BlockNumber >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (ix *Indexer) latest(ctx context.Context) (domain.BlockRef, error) {
	var head domain.BlockRef
	err := ix.cfg.Retry.retry(ctx, func() error {
		var herr error
		head, herr = ix.chain.Latest(ctx)
		return herr
	})
	return head, err
}

func (ix *Indexer) header(ctx context.Context, n uint64) (domain.BlockRef, error) {
	var header domain.BlockRef
	err := ix.cfg.Retry.retry(ctx, func() error {
		var herr error
		header, herr = ix.chain.Header(ctx, n)
		return herr
	})
	return header, err
}
