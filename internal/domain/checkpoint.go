package domain

import "time"

// Checkpoint is the indexer's durable cursor. It advances only after a
// block's events are fully applied, and rewinds when a reorg is detected.
type Checkpoint struct {
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QuarantineRecord holds an event the indexer refused to apply. Quarantined
// events are diagnosable, never silently dropped.
type QuarantineRecord struct {
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxIndex     int       `json:"tx_index"`
	Kind        EventKind `json:"kind"`
	Payload     []byte    `json:"payload"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
