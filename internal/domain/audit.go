package domain

import "time"

type WriteStatus string

const (
	WriteAttempted WriteStatus = "attempted"
	WriteConfirmed WriteStatus = "confirmed"
	WriteRejected  WriteStatus = "rejected"
)

// WriteReceipt is the chain's acknowledgement of a submitted write.
type WriteReceipt struct {
	TxHash string `json:"tx_hash"`
}

// WriteAudit records one on-chain write attempt and its outcome. The trail
// is kept outside the projection so failures stay diagnosable without the
// chain.
type WriteAudit struct {
	ID          int64       `json:"id"`
	TaskID      string      `json:"task_id,omitempty"`
	Op          string      `json:"op"`
	TargetKey   string      `json:"target_key"`
	PayloadHash string      `json:"payload_hash,omitempty"`
	Status      WriteStatus `json:"status"`
	ErrorCode   string      `json:"error_code,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
