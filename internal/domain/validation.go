package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationResponded ValidationStatus = "responded"
)

type ValidationRequest struct {
	RequestHash  string           `json:"request_hash"`
	Validator    Address          `json:"validator"`
	AgentID      AgentID          `json:"agent_id"`
	RequestURI   string           `json:"request_uri"`
	ContentHash  string           `json:"content_hash"`
	CreatedBlock uint64           `json:"created_block"`
	Status       ValidationStatus `json:"status"`
}

// ValidationResponse is keyed by the request hash: one logical response per
// request, latest response wins.
type ValidationResponse struct {
	RequestHash    string    `json:"request_hash"`
	Score          uint8     `json:"score"`
	ResponseURI    string    `json:"response_uri"`
	ContentHash    string    `json:"content_hash"`
	Tag            string    `json:"tag"`
	RespondedBlock uint64    `json:"responded_block"`
	RespondedAt    time.Time `json:"responded_at"`
}

// ComputeRequestHash derives the deterministic identifier of a validation
// request from the (validator, agent, content hash) triple. The same triple
// always maps to the same request.
func ComputeRequestHash(validator Address, agentID AgentID, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(validator))
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(agentID))
	h.Write(id[:])
	h.Write([]byte(contentHash))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
