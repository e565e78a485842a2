package domain

import "time"

// Address is a lower-case hex chain address, 0x-prefixed.
type Address string

type AgentID uint64

type Agent struct {
	ID           AgentID           `json:"id"`
	Owner        Address           `json:"owner"`
	TokenURI     string            `json:"token_uri"`
	Metadata     map[string][]byte `json:"metadata,omitempty"`
	CreatedBlock uint64            `json:"created_block"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedBlock uint64            `json:"updated_block"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// MetadataEntry is one key of an agent's metadata mapping. Keys are
// independently versioned: a MetadataSet event replaces only its own key.
type MetadataEntry struct {
	AgentID      AgentID `json:"agent_id"`
	Key          string  `json:"key"`
	Value        []byte  `json:"value"`
	UpdatedBlock uint64  `json:"updated_block"`
}
