package domain

import "time"

// FeedbackRecord is one entry of the append-only per (agent, client)
// feedback sequence. Index values are strictly increasing per pair and are
// never reused, revocation included.
type FeedbackRecord struct {
	AgentID      AgentID   `json:"agent_id"`
	Client       Address   `json:"client"`
	Index        uint64    `json:"index"`
	Score        uint8     `json:"score"`
	Tag1         string    `json:"tag1"`
	Tag2         string    `json:"tag2"`
	FileURI      string    `json:"file_uri"`
	FileHash     string    `json:"file_hash"`
	AuthRef      string    `json:"auth_ref"`
	Revoked      bool      `json:"revoked"`
	CreatedBlock uint64    `json:"created_block"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeedbackResponse is a reply appended under an existing feedback entry.
type FeedbackResponse struct {
	AgentID       AgentID `json:"agent_id"`
	Client        Address `json:"client"`
	FeedbackIndex uint64  `json:"feedback_index"`
	Responder     Address `json:"responder"`
	ResponseURI   string  `json:"response_uri"`
	ContentHash   string  `json:"content_hash"`
	CreatedBlock  uint64  `json:"created_block"`
}

// FeedbackSummary aggregates the non-revoked feedback of an agent.
type FeedbackSummary struct {
	AgentID   AgentID `json:"agent_id"`
	Count     int64   `json:"count"`
	MeanScore float64 `json:"mean_score"`
}

// AuthCredential authorizes the holder to post feedback for one
// (agent, client) pair, up to IndexLimit (exclusive) and no later than
// ExpiresAt. It is checked at submission time and never cached past its
// bound.
type AuthCredential struct {
	AgentID    AgentID   `json:"agent_id"`
	Client     Address   `json:"client"`
	IndexLimit uint64    `json:"index_limit"`
	ExpiresAt  time.Time `json:"expires_at"`
	Ref        string    `json:"ref"`
}

func (c AuthCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Covers reports whether the credential still authorizes feedback at the
// given next index.
func (c AuthCredential) Covers(nextIndex uint64, now time.Time) bool {
	return !c.Expired(now) && nextIndex < c.IndexLimit
}
