package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventRegistered         EventKind = "Registered"
	EventMetadataSet        EventKind = "MetadataSet"
	EventValidationRequest  EventKind = "ValidationRequest"
	EventValidationResponse EventKind = "ValidationResponse"
	EventNewFeedback        EventKind = "NewFeedback"
	EventFeedbackRevoked    EventKind = "FeedbackRevoked"
	EventResponseAppended   EventKind = "ResponseAppended"
)

// BlockRef anchors an event or checkpoint to a specific block. ParentHash is
// carried so a consumer can detect that the chain it is following has been
// rewritten under it.
type BlockRef struct {
	Number     uint64    `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	Time       time.Time `json:"time"`
}

// RawEvent is a chain event before normalization: the payload is the
// untouched JSON emitted by the chain client.
type RawEvent struct {
	Kind    EventKind       `json:"kind"`
	Block   BlockRef        `json:"block"`
	TxIndex int             `json:"tx_index"`
	Payload json.RawMessage `json:"payload"`
}

type RegisteredPayload struct {
	AgentID  AgentID `json:"agent_id"`
	Owner    Address `json:"owner"`
	TokenURI string  `json:"token_uri"`
}

type MetadataSetPayload struct {
	AgentID AgentID `json:"agent_id"`
	Key     string  `json:"key"`
	Value   []byte  `json:"value"`
}

type ValidationRequestPayload struct {
	RequestHash string  `json:"request_hash"`
	Validator   Address `json:"validator"`
	AgentID     AgentID `json:"agent_id"`
	RequestURI  string  `json:"request_uri"`
	ContentHash string  `json:"content_hash"`
}

type ValidationResponsePayload struct {
	RequestHash string `json:"request_hash"`
	Score       uint8  `json:"score"`
	ResponseURI string `json:"response_uri"`
	ContentHash string `json:"content_hash"`
	Tag         string `json:"tag"`
}

type NewFeedbackPayload struct {
	AgentID       AgentID `json:"agent_id"`
	Client        Address `json:"client"`
	FeedbackIndex uint64  `json:"feedback_index"`
	Score         uint8   `json:"score"`
	Tag1          string  `json:"tag1"`
	Tag2          string  `json:"tag2"`
	FileURI       string  `json:"file_uri"`
	FileHash      string  `json:"file_hash"`
	AuthRef       string  `json:"auth_ref"`
}

type FeedbackRevokedPayload struct {
	AgentID       AgentID `json:"agent_id"`
	Client        Address `json:"client"`
	FeedbackIndex uint64  `json:"feedback_index"`
}

type ResponseAppendedPayload struct {
	AgentID       AgentID `json:"agent_id"`
	Client        Address `json:"client"`
	FeedbackIndex uint64  `json:"feedback_index"`
	Responder     Address `json:"responder"`
	ResponseURI   string  `json:"response_uri"`
	ContentHash   string  `json:"content_hash"`
}

// Event is a normalized chain event: exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind    EventKind
	Block   BlockRef
	TxIndex int

	Registered         *RegisteredPayload
	MetadataSet        *MetadataSetPayload
	ValidationRequest  *ValidationRequestPayload
	ValidationResponse *ValidationResponsePayload
	NewFeedback        *NewFeedbackPayload
	FeedbackRevoked    *FeedbackRevokedPayload
	ResponseAppended   *ResponseAppendedPayload
}

// DecodeEvent normalizes a raw event. An unknown kind or an undecodable
// payload is a MalformedEventError; callers quarantine those rather than
// fail the stream.
func DecodeEvent(raw RawEvent) (Event, error) {
	ev := Event{Kind: raw.Kind, Block: raw.Block, TxIndex: raw.TxIndex}
	var err error
	switch raw.Kind {
	case EventRegistered:
		ev.Registered, err = decodePayload[RegisteredPayload](raw)
	case EventMetadataSet:
		ev.MetadataSet, err = decodePayload[MetadataSetPayload](raw)
	case EventValidationRequest:
		ev.ValidationRequest, err = decodePayload[ValidationRequestPayload](raw)
	case EventValidationResponse:
		ev.ValidationResponse, err = decodePayload[ValidationResponsePayload](raw)
	case EventNewFeedback:
		ev.NewFeedback, err = decodePayload[NewFeedbackPayload](raw)
	case EventFeedbackRevoked:
		ev.FeedbackRevoked, err = decodePayload[FeedbackRevokedPayload](raw)
	case EventResponseAppended:
		ev.ResponseAppended, err = decodePayload[ResponseAppendedPayload](raw)
	default:
		return Event{}, &MalformedEventError{Kind: raw.Kind, Reason: "unknown event kind"}
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func decodePayload[T any](raw RawEvent) (*T, error) {
	var payload T
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, &MalformedEventError{
			Kind:   raw.Kind,
			Reason: fmt.Sprintf("decode payload: %v", err),
		}
	}
	return &payload, nil
}
