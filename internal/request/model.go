package request

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the join-request state machine. A request starts
// pending; accept and reject are the only transitions and both are terminal.
type Status string

const (
	// StatusPending awaits the owner's decision.
	StatusPending Status = "pending"
	// StatusAccepted is terminal; the pair moves on to chat.
	StatusAccepted Status = "accepted"
	// StatusRejected is terminal; the requester may join again later.
	StatusRejected Status = "rejected"
)

// Decision is the owner's resolution of a pending request.
type Decision string

const (
	// DecisionAccept resolves a request to accepted.
	DecisionAccept Decision = "accept"
	// DecisionReject resolves a request to rejected.
	DecisionReject Decision = "reject"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRequestID indicates that a request identifier is empty or exceeds storage bounds.
	ErrInvalidRequestID = errors.New("request: invalid request id")
	// ErrInvalidDecision indicates a resolution other than accept or reject.
	ErrInvalidDecision = errors.New("request: invalid decision")
)

// RequestID represents a validated join-request identifier.
type RequestID string

// NewRequestID validates raw input and returns a RequestID.
func NewRequestID(rawInput string) (RequestID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRequestID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRequestID, maxIdentifierLength)
	}
	return RequestID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RequestID) String() string {
	return string(id)
}

// ParseDecision validates a raw decision value.
func ParseDecision(rawInput string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(DecisionAccept):
		return DecisionAccept, nil
	case string(DecisionReject):
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, rawInput)
	}
}

// StatusFor maps a decision to its terminal status.
func (d Decision) StatusFor() Status {
	if d == DecisionAccept {
		return StatusAccepted
	}
	return StatusRejected
}

// JoinRequest models a requester's application to connect with an impulse
// owner. The owner identity is copied from the impulse at creation so the
// record survives the impulse's expiry or deletion.
type JoinRequest struct {
	RequestID        string `gorm:"column:request_id;primaryKey;size:190;not null"`
	ImpulseID        string `gorm:"column:impulse_id;size:190;not null;index:idx_requests_pair,priority:1"`
	Owner            string `gorm:"column:owner;size:190;not null;index:idx_requests_owner"`
	Requester        string `gorm:"column:requester;size:190;not null;index:idx_requests_pair,priority:2"`
	Status           Status `gorm:"column:status;size:16;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (JoinRequest) TableName() string {
	return "join_requests"
}

// Active reports whether the request blocks another join for its pair.
func (r JoinRequest) Active() bool {
	return r.Status == StatusPending || r.Status == StatusAccepted
}

// View is the wire shape of a join request shared by responses and events.
type View struct {
	RequestID        string `json:"request_id"`
	ImpulseID        string `json:"impulse_id"`
	Owner            string `json:"owner"`
	Requester        string `json:"requester"`
	Status           Status `json:"status"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

// NewView maps a stored request to its wire shape.
func NewView(record JoinRequest) View {
	return View{
		RequestID:        record.RequestID,
		ImpulseID:        record.ImpulseID,
		Owner:            record.Owner,
		Requester:        record.Requester,
		Status:           record.Status,
		CreatedAtSeconds: record.CreatedAtSeconds,
	}
}
