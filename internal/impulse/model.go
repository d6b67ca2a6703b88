package impulse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TTL is the fixed visible lifetime of an impulse. Past it the impulse is
// logically gone even before the sweep physically removes it.
const TTL = 4 * time.Hour

const (
	maxIdentifierLength = 190
	maxMessageLength    = 280
)

var (
	// ErrInvalidImpulseID indicates that an impulse identifier is empty or exceeds storage bounds.
	ErrInvalidImpulseID = errors.New("impulse: invalid impulse id")
	// ErrInvalidIdentity indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidIdentity = errors.New("impulse: invalid identity")
	// ErrInvalidMessage indicates that a message is empty or exceeds the length bound.
	ErrInvalidMessage = errors.New("impulse: invalid message")
)

// ImpulseID represents a validated impulse identifier.
type ImpulseID string

// NewImpulseID validates raw input and returns an ImpulseID.
func NewImpulseID(rawInput string) (ImpulseID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidImpulseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidImpulseID, maxIdentifierLength)
	}
	return ImpulseID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ImpulseID) String() string {
	return string(id)
}

// Identity represents a validated opaque user identity. The core trusts it
// was authenticated upstream.
type Identity string

// NewIdentity validates raw input and returns an Identity.
func NewIdentity(rawInput string) (Identity, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentity, maxIdentifierLength)
	}
	return Identity(trimmed), nil
}

// String returns the underlying identity value.
func (id Identity) String() string {
	return string(id)
}

// Message represents a validated impulse message.
type Message string

// NewMessage validates raw input and returns a Message.
func NewMessage(rawInput string) (Message, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
	if len([]rune(trimmed)) > maxMessageLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMessage, maxMessageLength)
	}
	return Message(trimmed), nil
}

// String returns the underlying message text.
func (m Message) String() string {
	return string(m)
}

// Impulse models a persisted broadcast. An impulse is visible to other users
// from creation until CreatedAtSeconds + TTL; only its owner may delete it,
// and no edit operation exists.
type Impulse struct {
	ImpulseID        string  `gorm:"column:impulse_id;primaryKey;size:190;not null"`
	Owner            string  `gorm:"column:owner;size:190;not null;index:idx_impulses_owner"`
	Message          string  `gorm:"column:message;size:280;not null"`
	Lat              float64 `gorm:"column:lat;not null"`
	Lng              float64 `gorm:"column:lng;not null"`
	VenueID          *string `gorm:"column:venue_id;size:190"`
	IsGhost          bool    `gorm:"column:is_ghost;not null;default:false"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_impulses_created"`
}

// TableName provides the explicit table binding for GORM.
func (Impulse) TableName() string {
	return "impulses"
}

// ExpiresAt returns the instant the impulse stops being visible.
func (i Impulse) ExpiresAt() time.Time {
	return time.Unix(i.CreatedAtSeconds, 0).Add(TTL)
}

// Expired reports whether the impulse has outlived its TTL at the given instant.
func (i Impulse) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt())
}

// VisibleTo reports whether the viewer may see the impulse at the given
// instant. Ghost impulses stay visible to their owner only.
func (i Impulse) VisibleTo(viewer Identity, now time.Time) bool {
	if i.Expired(now) {
		return false
	}
	if i.IsGhost && i.Owner != viewer.String() {
		return false
	}
	return true
}
