package impulse

import (
	"strings"
	"testing"
	"time"
)

func TestNewMessageBounds(t *testing.T) {
	if _, err := NewMessage("Coffee?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewMessage("   "); err == nil {
		t.Fatal("expected whitespace-only message to be rejected")
	}
	if _, err := NewMessage(strings.Repeat("я", 280)); err != nil {
		t.Fatalf("280 runes must be accepted: %v", err)
	}
	if _, err := NewMessage(strings.Repeat("я", 281)); err == nil {
		t.Fatal("expected 281 runes to be rejected")
	}
}

func TestImpulseExpiry(t *testing.T) {
	createdAt := time.Unix(1700000000, 0).UTC()
	record := Impulse{Owner: "owner-1", CreatedAtSeconds: createdAt.Unix()}

	if record.Expired(createdAt.Add(TTL - time.Second)) {
		t.Fatal("impulse must be live one second before the TTL")
	}
	if !record.Expired(createdAt.Add(TTL)) {
		t.Fatal("impulse must be expired exactly at the TTL")
	}
}

func TestGhostVisibility(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	record := Impulse{Owner: "owner-1", IsGhost: true, CreatedAtSeconds: now.Unix()}

	if !record.VisibleTo("owner-1", now) {
		t.Fatal("owner must see their ghost impulse")
	}
	if record.VisibleTo("viewer-2", now) {
		t.Fatal("ghost impulse must be invisible to other viewers")
	}
}
