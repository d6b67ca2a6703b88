package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewBuildsOperationReasonCode(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindNotFound, "impulse.delete", "impulse_missing", cause)

	if err.Code() != "impulse.delete.impulse_missing" {
		t.Fatalf("unexpected code %s", err.Code())
	}
	if err.Kind() != KindNotFound {
		t.Fatalf("unexpected kind %s", err.Kind())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	err := New(KindSelfJoin, "request.join", "own_impulse", nil)
	wrapped := fmt.Errorf("handler: %w", err)

	if KindOf(wrapped) != KindSelfJoin {
		t.Fatalf("expected self_join kind, got %s", KindOf(wrapped))
	}
	if !IsKind(wrapped, KindSelfJoin) {
		t.Fatalf("expected IsKind match")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors must report unknown kind")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatalf("nil must report unknown kind")
	}
}
