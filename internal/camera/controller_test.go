package camera

import (
	"testing"
	"time"

	"github.com/impulselabs/impulse/internal/geo"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestController(clock *fakeClock) *Controller {
	return NewController(Config{
		MinRecenterInterval: 500 * time.Millisecond,
		Clock:               clock.Now,
	})
}

func TestGestureSwitchesToManualAndStopsFollowing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	if _, moved := controller.UpdatePosition(geo.Coordinate{Lat: 55.75, Lng: 37.61}); !moved {
		t.Fatal("expected first position update to recenter while following")
	}

	controller.HandleGesture()
	if controller.Mode() != ModeManual {
		t.Fatalf("expected manual mode after gesture, got %s", controller.Mode())
	}

	clock.Advance(time.Second)
	if _, moved := controller.UpdatePosition(geo.Coordinate{Lat: 55.76, Lng: 37.62}); moved {
		t.Fatal("position updates must not move the viewport in manual mode")
	}
}

func TestGestureWinsFromEitherState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	controller.HandleGesture()
	if controller.Mode() != ModeManual {
		t.Fatal("gesture from following must yield manual")
	}
	controller.HandleGesture()
	if controller.Mode() != ModeManual {
		t.Fatal("gesture from manual must stay manual")
	}
}

func TestRecenterRepositionsImmediatelyWithKnownPosition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	controller.UpdatePosition(geo.Coordinate{Lat: 55.75, Lng: 37.61})
	controller.HandleGesture()

	target, moved := controller.Recenter()
	if !moved {
		t.Fatal("expected immediate reposition on recenter")
	}
	if target.Lat != 55.75 || target.Lng != 37.61 {
		t.Fatalf("unexpected recenter target %#v", target)
	}
	if controller.Mode() != ModeFollowing {
		t.Fatalf("expected following mode after recenter, got %s", controller.Mode())
	}
}

func TestRecenterWithoutPositionWaitsForFirstFix(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)
	controller.HandleGesture()

	if _, moved := controller.Recenter(); moved {
		t.Fatal("recenter with no known position must not move the viewport")
	}
	if controller.Mode() != ModeManual {
		t.Fatalf("expected controller to stay manual, got %s", controller.Mode())
	}

	target, moved := controller.UpdatePosition(geo.Coordinate{Lat: 48.85, Lng: 2.35})
	if !moved {
		t.Fatal("first fix after a pending recenter must reposition")
	}
	if target.Lat != 48.85 {
		t.Fatalf("unexpected target %#v", target)
	}
	if controller.Mode() != ModeFollowing {
		t.Fatalf("expected following after pending recenter, got %s", controller.Mode())
	}
}

func TestFollowingRecentersAreRateLimited(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	if _, moved := controller.UpdatePosition(geo.Coordinate{Lat: 1, Lng: 1}); !moved {
		t.Fatal("expected first update to recenter")
	}

	clock.Advance(100 * time.Millisecond)
	if _, moved := controller.UpdatePosition(geo.Coordinate{Lat: 2, Lng: 2}); moved {
		t.Fatal("expected update inside the interval to be suppressed")
	}

	clock.Advance(450 * time.Millisecond)
	target, moved := controller.UpdatePosition(geo.Coordinate{Lat: 3, Lng: 3})
	if !moved {
		t.Fatal("expected update past the interval to recenter")
	}
	if target.Lat != 3 {
		t.Fatalf("unexpected target %#v", target)
	}
}

func TestExplicitRecenterBypassesRateLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	controller.UpdatePosition(geo.Coordinate{Lat: 1, Lng: 1})
	clock.Advance(50 * time.Millisecond)

	if _, moved := controller.Recenter(); !moved {
		t.Fatal("explicit recenter must reposition regardless of the limiter")
	}
}

func TestSuppressedUpdateStillRecordsPosition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	controller := newTestController(clock)

	controller.UpdatePosition(geo.Coordinate{Lat: 1, Lng: 1})
	clock.Advance(100 * time.Millisecond)
	controller.UpdatePosition(geo.Coordinate{Lat: 2, Lng: 2})

	position, ok := controller.LastPosition()
	if !ok || position.Lat != 2 {
		t.Fatalf("expected suppressed update to be remembered, got %#v ok=%v", position, ok)
	}
}
