// Package camera governs whether the map viewport tracks the user's live
// position or stays under manual control. The one strict rule: a user
// gesture always wins over programmatic movement.
package camera

import (
	"sync"
	"time"

	"github.com/impulselabs/impulse/internal/geo"
)

// Mode is the viewport control state.
type Mode string

const (
	// ModeFollowing keeps the viewport centered on the user's position.
	ModeFollowing Mode = "following"
	// ModeManual leaves the viewport where the user put it.
	ModeManual Mode = "manual"
)

// Rapid position updates would make the viewport jitter; recenters while
// following are spaced at least this far apart.
const defaultMinRecenterInterval = 500 * time.Millisecond

// Config describes a controller's tunables.
type Config struct {
	MinRecenterInterval time.Duration
	Clock               func() time.Time
}

// Controller is the camera-follow state machine. It is safe for concurrent
// use by the gesture and position-update paths.
type Controller struct {
	mu              sync.Mutex
	mode            Mode
	lastPosition    *geo.Coordinate
	pendingRecenter bool
	lastRecenterAt  time.Time
	minInterval     time.Duration
	clock           func() time.Time
}

// NewController starts a controller in following mode with no known position.
func NewController(cfg Config) *Controller {
	interval := cfg.MinRecenterInterval
	if interval <= 0 {
		interval = defaultMinRecenterInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		mode:        ModeFollowing,
		minInterval: interval,
		clock:       clock,
	}
}

// Mode returns the current control state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastPosition returns the last-known user position, if any.
func (c *Controller) LastPosition() (geo.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPosition == nil {
		return geo.Coordinate{}, false
	}
	return *c.lastPosition, true
}

// HandleGesture records a user drag or zoom. The viewport switches to
// manual from either state and stays there until an explicit recenter.
func (c *Controller) HandleGesture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeManual
	c.pendingRecenter = false
}

// Recenter is the explicit re-enable command. With a known position it
// switches to following and returns the immediate reposition target,
// bypassing the rate limiter. With no position yet it records the intent;
// the controller stays manual until the next position update arrives.
func (c *Controller) Recenter() (geo.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPosition == nil {
		c.pendingRecenter = true
		return geo.Coordinate{}, false
	}
	c.mode = ModeFollowing
	c.lastRecenterAt = c.clock()
	return *c.lastPosition, true
}

// UpdatePosition records a live position fix and returns the viewport
// target when the viewport should move. While following, recenters are
// rate-limited; in manual mode the position is remembered but the viewport
// never moves.
func (c *Controller) UpdatePosition(position geo.Coordinate) (geo.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPosition = &position

	if c.pendingRecenter {
		c.pendingRecenter = false
		c.mode = ModeFollowing
		c.lastRecenterAt = c.clock()
		return position, true
	}
	if c.mode != ModeFollowing {
		return geo.Coordinate{}, false
	}

	now := c.clock()
	if !c.lastRecenterAt.IsZero() && now.Sub(c.lastRecenterAt) < c.minInterval {
		return geo.Coordinate{}, false
	}
	c.lastRecenterAt = now
	return position, true
}
