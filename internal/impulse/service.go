package impulse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/bus"
	"github.com/impulselabs/impulse/internal/fault"
	"github.com/impulselabs/impulse/internal/geo"
	"github.com/impulselabs/impulse/internal/keylock"
	"github.com/impulselabs/impulse/internal/venue"
)

const defaultStoreTimeout = 5 * time.Second

var (
	errMissingStore      = errors.New("impulse store is required")
	errMissingBus        = errors.New("event bus is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ErrImpulseNotFound is returned by stores when no row matches the id.
var ErrImpulseNotFound = errors.New("impulse: not found")

const (
	opServiceNew = "impulse.service.new"
	opCreate     = "impulse.create"
	opDelete     = "impulse.delete"
	opSweep      = "impulse.sweep"
	opList       = "impulse.list"
	opGet        = "impulse.get"
)

// Store is the authoritative keyed collection of impulses. The cutoff
// arguments carry the TTL boundary so expired rows are filtered at read
// time regardless of sweep timing.
type Store interface {
	SaveImpulse(ctx context.Context, record Impulse) error
	GetImpulse(ctx context.Context, id string) (*Impulse, error)
	// DeleteImpulse removes the row and reports whether it existed, so a
	// second delete stays a silent no-op.
	DeleteImpulse(ctx context.Context, id string) (bool, error)
	// ListVisible returns unexpired impulses, excluding ghosts not owned by
	// the viewer.
	ListVisible(ctx context.Context, viewer string, createdAfter int64) ([]Impulse, error)
	// ListExpired returns impulses created at or before the cutoff.
	ListExpired(ctx context.Context, createdAtOrBefore int64) ([]Impulse, error)
}

// VenueDirectory resolves an opaque venue reference to its fixed coordinate.
type VenueDirectory interface {
	Resolve(ctx context.Context, venueID string) (geo.Coordinate, error)
}

// IDProvider issues identifiers for new impulses.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the impulse service.
type ServiceConfig struct {
	Store        Store
	Venues       VenueDirectory
	Bus          bus.Bus
	IDProvider   IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// Service owns the impulse lifecycle: creation, owner deletion, expiry
// sweep, and the read path viewers render from.
type Service struct {
	store        Store
	venues       VenueDirectory
	bus          bus.Bus
	idProvider   IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	storeTimeout time.Duration
	locks        *keylock.Map
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fault.New(fault.KindUnknown, opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Bus == nil {
		return nil, fault.New(fault.KindUnknown, opServiceNew, "missing_bus", errMissingBus)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.KindUnknown, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{
		store:        cfg.Store,
		venues:       cfg.Venues,
		bus:          cfg.Bus,
		idProvider:   cfg.IDProvider,
		clock:        clock,
		logger:       logger,
		storeTimeout: timeout,
		locks:        keylock.New(),
	}, nil
}

// CreateInput carries the owner command to broadcast a new impulse. When
// VenueID is set the coordinate comes from the venue directory, never from
// the caller.
type CreateInput struct {
	Owner   string
	Message string
	Lat     float64
	Lng     float64
	VenueID *string
	IsGhost bool
}

// Create validates the input, persists the impulse, and announces it.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Impulse, error) {
	owner, err := NewIdentity(input.Owner)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opCreate, "invalid_owner", err)
	}
	message, err := NewMessage(input.Message)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opCreate, "invalid_message", err)
	}

	coordinate, venueID, err := s.resolveCoordinate(ctx, input)
	if err != nil {
		return nil, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, fault.New(fault.KindUnknown, opCreate, "id_generation_failed", err)
	}

	record := Impulse{
		ImpulseID:        id,
		Owner:            owner.String(),
		Message:          message.String(),
		Lat:              coordinate.Lat,
		Lng:              coordinate.Lng,
		VenueID:          venueID,
		IsGhost:          input.IsGhost,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.SaveImpulse(storeCtx, record); err != nil {
		return nil, s.storeFault(opCreate, "save_failed", err, zap.String("impulse_id", id))
	}

	s.emitCreated(record)
	return &record, nil
}

// Delete removes the impulse on behalf of the actor. A second delete of the
// same id succeeds without emitting a second event.
func (s *Service) Delete(ctx context.Context, impulseID, actor string) error {
	id, err := NewImpulseID(impulseID)
	if err != nil {
		return fault.New(fault.KindValidation, opDelete, "invalid_impulse_id", err)
	}
	identity, err := NewIdentity(actor)
	if err != nil {
		return fault.New(fault.KindValidation, opDelete, "invalid_actor", err)
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.store.GetImpulse(storeCtx, id.String())
	if errors.Is(err, ErrImpulseNotFound) {
		return nil
	}
	if err != nil {
		return s.storeFault(opDelete, "lookup_failed", err, zap.String("impulse_id", id.String()))
	}
	if record.Expired(s.clock()) {
		// Already logically gone; the sweep owns the physical removal.
		return nil
	}
	if record.Owner != identity.String() {
		return fault.New(fault.KindPermission, opDelete, "not_owner", nil)
	}

	deleted, err := s.store.DeleteImpulse(storeCtx, id.String())
	if err != nil {
		return s.storeFault(opDelete, "delete_failed", err, zap.String("impulse_id", id.String()))
	}
	if deleted {
		s.emitDeleted(*record, "owner_delete")
	}
	return nil
}

// SweepExpired removes every impulse whose age reached the TTL at the given
// instant and returns their ids. It is system-initiated and bypasses the
// ownership check, emitting the same deletion events as Delete.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UTC().Add(-TTL).Unix()

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	expired, err := s.store.ListExpired(storeCtx, cutoff)
	if err != nil {
		return nil, s.storeFault(opSweep, "scan_failed", err)
	}

	swept := make([]string, 0, len(expired))
	for _, record := range expired {
		unlock := s.locks.Lock(record.ImpulseID)
		deleted, err := s.store.DeleteImpulse(storeCtx, record.ImpulseID)
		unlock()
		if err != nil {
			s.logError(opSweep, "delete_failed", err, zap.String("impulse_id", record.ImpulseID))
			continue
		}
		if deleted {
			s.emitDeleted(record, "expired")
			swept = append(swept, record.ImpulseID)
		}
	}
	return swept, nil
}

// List returns the impulses visible to the viewer right now. Expired rows
// are excluded here even when the sweep has not run yet.
func (s *Service) List(ctx context.Context, viewer string) ([]Impulse, error) {
	identity, err := NewIdentity(viewer)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opList, "invalid_viewer", err)
	}

	createdAfter := s.clock().UTC().Add(-TTL).Unix()
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	records, err := s.store.ListVisible(storeCtx, identity.String(), createdAfter)
	if err != nil {
		return nil, s.storeFault(opList, "query_failed", err, zap.String("viewer", identity.String()))
	}
	return records, nil
}

// Get returns a live impulse by id, treating expired rows as absent.
func (s *Service) Get(ctx context.Context, impulseID string) (*Impulse, error) {
	id, err := NewImpulseID(impulseID)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opGet, "invalid_impulse_id", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	record, err := s.store.GetImpulse(storeCtx, id.String())
	if errors.Is(err, ErrImpulseNotFound) {
		return nil, fault.New(fault.KindNotFound, opGet, "impulse_missing", err)
	}
	if err != nil {
		return nil, s.storeFault(opGet, "lookup_failed", err, zap.String("impulse_id", id.String()))
	}
	if record.Expired(s.clock()) {
		return nil, fault.New(fault.KindNotFound, opGet, "impulse_expired", nil)
	}
	return record, nil
}

func (s *Service) resolveCoordinate(ctx context.Context, input CreateInput) (geo.Coordinate, *string, error) {
	if input.VenueID == nil {
		coordinate, err := geo.NewCoordinate(input.Lat, input.Lng)
		if err != nil {
			return geo.Coordinate{}, nil, fault.New(fault.KindValidation, opCreate, "invalid_coordinate", err)
		}
		return coordinate, nil, nil
	}

	if s.venues == nil {
		return geo.Coordinate{}, nil, fault.New(fault.KindNotFound, opCreate, "venue_lookup_unavailable", nil)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	coordinate, err := s.venues.Resolve(lookupCtx, *input.VenueID)
	if errors.Is(err, venue.ErrVenueNotFound) {
		return geo.Coordinate{}, nil, fault.New(fault.KindNotFound, opCreate, "venue_missing", err)
	}
	if err != nil {
		return geo.Coordinate{}, nil, s.storeFault(opCreate, "venue_lookup_failed", err, zap.String("venue_id", *input.VenueID))
	}
	venueID := *input.VenueID
	return coordinate, &venueID, nil
}

func (s *Service) emitCreated(record Impulse) {
	payload, err := json.Marshal(NewView(record))
	if err != nil {
		s.logError(opCreate, "event_marshal_failed", err, zap.String("impulse_id", record.ImpulseID))
		return
	}
	event := bus.Event{
		Type:      bus.EventImpulseCreated,
		ImpulseID: record.ImpulseID,
		Payload:   payload,
		EmittedAt: s.clock().UTC(),
	}
	if record.IsGhost {
		s.bus.Direct(record.Owner, event)
		return
	}
	s.bus.Broadcast(event)
}

func (s *Service) emitDeleted(record Impulse, reason string) {
	payload, err := json.Marshal(DeletedView{ImpulseID: record.ImpulseID, Reason: reason})
	if err != nil {
		s.logError(opDelete, "event_marshal_failed", err, zap.String("impulse_id", record.ImpulseID))
		return
	}
	event := bus.Event{
		Type:      bus.EventImpulseDeleted,
		ImpulseID: record.ImpulseID,
		Payload:   payload,
		EmittedAt: s.clock().UTC(),
	}
	if record.IsGhost {
		s.bus.Direct(record.Owner, event)
		return
	}
	s.bus.Broadcast(event)
}

func (s *Service) storeFault(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindTimeout, operation, "store_timeout", err)
	}
	return fault.New(fault.KindUnknown, operation, reason, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("impulse service error", attrs...)
}

// View is the wire shape of an impulse shared by list responses and
// impulse-created events.
type View struct {
	ImpulseID        string  `json:"impulse_id"`
	Owner            string  `json:"owner"`
	Message          string  `json:"message"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	VenueID          *string `json:"venue_id,omitempty"`
	IsGhost          bool    `json:"is_ghost"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

// DeletedView is the payload of an impulse-deleted event.
type DeletedView struct {
	ImpulseID string `json:"impulse_id"`
	Reason    string `json:"reason"`
}

// NewView maps a stored impulse to its wire shape.
func NewView(record Impulse) View {
	return View{
		ImpulseID:        record.ImpulseID,
		Owner:            record.Owner,
		Message:          record.Message,
		Lat:              record.Lat,
		Lng:              record.Lng,
		VenueID:          record.VenueID,
		IsGhost:          record.IsGhost,
		CreatedAtSeconds: record.CreatedAtSeconds,
	}
}
