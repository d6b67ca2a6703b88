package request

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/bus"
	"github.com/impulselabs/impulse/internal/fault"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/keylock"
)

const defaultStoreTimeout = 5 * time.Second

var (
	errMissingStore      = errors.New("request store is required")
	errMissingImpulses   = errors.New("impulse source is required")
	errMissingBus        = errors.New("event bus is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ErrRequestNotFound is returned by stores when no row matches the id.
var ErrRequestNotFound = errors.New("request: not found")

const (
	opServiceNew = "request.ledger.new"
	opJoin       = "request.join"
	opResolve    = "request.resolve"
	opStatus     = "request.status"
)

// Store is the keyed collection of join requests.
type Store interface {
	SaveRequest(ctx context.Context, record JoinRequest) error
	GetRequest(ctx context.Context, id string) (*JoinRequest, error)
	// FindLatest returns the most recent request for the (impulse, requester)
	// pair, or (nil, nil) when the pair has none.
	FindLatest(ctx context.Context, impulseID, requester string) (*JoinRequest, error)
}

// ImpulseSource is the live-impulse read path the ledger validates joins
// against. Expired impulses surface as not found.
type ImpulseSource interface {
	Get(ctx context.Context, impulseID string) (*impulse.Impulse, error)
}

// LedgerConfig describes the dependencies of the request ledger.
type LedgerConfig struct {
	Store        Store
	Impulses     ImpulseSource
	Bus          bus.Bus
	IDProvider   impulse.IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// Ledger enforces the join-request invariants: at most one pending request
// per (impulse, requester) pair, no self-joins, and single-shot resolution.
type Ledger struct {
	store        Store
	impulses     ImpulseSource
	bus          bus.Bus
	idProvider   impulse.IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	storeTimeout time.Duration
	locks        *keylock.Map
}

// NewLedger validates the configuration and constructs the ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fault.New(fault.KindUnknown, opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Impulses == nil {
		return nil, fault.New(fault.KindUnknown, opServiceNew, "missing_impulse_source", errMissingImpulses)
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
	return &Ledger{
		store:        cfg.Store,
		impulses:     cfg.Impulses,
		bus:          cfg.Bus,
		idProvider:   cfg.IDProvider,
		clock:        clock,
		logger:       logger,
		storeTimeout: timeout,
		locks:        keylock.New(),
	}, nil
}

// Join records the requester's application against a live impulse.
// Preconditions run in order, first failure wins: the impulse must exist and
// be unexpired, the requester must not own it, and the pair must have no
// pending or accepted request. A duplicate join returns the existing request
// so a retried client call stays safe.
func (l *Ledger) Join(ctx context.Context, impulseID, requester string) (*JoinRequest, error) {
	id, err := impulse.NewImpulseID(impulseID)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opJoin, "invalid_impulse_id", err)
	}
	identity, err := impulse.NewIdentity(requester)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opJoin, "invalid_requester", err)
	}

	target, err := l.impulses.Get(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if target.Owner == identity.String() {
		return nil, fault.New(fault.KindSelfJoin, opJoin, "own_impulse", nil)
	}

	unlock := l.locks.Lock(pairKey(id.String(), identity.String()))
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	existing, err := l.store.FindLatest(storeCtx, id.String(), identity.String())
	if err != nil {
		return nil, l.storeFault(opJoin, "lookup_failed", err, zap.String("impulse_id", id.String()))
	}
	if existing != nil && existing.Active() {
		// Duplicate join resolves to idempotent success, not an error.
		return existing, nil
	}

	requestID, err := l.idProvider.NewID()
	if err != nil {
		l.logError(opJoin, "id_generation_failed", err)
		return nil, fault.New(fault.KindUnknown, opJoin, "id_generation_failed", err)
	}
	record := JoinRequest{
		RequestID:        requestID,
		ImpulseID:        id.String(),
		Owner:            target.Owner,
		Requester:        identity.String(),
		Status:           StatusPending,
		CreatedAtSeconds: l.clock().UTC().Unix(),
	}
	if err := l.store.SaveRequest(storeCtx, record); err != nil {
		return nil, l.storeFault(opJoin, "save_failed", err, zap.String("impulse_id", id.String()))
	}

	l.emit(opJoin, bus.EventRequestCreated, record, record.Owner)
	return &record, nil
}

// Resolve applies the owner's accept or reject decision to a pending
// request. Resolution is exactly-once: a concurrent or repeated decision
// observes InvalidState.
func (l *Ledger) Resolve(ctx context.Context, requestID, actor, decision string) (*JoinRequest, error) {
	id, err := NewRequestID(requestID)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opResolve, "invalid_request_id", err)
	}
	identity, err := impulse.NewIdentity(actor)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opResolve, "invalid_actor", err)
	}
	parsed, err := ParseDecision(decision)
	if err != nil {
		return nil, fault.New(fault.KindValidation, opResolve, "invalid_decision", err)
	}

	unlock := l.locks.Lock("resolve:" + id.String())
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	record, err := l.store.GetRequest(storeCtx, id.String())
	if errors.Is(err, ErrRequestNotFound) {
		return nil, fault.New(fault.KindNotFound, opResolve, "request_missing", err)
	}
	if err != nil {
		return nil, l.storeFault(opResolve, "lookup_failed", err, zap.String("request_id", id.String()))
	}
	if record.Owner != identity.String() {
		return nil, fault.New(fault.KindPermission, opResolve, "not_owner", nil)
	}
	if record.Status != StatusPending {
		return nil, fault.New(fault.KindInvalidState, opResolve, "already_resolved", nil)
	}

	record.Status = parsed.StatusFor()
	if err := l.store.SaveRequest(storeCtx, *record); err != nil {
		return nil, l.storeFault(opResolve, "save_failed", err, zap.String("request_id", id.String()))
	}

	l.emit(opResolve, bus.EventRequestResolved, *record, record.Requester)
	return record, nil
}

// StatusFor returns the requester's current standing against the impulse,
// or the empty status when the pair has no request. It is the read path the
// presentation layer renders its call-to-action from.
func (l *Ledger) StatusFor(ctx context.Context, impulseID, requester string) (Status, error) {
	id, err := impulse.NewImpulseID(impulseID)
	if err != nil {
		return "", fault.New(fault.KindValidation, opStatus, "invalid_impulse_id", err)
	}
	identity, err := impulse.NewIdentity(requester)
	if err != nil {
		return "", fault.New(fault.KindValidation, opStatus, "invalid_requester", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	record, err := l.store.FindLatest(storeCtx, id.String(), identity.String())
	if err != nil {
		return "", l.storeFault(opStatus, "lookup_failed", err, zap.String("impulse_id", id.String()))
	}
	if record == nil {
		return "", nil
	}
	return record.Status, nil
}

func (l *Ledger) emit(operation string, eventType bus.EventType, record JoinRequest, target string) {
	payload, err := json.Marshal(NewView(record))
	if err != nil {
		l.logError(operation, "event_marshal_failed", err, zap.String("request_id", record.RequestID))
		return
	}
	l.bus.Direct(target, bus.Event{
		Type:      eventType,
		ImpulseID: record.ImpulseID,
		Payload:   payload,
		EmittedAt: l.clock().UTC(),
	})
}

func pairKey(impulseID, requester string) string {
	return "join:" + impulseID + ":" + requester
}

func (l *Ledger) storeFault(operation, reason string, err error, fields ...zap.Field) error {
	l.logError(operation, reason, err, fields...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindTimeout, operation, "store_timeout", err)
	}
	return fault.New(fault.KindUnknown, operation, reason, err)
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("request ledger error", attrs...)
}
