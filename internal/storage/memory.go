package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/impulselabs/impulse/internal/geo"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/request"
	"github.com/impulselabs/impulse/internal/venue"
)

// MemoryImpulseStore keeps impulses in a map. It backs tests and the
// ephemeral storage mode, where losing four-hour posts on restart is
// acceptable.
type MemoryImpulseStore struct {
	mu      sync.RWMutex
	records map[string]impulse.Impulse
}

// NewMemoryImpulseStore returns an empty store.
func NewMemoryImpulseStore() *MemoryImpulseStore {
	return &MemoryImpulseStore{records: make(map[string]impulse.Impulse)}
}

// SaveImpulse inserts or replaces the impulse.
func (s *MemoryImpulseStore) SaveImpulse(_ context.Context, record impulse.Impulse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ImpulseID] = record
	return nil
}

// GetImpulse fetches one impulse by id.
func (s *MemoryImpulseStore) GetImpulse(_ context.Context, id string) (*impulse.Impulse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, impulse.ErrImpulseNotFound
	}
	return &record, nil
}

// DeleteImpulse removes the impulse and reports whether it existed.
func (s *MemoryImpulseStore) DeleteImpulse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

// ListVisible returns unexpired impulses visible to the viewer, newest first.
func (s *MemoryImpulseStore) ListVisible(_ context.Context, viewer string, createdAfter int64) ([]impulse.Impulse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]impulse.Impulse, 0, len(s.records))
	for _, record := range s.records {
		if record.CreatedAtSeconds <= createdAfter {
			continue
		}
		if record.IsGhost && record.Owner != viewer {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAtSeconds > records[j].CreatedAtSeconds
	})
	return records, nil
}

// ListExpired returns impulses created at or before the cutoff.
func (s *MemoryImpulseStore) ListExpired(_ context.Context, createdAtOrBefore int64) ([]impulse.Impulse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []impulse.Impulse
	for _, record := range s.records {
		if record.CreatedAtSeconds <= createdAtOrBefore {
			records = append(records, record)
		}
	}
	return records, nil
}

// MemoryRequestStore keeps join requests in a map.
type MemoryRequestStore struct {
	mu      sync.RWMutex
	records map[string]request.JoinRequest
}

// NewMemoryRequestStore returns an empty store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{records: make(map[string]request.JoinRequest)}
}

// SaveRequest inserts or replaces the request.
func (s *MemoryRequestStore) SaveRequest(_ context.Context, record request.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.RequestID] = record
	return nil
}

// GetRequest fetches one request by id.
func (s *MemoryRequestStore) GetRequest(_ context.Context, id string) (*request.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, request.ErrRequestNotFound
	}
	return &record, nil
}

// FindLatest returns the most recent request for the pair, or nil.
func (s *MemoryRequestStore) FindLatest(_ context.Context, impulseID, requester string) (*request.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *request.JoinRequest
	for id := range s.records {
		record := s.records[id]
		if record.ImpulseID != impulseID || record.Requester != requester {
			continue
		}
		if latest == nil ||
			record.CreatedAtSeconds > latest.CreatedAtSeconds ||
			(record.CreatedAtSeconds == latest.CreatedAtSeconds && record.RequestID > latest.RequestID) {
			latest = &record
		}
	}
	return latest, nil
}

// MemoryVenueDirectory keeps venues in a map.
type MemoryVenueDirectory struct {
	mu      sync.RWMutex
	records map[string]venue.Venue
}

// NewMemoryVenueDirectory returns an empty directory.
func NewMemoryVenueDirectory() *MemoryVenueDirectory {
	return &MemoryVenueDirectory{records: make(map[string]venue.Venue)}
}

// Resolve returns the fixed coordinate of the referenced venue.
func (d *MemoryVenueDirectory) Resolve(_ context.Context, venueID string) (geo.Coordinate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.records[venueID]
	if !ok {
		return geo.Coordinate{}, venue.ErrVenueNotFound
	}
	return geo.Coordinate{Lat: record.Lat, Lng: record.Lng}, nil
}

// SaveVenue inserts or replaces a venue.
func (d *MemoryVenueDirectory) SaveVenue(_ context.Context, record venue.Venue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[record.VenueID] = record
	return nil
}
