// Package storage provides the persistent (GORM/sqlite) and in-memory
// implementations of the impulse, request, and venue stores.
package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/impulselabs/impulse/internal/geo"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/request"
	"github.com/impulselabs/impulse/internal/venue"
)

// ImpulseStore persists impulses through GORM.
type ImpulseStore struct {
	db *gorm.DB
}

// NewImpulseStore wraps the database handle.
func NewImpulseStore(db *gorm.DB) (*ImpulseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database handle is required")
	}
	return &ImpulseStore{db: db}, nil
}

// SaveImpulse inserts or replaces the impulse row.
func (s *ImpulseStore) SaveImpulse(ctx context.Context, record impulse.Impulse) error {
	return s.db.WithContext(ctx).Save(&record).Error
}

// GetImpulse fetches one impulse by id.
func (s *ImpulseStore) GetImpulse(ctx context.Context, id string) (*impulse.Impulse, error) {
	var record impulse.Impulse
	err := s.db.WithContext(ctx).Where("impulse_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, impulse.ErrImpulseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteImpulse removes the row and reports whether it existed.
func (s *ImpulseStore) DeleteImpulse(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("impulse_id = ?", id).Delete(&impulse.Impulse{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListVisible returns unexpired impulses visible to the viewer, newest first.
func (s *ImpulseStore) ListVisible(ctx context.Context, viewer string, createdAfter int64) ([]impulse.Impulse, error) {
	var records []impulse.Impulse
	err := s.db.WithContext(ctx).
		Where("created_at_s > ? AND (is_ghost = ? OR owner = ?)", createdAfter, false, viewer).
		Order("created_at_s DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListExpired returns impulses created at or before the cutoff.
func (s *ImpulseStore) ListExpired(ctx context.Context, createdAtOrBefore int64) ([]impulse.Impulse, error) {
	var records []impulse.Impulse
	err := s.db.WithContext(ctx).
		Where("created_at_s <= ?", createdAtOrBefore).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RequestStore persists join requests through GORM.
type RequestStore struct {
	db *gorm.DB
}

// NewRequestStore wraps the database handle.
func NewRequestStore(db *gorm.DB) (*RequestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database handle is required")
	}
	return &RequestStore{db: db}, nil
}

// SaveRequest inserts or replaces the request row.
func (s *RequestStore) SaveRequest(ctx context.Context, record request.JoinRequest) error {
	return s.db.WithContext(ctx).Save(&record).Error
}

// GetRequest fetches one request by id.
func (s *RequestStore) GetRequest(ctx context.Context, id string) (*request.JoinRequest, error) {
	var record request.JoinRequest
	err := s.db.WithContext(ctx).Where("request_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, request.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindLatest returns the most recent request for the pair, or nil.
func (s *RequestStore) FindLatest(ctx context.Context, impulseID, requester string) (*request.JoinRequest, error) {
	var records []request.JoinRequest
	err := s.db.WithContext(ctx).
		Where("impulse_id = ? AND requester = ?", impulseID, requester).
		Order("created_at_s DESC, request_id DESC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// VenueStore reads and seeds the venue directory through GORM.
type VenueStore struct {
	db *gorm.DB
}

// NewVenueStore wraps the database handle.
func NewVenueStore(db *gorm.DB) (*VenueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database handle is required")
	}
	return &VenueStore{db: db}, nil
}

// Resolve returns the fixed coordinate of the referenced venue.
func (s *VenueStore) Resolve(ctx context.Context, venueID string) (geo.Coordinate, error) {
	var record venue.Venue
	err := s.db.WithContext(ctx).Where("venue_id = ?", venueID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return geo.Coordinate{}, venue.ErrVenueNotFound
	}
	if err != nil {
		return geo.Coordinate{}, err
	}
	return geo.Coordinate{Lat: record.Lat, Lng: record.Lng}, nil
}

// SaveVenue inserts or replaces a venue row; used by the venue CLI.
func (s *VenueStore) SaveVenue(ctx context.Context, record venue.Venue) error {
	return s.db.WithContext(ctx).Save(&record).Error
}
