// Package venue holds the read-only directory of fixed places an impulse
// may be bound to. Binding to a venue pins the impulse to the venue's
// coordinate instead of a caller-supplied one.
package venue

import "errors"

// ErrVenueNotFound is returned by directories when no venue matches the reference.
var ErrVenueNotFound = errors.New("venue: not found")

// Venue models a persisted place.
type Venue struct {
	VenueID string  `gorm:"column:venue_id;primaryKey;size:190;not null"`
	Name    string  `gorm:"column:name;size:190;not null"`
	Lat     float64 `gorm:"column:lat;not null"`
	Lng     float64 `gorm:"column:lng;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Venue) TableName() string {
	return "venues"
}
