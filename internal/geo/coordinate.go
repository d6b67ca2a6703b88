// Package geo provides the validated coordinate type shared by impulses and
// venues.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate indicates a latitude or longitude outside the valid range.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lng float64
}

// NewCoordinate validates the pair and returns a Coordinate.
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return Coordinate{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lng)
	}
	return Coordinate{Lat: lat, Lng: lng}, nil
}
