package geo

import (
	"errors"
	"math"
	"testing"
)

func TestNewCoordinateBounds(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{name: "moscow", lat: 55.75, lng: 37.61},
		{name: "lat-north-pole", lat: 90, lng: 0},
		{name: "lng-antimeridian", lat: 0, lng: -180},
		{name: "lat-too-high", lat: 90.01, lng: 0, wantErr: true},
		{name: "lat-too-low", lat: -91, lng: 0, wantErr: true},
		{name: "lng-too-high", lat: 0, lng: 180.5, wantErr: true},
		{name: "lat-nan", lat: math.NaN(), lng: 0, wantErr: true},
		{name: "lng-inf", lat: 0, lng: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinate, err := NewCoordinate(tt.lat, tt.lng)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCoordinate) {
					t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if coordinate.Lat != tt.lat || coordinate.Lng != tt.lng {
				t.Fatalf("coordinate mismatch: %#v", coordinate)
			}
		})
	}
}
