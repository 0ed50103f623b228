package domain

import (
	"fmt"
	"math"
	"time"
)

// FireDetection is one active-fire point observation. Detections are owned by
// the store and never mutated here.
type FireDetection struct {
	ID         string    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AcquiredAt time.Time `json:"acquired_at"`
	Sensor     string    `json:"sensor"`

	// Pass-through product fields.
	Confidence string  `json:"confidence,omitempty"`
	Brightness float64 `json:"brightness,omitempty"`
	FRP        float64 `json:"frp,omitempty"`
}

// Validate reports why a detection cannot be grouped, wrapping ErrInvalidInput.
func (d FireDetection) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("detection has no id: %w", ErrInvalidInput)
	case math.IsNaN(d.Lat) || math.IsInf(d.Lat, 0) || d.Lat < -90 || d.Lat > 90:
		return fmt.Errorf("detection %s: latitude %v out of range: %w", d.ID, d.Lat, ErrInvalidInput)
	case math.IsNaN(d.Lon) || math.IsInf(d.Lon, 0) || d.Lon < -180 || d.Lon > 180:
		return fmt.Errorf("detection %s: longitude %v out of range: %w", d.ID, d.Lon, ErrInvalidInput)
	case d.AcquiredAt.IsZero():
		return fmt.Errorf("detection %s: missing acquisition time: %w", d.ID, ErrInvalidInput)
	}
	return nil
}

// Point returns the detection location.
func (d FireDetection) Point() Point {
	return Point{Lon: d.Lon, Lat: d.Lat}
}

// Rejected is a detection excluded from grouping, with the reason.
type Rejected struct {
	Detection FireDetection `json:"detection"`
	Reason    string        `json:"reason"`
}
