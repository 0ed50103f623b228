package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FireEvent is a spatio-temporal group of detections treated as one fire.
type FireEvent struct {
	ID           string    `json:"id"`
	DetectionIDs []string  `json:"detection_ids"`
	Geometry     []Point   `json:"geometry"` // closed counter-clockwise ring, may extend past ±180
	Centroid     Point     `json:"centroid"`
	FirstDay     time.Time `json:"first_day"`
	LastDay      time.Time `json:"last_day"`
	Sensors      []string  `json:"sensors,omitempty"`
}

// Span returns the time between the first and last day of the event.
func (e FireEvent) Span() time.Duration {
	return e.LastDay.Sub(e.FirstDay)
}

// EventID derives a stable identifier from member detection ids. The order of
// ids does not matter.
func EventID(detectionIDs []string) string {
	ids := append([]string(nil), detectionIDs...)
	sort.Strings(ids)
	hash := sha256.Sum256([]byte(strings.Join(ids, "|")))
	return "evt-" + hex.EncodeToString(hash[:8])
}

// CheckWindow validates a grouping window against the event duration bound.
// The window divides a day or is a whole number of days, and the bound is at
// least one window long.
func CheckWindow(window, maxDuration time.Duration) error {
	const day = 24 * time.Hour
	switch {
	case window <= 0:
		return fmt.Errorf("grouping window must be positive: %w", ErrConfig)
	case day%window != 0 && window%day != 0:
		return fmt.Errorf("grouping window %s must divide a day or be whole days: %w", window, ErrConfig)
	case maxDuration < 0, maxDuration < window-day:
		return fmt.Errorf("max event duration %s shorter than one window: %w", maxDuration, ErrConfig)
	}
	return nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
