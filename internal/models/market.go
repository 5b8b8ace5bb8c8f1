// Package models defines the core domain entities: markets, snapshots,
// price moves, and the scanner status record.
//
// Terminology (matching Polymarket's own naming):
//   - Event: a Polymarket event page, which groups one or more related markets.
//   - Market: a single yes/no question within an event. This is the unit we track.
//   - Move: a recorded price change for one market between two consecutive scans.
package models

import (
	"errors"
	"math"
	"time"
)

// Market is the last-observed state of a single yes/no market.
// Prices are percentage probabilities on a 0-100 scale, two-decimal precision.
type Market struct {
	ID          string  `json:"id"`
	Question    string  `json:"question"`
	EventID     string  `json:"event_id"`
	EventTitle  string  `json:"event_title"`
	EventURL    string  `json:"event_link"`
	Yes         float64 `json:"yes"`
	No          float64 `json:"no"`
	Volume      float64 `json:"volume"`
	EventVolume float64 `json:"event_volume"`
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if m.EventTitle == "" {
		return errors.New("event title must not be empty")
	}
	if m.Yes < 0.0 || m.Yes > 100.0 {
		return errors.New("yes price must be between 0 and 100")
	}
	if m.No < 0.0 || m.No > 100.0 {
		return errors.New("no price must be between 0 and 100")
	}
	if m.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if m.EventVolume < 0 {
		return errors.New("event volume must not be negative")
	}
	return nil
}

// Snapshot maps market ID to its last-observed state. Exactly one snapshot
// is live at a time; the scanner replaces it wholesale at the end of each
// cycle, so markets absent from a fetch do not survive a full cycle.
type Snapshot struct {
	TakenAt time.Time         `json:"taken_at"`
	Markets map[string]Market `json:"markets"`
}

// NewSnapshot returns an empty snapshot stamped with the given cycle time.
func NewSnapshot(takenAt time.Time) *Snapshot {
	return &Snapshot{TakenAt: takenAt, Markets: make(map[string]Market)}
}

// Round2 rounds a price or delta to the two-decimal precision used
// throughout the pipeline.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
