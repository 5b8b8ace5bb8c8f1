package models

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Direction classifies the sign of a price delta.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// DirectionOf returns the direction for a signed delta.
// FLAT is returned only for an exactly zero delta.
func DirectionOf(delta float64) Direction {
	switch {
	case delta > 0:
		return DirectionUp
	case delta < 0:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// Magnitude tiers in percentage points, each inclusive of its lower bound.
// Advisory only: used for sound escalation and visual emphasis, never for
// filtering which moves get recorded.
var magnitudeTiers = [...]float64{0.5, 1.0, 5.0, 10.0, 20.0}

// MagnitudeTier returns the highest tier bound that maxMove reaches,
// or 0 when the move is below every tier.
func MagnitudeTier(maxMove float64) float64 {
	tier := 0.0
	for _, bound := range magnitudeTiers {
		if maxMove >= bound {
			tier = bound
		}
	}
	return tier
}

// Move is an immutable record of one market's price change between two
// consecutive scan cycles. Time carries the cycle timestamp shared by the
// whole batch, so moves from one cycle group and rank together downstream.
type Move struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	EventID     string    `json:"event_id"`
	EventTitle  string    `json:"event_title"`
	EventURL    string    `json:"event_link"`
	Question    string    `json:"question"`
	Time        time.Time `json:"time"`
	Yes         float64   `json:"yes"`
	No          float64   `json:"no"`
	YesDelta    float64   `json:"yd"`
	NoDelta     float64   `json:"nd"`
	YesDir      Direction `json:"ydir"`
	NoDir       Direction `json:"ndir"`
	MaxMove     float64   `json:"max_move"`
	Volume      float64   `json:"volume"`
	EventVolume float64   `json:"event_volume"`
}

// Validate checks move field constraints.
func (m *Move) Validate() error {
	if m.ID == "" {
		return errors.New("move ID must not be empty")
	}
	if m.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Time.IsZero() {
		return errors.New("move time must be set")
	}
	if m.MaxMove < 0 {
		return errors.New("max move must not be negative")
	}
	want := math.Max(math.Abs(m.YesDelta), math.Abs(m.NoDelta))
	if math.Abs(m.MaxMove-want) > 0.005 {
		return errors.New("max move must equal max(|yes delta|, |no delta|)")
	}
	if m.YesDir != DirectionOf(m.YesDelta) {
		return errors.New("yes direction must match the sign of yes delta")
	}
	if m.NoDir != DirectionOf(m.NoDelta) {
		return errors.New("no direction must match the sign of no delta")
	}
	return nil
}

// SortMoves orders a move feed for presentation: newest batch first, and
// within one batch by max move descending, ties broken by market volume
// descending.
func SortMoves(moves []Move) {
	sort.SliceStable(moves, func(i, j int) bool {
		if !moves[i].Time.Equal(moves[j].Time) {
			return moves[i].Time.After(moves[j].Time)
		}
		if moves[i].MaxMove != moves[j].MaxMove {
			return moves[i].MaxMove > moves[j].MaxMove
		}
		return moves[i].Volume > moves[j].Volume
	})
}
