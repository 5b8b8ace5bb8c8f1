package models

import "time"

// Sound trigger levels, escalating with the batch peak magnitude.
const (
	SoundLow    = "low"
	SoundMedium = "medium"
	SoundHigh   = "high"
)

// SoundTrigger tells the dashboard to play an alert sound for the most
// recent cycle. Cycle-scoped: it is replaced (or cleared) every scan, so
// a reader that was not watching gets no backlog of triggers.
type SoundTrigger struct {
	Level     string  `json:"level"`
	Magnitude float64 `json:"magnitude"`
}

// SoundTriggerFor maps the peak max-move of a batch to a trigger, or nil
// when the peak does not clear the lowest alert threshold (0.3).
func SoundTriggerFor(magnitude float64) *SoundTrigger {
	switch {
	case magnitude > 5:
		return &SoundTrigger{Level: SoundHigh, Magnitude: magnitude}
	case magnitude > 1:
		return &SoundTrigger{Level: SoundMedium, Magnitude: magnitude}
	case magnitude > 0.3:
		return &SoundTrigger{Level: SoundLow, Magnitude: magnitude}
	default:
		return nil
	}
}

// Status is the singleton record describing the scanner's current state.
// Overwritten once per cycle; readers only ever see the latest value.
//
// LastScan is the timestamp of the last *successful* scan. A failed cycle
// updates State and Err but leaves LastScan alone, so the dashboard can
// tell "fresh data" from "data is stale because of an upstream error".
type Status struct {
	State        string        `json:"status"`
	LastScan     time.Time     `json:"last_update"`
	Err          string        `json:"error,omitempty"`
	SoundTrigger *SoundTrigger `json:"sound_trigger,omitempty"`
}
