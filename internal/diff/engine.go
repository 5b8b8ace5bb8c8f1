// Package diff computes price deltas between consecutive scan cycles and
// turns significant changes into move records.
package diff

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyterminal/internal/logger"
	"github.com/rewired-gh/polyterminal/internal/models"
	"github.com/rewired-gh/polyterminal/internal/polymarket"
)

// Config tunes the engine.
type Config struct {
	// MinEmit is the minimum max-move (percentage points) a change must
	// exceed before a move record is emitted. Zero means any nonzero
	// delta qualifies; display filtering is a downstream concern.
	MinEmit float64
}

// Engine diffs a fetch result against the previous snapshot.
type Engine struct {
	minEmit float64
}

// New creates a diff engine.
func New(cfg Config) *Engine {
	return &Engine{minEmit: cfg.MinEmit}
}

// Diff compares the freshly fetched events against the previous snapshot
// and returns the replacement snapshot plus the moves detected this cycle.
// Every move in the batch carries the shared cycle timestamp now.
//
// Rules, per market:
//   - first sighting: recorded into the new snapshot, no move (no baseline);
//   - malformed prices: skipped for this cycle, but the last good entry is
//     retained so a later recovery does not fake a large move;
//   - absent from the fetch entirely: dropped from the snapshot.
func (e *Engine) Diff(prev *models.Snapshot, events []polymarket.Event, now time.Time) (*models.Snapshot, []models.Move) {
	next := models.NewSnapshot(now)
	var moves []models.Move
	malformed := 0

	for _, ev := range events {
		if len(ev.Markets) == 0 {
			continue
		}
		eventURL := polymarket.EventURL(ev)

		for _, raw := range ev.Markets {
			yes, no, err := polymarket.ParsePrices(raw.OutcomePrices)
			if err != nil {
				malformed++
				if prev != nil {
					if last, ok := prev.Markets[raw.ID]; ok {
						next.Markets[raw.ID] = last
					}
				}
				continue
			}

			cur := models.Market{
				ID:          raw.ID,
				Question:    raw.Question,
				EventID:     ev.ID,
				EventTitle:  ev.Title,
				EventURL:    eventURL,
				Yes:         yes,
				No:          no,
				Volume:      raw.Volume,
				EventVolume: ev.Volume,
			}
			next.Markets[raw.ID] = cur

			if prev == nil {
				continue
			}
			last, ok := prev.Markets[raw.ID]
			if !ok {
				continue
			}

			yd := models.Round2(yes - last.Yes)
			nd := models.Round2(no - last.No)
			maxMove := math.Max(math.Abs(yd), math.Abs(nd))
			if maxMove <= e.minEmit || maxMove == 0 {
				continue
			}

			moves = append(moves, models.Move{
				ID:          uuid.NewString(),
				MarketID:    raw.ID,
				EventID:     ev.ID,
				EventTitle:  ev.Title,
				EventURL:    eventURL,
				Question:    raw.Question,
				Time:        now,
				Yes:         yes,
				No:          no,
				YesDelta:    yd,
				NoDelta:     nd,
				YesDir:      models.DirectionOf(yd),
				NoDir:       models.DirectionOf(nd),
				MaxMove:     maxMove,
				Volume:      raw.Volume,
				EventVolume: ev.Volume,
			})
		}
	}

	if malformed > 0 {
		logger.Debug("Skipped %d markets with malformed prices this cycle", malformed)
	}

	return next, moves
}

// BatchPeak returns the largest max-move in a batch, or 0 for an empty one.
func BatchPeak(moves []models.Move) float64 {
	peak := 0.0
	for _, m := range moves {
		if m.MaxMove > peak {
			peak = m.MaxMove
		}
	}
	return peak
}
