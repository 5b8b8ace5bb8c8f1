// Package scanner drives the fetch, diff, and persist cycle on a fixed interval.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/polyterminal/internal/diff"
	"github.com/rewired-gh/polyterminal/internal/logger"
	"github.com/rewired-gh/polyterminal/internal/models"
	"github.com/rewired-gh/polyterminal/internal/polymarket"
	"github.com/rewired-gh/polyterminal/internal/storage"
)

// Fetcher supplies the complete current universe of events.
type Fetcher interface {
	FetchAllEvents(ctx context.Context) ([]polymarket.Event, error)
}

// Notifier pushes notable move batches and cycle health to an external
// channel. May be absent; the scanner works without one.
type Notifier interface {
	SendMoves(trigger *models.SoundTrigger, moves []models.Move) error
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// Scanner states. Exactly one cycle runs at a time: a cycle always runs to
// completion or exhausted-retry failure, then the scanner returns to idle.
const (
	stateIdle int32 = iota
	stateScanning
)

// ErrScanInProgress is returned when a cycle is requested while one is
// already running.
var ErrScanInProgress = errors.New("scan already in progress")

// Config tunes the scan loop.
type Config struct {
	Interval   time.Duration
	NotifyTopK int
}

// Scanner owns the previous-snapshot state and runs the pipeline. It is the
// single writer of the store; the serving layer only ever reads.
type Scanner struct {
	fetcher    Fetcher
	store      *storage.Storage
	engine     *diff.Engine
	notifier   Notifier
	interval   time.Duration
	notifyTopK int

	state atomic.Int32

	// Owned by the running cycle; never touched by readers.
	prev                *models.Snapshot
	lastScan            time.Time
	consecutiveFailures int
}

// New creates a scanner. notifier may be nil.
func New(fetcher Fetcher, store *storage.Storage, notifier Notifier, cfg Config) *Scanner {
	if cfg.NotifyTopK <= 0 {
		cfg.NotifyTopK = 10
	}
	return &Scanner{
		fetcher:    fetcher,
		store:      store,
		engine:     diff.New(diff.Config{}),
		notifier:   notifier,
		interval:   cfg.Interval,
		notifyTopK: cfg.NotifyTopK,
	}
}

// Run restores persisted state, runs an initial cycle immediately, then
// cycles on every tick until ctx is cancelled. A failed cycle never stops
// the loop; the next tick proceeds normally.
func (s *Scanner) Run(ctx context.Context) {
	s.restore()

	if err := s.store.SetStatus(models.Status{State: "starting scan", LastScan: s.lastScan}); err != nil {
		logger.Warn("Failed to write startup status: %v", err)
	}

	logger.Info("Scan loop started (interval: %v)", s.interval)
	s.handleCycleResult(s.RunCycle(ctx))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scan loop stopped")
			return
		case <-ticker.C:
			s.handleCycleResult(s.RunCycle(ctx))
		}
	}
}

// restore reloads the last persisted snapshot and status so a restart
// diffs against the pre-restart baseline instead of re-seeding.
func (s *Scanner) restore() {
	snap, err := s.store.LoadSnapshot()
	if err != nil {
		logger.Warn("Failed to load persisted snapshot: %v", err)
	} else if snap != nil {
		s.prev = snap
		logger.Info("Restored snapshot with %d markets from %v", len(snap.Markets), snap.TakenAt)
	}
	status, err := s.store.GetStatus()
	if err != nil {
		logger.Warn("Failed to load persisted status: %v", err)
	} else if status != nil {
		s.lastScan = status.LastScan
	}
}

// RunCycle executes one full scan cycle. On fetch or persist
// failure the previous snapshot and the move history stay untouched and
// the status record carries the failure reason.
func (s *Scanner) RunCycle(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateIdle, stateScanning) {
		return ErrScanInProgress
	}
	defer s.state.Store(stateIdle)

	now := time.Now()

	events, err := s.fetcher.FetchAllEvents(ctx)
	if err != nil {
		s.writeErrorStatus(fmt.Errorf("fetch failed: %w", err))
		return fmt.Errorf("fetch failed: %w", err)
	}

	next, batch := s.engine.Diff(s.prev, events, now)
	trigger := models.SoundTriggerFor(diff.BatchPeak(batch))

	status := models.Status{
		State:        fmt.Sprintf("updated %d markets", len(next.Markets)),
		LastScan:     now,
		SoundTrigger: trigger,
	}
	if err := s.store.SaveCycle(next, batch, status); err != nil {
		// Transaction rolled back: report the cycle as failed rather
		// than success with partial persistence.
		s.writeErrorStatus(fmt.Errorf("persist failed: %w", err))
		return fmt.Errorf("persist failed: %w", err)
	}

	s.prev = next
	s.lastScan = now
	logger.Info("Scanned %d markets, recorded %d moves", len(next.Markets), len(batch))

	if trigger != nil && trigger.Level == models.SoundHigh && s.notifier != nil {
		top := make([]models.Move, len(batch))
		copy(top, batch)
		models.SortMoves(top)
		if len(top) > s.notifyTopK {
			top = top[:s.notifyTopK]
		}
		if err := s.notifier.SendMoves(trigger, top); err != nil {
			logger.Warn("Failed to send move notification: %v", err)
		}
	}

	return nil
}

// Scanning reports whether a cycle is currently in progress.
func (s *Scanner) Scanning() bool {
	return s.state.Load() == stateScanning
}

func (s *Scanner) writeErrorStatus(cycleErr error) {
	status := models.Status{
		State:    "scan failed",
		LastScan: s.lastScan, // preserved: readers can still compute staleness
		Err:      cycleErr.Error(),
	}
	if err := s.store.SetStatus(status); err != nil {
		logger.Error("Failed to write error status: %v", err)
	}
}

func (s *Scanner) handleCycleResult(err error) {
	if err != nil {
		s.consecutiveFailures++
		logger.Error("Scan cycle failed: %v", err)
		if s.consecutiveFailures == 1 && s.notifier != nil {
			if sendErr := s.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if s.consecutiveFailures > 0 && s.notifier != nil {
		if sendErr := s.notifier.SendRecovery(s.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	s.consecutiveFailures = 0
}
