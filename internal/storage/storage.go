// Package storage provides SQLite-backed persistence for the scan pipeline:
// the live snapshot, the rolling move history, and the status record.
//
// Discipline is single-writer, many-reader. The scanner is the only caller
// of the mutating operations and calls them sequentially within one cycle;
// the serving layer reads concurrently. Each cycle is published in one
// transaction, so a reader always observes either the pre-cycle or the
// fully written post-cycle state, never a mix.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polyterminal/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	retention time.Duration
	maxMoves  int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polyterminal/data.db.
// Moves older than retention, and beyond the newest maxMoves, are pruned
// on every append.
func New(dbPath string, retention time.Duration, maxMoves int) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polyterminal", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, retention: retention, maxMoves: maxMoves}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot (
			market_id    TEXT PRIMARY KEY,
			question     TEXT,
			event_id     TEXT NOT NULL,
			event_title  TEXT NOT NULL,
			event_url    TEXT,
			yes          REAL NOT NULL,
			no           REAL NOT NULL,
			volume       REAL NOT NULL DEFAULT 0,
			event_volume REAL NOT NULL DEFAULT 0,
			taken_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS moves (
			id           TEXT PRIMARY KEY,
			market_id    TEXT NOT NULL,
			event_id     TEXT,
			event_title  TEXT,
			event_url    TEXT,
			question     TEXT,
			observed_at  INTEGER NOT NULL,
			yes          REAL NOT NULL,
			no           REAL NOT NULL,
			yes_delta    REAL NOT NULL,
			no_delta     REAL NOT NULL,
			yes_dir      TEXT NOT NULL,
			no_dir       TEXT NOT NULL,
			max_move     REAL NOT NULL,
			volume       REAL NOT NULL DEFAULT 0,
			event_volume REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_moves_observed_at ON moves(observed_at)`,
		`CREATE TABLE IF NOT EXISTS status (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			state           TEXT NOT NULL,
			last_scan       INTEGER NOT NULL,
			error           TEXT NOT NULL DEFAULT '',
			sound_level     TEXT,
			sound_magnitude REAL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCycle publishes one completed scan cycle: it replaces the snapshot
// wholesale, appends the cycle's moves, prunes stale history, and
// overwrites the status record, all in a single transaction.
func (s *Storage) SaveCycle(snap *models.Snapshot, moves []models.Move, status models.Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM snapshot`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	for _, m := range snap.Markets {
		if _, err := tx.Exec(`
			INSERT INTO snapshot
				(market_id, question, event_id, event_title, event_url,
				 yes, no, volume, event_volume, taken_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.Question, m.EventID, m.EventTitle, m.EventURL,
			m.Yes, m.No, m.Volume, m.EventVolume, snap.TakenAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert snapshot market: %w", err)
		}
	}

	for _, mv := range moves {
		if _, err := tx.Exec(`
			INSERT INTO moves
				(id, market_id, event_id, event_title, event_url, question,
				 observed_at, yes, no, yes_delta, no_delta, yes_dir, no_dir,
				 max_move, volume, event_volume)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			mv.ID, mv.MarketID, mv.EventID, mv.EventTitle, mv.EventURL, mv.Question,
			mv.Time.UnixNano(), mv.Yes, mv.No, mv.YesDelta, mv.NoDelta,
			string(mv.YesDir), string(mv.NoDir),
			mv.MaxMove, mv.Volume, mv.EventVolume,
		); err != nil {
			return fmt.Errorf("failed to insert move: %w", err)
		}
	}

	cutoff := snap.TakenAt.Add(-s.retention).UnixNano()
	if _, err := tx.Exec(`DELETE FROM moves WHERE observed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune moves: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM moves WHERE id NOT IN (
			SELECT id FROM moves ORDER BY observed_at DESC LIMIT ?
		)`, s.maxMoves); err != nil {
		return fmt.Errorf("failed to enforce move cap: %w", err)
	}

	if err := upsertStatus(tx, status); err != nil {
		return err
	}

	return tx.Commit()
}

// SetStatus overwrites the status record on its own, outside a cycle
// publish. Used at startup and for failed cycles, where snapshot and
// history must stay untouched.
func (s *Storage) SetStatus(status models.Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := upsertStatus(tx, status); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertStatus(tx *sql.Tx, status models.Status) error {
	var level sql.NullString
	var magnitude sql.NullFloat64
	if status.SoundTrigger != nil {
		level = sql.NullString{String: status.SoundTrigger.Level, Valid: true}
		magnitude = sql.NullFloat64{Float64: status.SoundTrigger.Magnitude, Valid: true}
	}
	var lastScan int64
	if !status.LastScan.IsZero() {
		lastScan = status.LastScan.UnixNano()
	}
	if _, err := tx.Exec(`
		INSERT INTO status (id, state, last_scan, error, sound_level, sound_magnitude)
		VALUES (1,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, last_scan=excluded.last_scan, error=excluded.error,
			sound_level=excluded.sound_level, sound_magnitude=excluded.sound_magnitude`,
		status.State, lastScan, status.Err, level, magnitude,
	); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

// GetStatus returns the latest status record, or nil when nothing has ever
// been written ("no data yet" is not an error).
func (s *Storage) GetStatus() (*models.Status, error) {
	row := s.db.QueryRow(`SELECT state, last_scan, error, sound_level, sound_magnitude FROM status WHERE id = 1`)

	var st models.Status
	var lastScan int64
	var level sql.NullString
	var magnitude sql.NullFloat64
	err := row.Scan(&st.State, &lastScan, &st.Err, &level, &magnitude)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	if lastScan != 0 {
		st.LastScan = time.Unix(0, lastScan)
	}
	if level.Valid {
		st.SoundTrigger = &models.SoundTrigger{Level: level.String, Magnitude: magnitude.Float64}
	}
	return &st, nil
}

// LoadSnapshot returns the live snapshot, or nil when no cycle has ever
// been persisted.
func (s *Storage) LoadSnapshot() (*models.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT market_id, question, event_id, event_title, event_url,
		       yes, no, volume, event_volume, taken_at
		FROM snapshot`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var snap *models.Snapshot
	for rows.Next() {
		var m models.Market
		var takenAt int64
		if err := rows.Scan(
			&m.ID, &m.Question, &m.EventID, &m.EventTitle, &m.EventURL,
			&m.Yes, &m.No, &m.Volume, &m.EventVolume, &takenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot market: %w", err)
		}
		if snap == nil {
			snap = models.NewSnapshot(time.Unix(0, takenAt))
		}
		snap.Markets[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

// RecentMoves returns every retained move observed within the window,
// newest first. Ranking within a batch is the serving layer's concern.
func (s *Storage) RecentMoves(window time.Duration) ([]models.Move, error) {
	cutoff := time.Now().Add(-window).UnixNano()
	rows, err := s.db.Query(`
		SELECT id, market_id, event_id, event_title, event_url, question,
		       observed_at, yes, no, yes_delta, no_delta, yes_dir, no_dir,
		       max_move, volume, event_volume
		FROM moves WHERE observed_at >= ?
		ORDER BY observed_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query moves: %w", err)
	}
	defer rows.Close()

	moves := []models.Move{}
	for rows.Next() {
		var mv models.Move
		var observedAt int64
		var yesDir, noDir string
		if err := rows.Scan(
			&mv.ID, &mv.MarketID, &mv.EventID, &mv.EventTitle, &mv.EventURL, &mv.Question,
			&observedAt, &mv.Yes, &mv.No, &mv.YesDelta, &mv.NoDelta, &yesDir, &noDir,
			&mv.MaxMove, &mv.Volume, &mv.EventVolume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}
		mv.Time = time.Unix(0, observedAt)
		mv.YesDir = models.Direction(yesDir)
		mv.NoDir = models.Direction(noDir)
		moves = append(moves, mv)
	}
	return moves, rows.Err()
}
