// Package telem provides short-term detection history and event logging,
// with optional SQLite persistence for post-hoc analysis.
package telem

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/floorsense/floorsense/pkg"
)

// Event types recorded by the store.
const (
	EventDetection    = "detection"
	EventCalibration  = "calibration"
	EventSessionStart = "session_start"
	EventSessionStop  = "session_stop"
	EventError        = "error"
)

// Sample is one detection outcome together with the calibration it was
// computed under.
type Sample struct {
	Timestamp   time.Time         `json:"timestamp"`
	Estimate    pkg.FloorEstimate `json:"estimate"`
	SeaLevelHPa float64           `json:"sea_level_hpa"`
}

// Event is a system event (calibrations, session transitions, errors).
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Config bounds the in-memory history. DBPath, when set, additionally
// persists samples and events to SQLite.
type Config struct {
	MaxSamples int    `yaml:"max_samples"`
	MaxEvents  int    `yaml:"max_events"`
	DBPath     string `yaml:"db_path"`
}

// Store holds bounded in-memory telemetry with optional persistence.
type Store struct {
	mu         sync.RWMutex
	samples    []Sample
	events     []Event
	maxSamples int
	maxEvents  int
	db         *sql.DB
}

// NewStore creates a store. Limits default when non-positive.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1000
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 500
	}
	s := &Store{
		samples:    make([]Sample, 0, cfg.MaxSamples),
		events:     make([]Event, 0, cfg.MaxEvents),
		maxSamples: cfg.MaxSamples,
		maxEvents:  cfg.MaxEvents,
	}
	if cfg.DBPath != "" {
		db, err := sql.Open("sqlite3", cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open telemetry db: %w", err)
		}
		if err := initSchema(db); err != nil {
			db.Close()
			return nil, err
		}
		s.db = db
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS samples (
	ts            INTEGER NOT NULL,
	floor         INTEGER NOT NULL,
	altitude_m    REAL    NOT NULL,
	confidence    REAL    NOT NULL,
	method        TEXT    NOT NULL,
	motion        TEXT,
	error         TEXT,
	sea_level_hpa REAL    NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	ts      INTEGER NOT NULL,
	type    TEXT    NOT NULL,
	message TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init telemetry schema: %w", err)
	}
	return nil
}

// Close releases the persistence handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AddSample appends a detection sample, trimming the oldest beyond the
// bound.
func (s *Store) AddSample(sample Sample) error {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	if len(s.samples) > s.maxSamples {
		copy(s.samples, s.samples[len(s.samples)-s.maxSamples:])
		s.samples = s.samples[:s.maxSamples]
	}
	db := s.db
	s.mu.Unlock()

	if db != nil {
		_, err := db.Exec(
			`INSERT INTO samples (ts, floor, altitude_m, confidence, method, motion, error, sea_level_hpa)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sample.Timestamp.UnixMilli(),
			sample.Estimate.Floor,
			sample.Estimate.AltitudeM,
			sample.Estimate.Confidence,
			sample.Estimate.Method,
			sample.Estimate.Motion,
			sample.Estimate.Err,
			sample.SeaLevelHPa,
		)
		if err != nil {
			return fmt.Errorf("persist sample: %w", err)
		}
	}
	return nil
}

// AddEvent appends a system event, trimming the oldest beyond the bound.
func (s *Store) AddEvent(event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		copy(s.events, s.events[len(s.events)-s.maxEvents:])
		s.events = s.events[:s.maxEvents]
	}
	db := s.db
	s.mu.Unlock()

	if db != nil {
		_, err := db.Exec(`INSERT INTO events (ts, type, message) VALUES (?, ?, ?)`,
			event.Timestamp.UnixMilli(), event.Type, event.Message)
		if err != nil {
			return fmt.Errorf("persist event: %w", err)
		}
	}
	return nil
}

// Samples returns up to limit of the most recent samples, newest last. A
// non-positive limit returns everything retained.
func (s *Store) Samples(limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit >= len(s.samples) {
		out := make([]Sample, len(s.samples))
		copy(out, s.samples)
		return out
	}
	out := make([]Sample, limit)
	copy(out, s.samples[len(s.samples)-limit:])
	return out
}

// RecentSamples returns samples newer than the given age.
func (s *Store) RecentSamples(since time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-since)
	var out []Sample
	for _, sample := range s.samples {
		if sample.Timestamp.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// Events returns up to limit of the most recent events, newest last.
func (s *Store) Events(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit >= len(s.events) {
		out := make([]Event, len(s.events))
		copy(out, s.events)
		return out
	}
	out := make([]Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}
