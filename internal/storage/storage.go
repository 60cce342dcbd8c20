// Package storage keeps an on-disk copy of the position book so a restart
// can restore what the broker cannot tell us: strategy tags, pyramid
// levels, leaders and high-water marks.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"intraday_trader/internal/logger"
	"intraday_trader/internal/models"
)

const SchemaVersion = "1"

// Snapshot is the file layout. Candle memory is not persisted; it rebuilds
// from live quotes within one bucket.
type Snapshot struct {
	Version   string            `json:"version"`
	SavedAt   time.Time         `json:"saved_at"`
	Positions []models.Position `json:"positions"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot. A missing file is an empty book, not an error.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("State file %s missing, starting with an empty book", s.path)
		return Snapshot{Version: SchemaVersion}, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("decode state: %w", err)
	}
	if normalize(&snap) {
		logger.Infof("State file normalized to version %s", snap.Version)
	}
	return snap, nil
}

// normalize repairs snapshots written by older builds or by hand. It
// reports whether anything changed.
func normalize(s *Snapshot) bool {
	updated := false
	kept := s.Positions[:0]
	for _, p := range s.Positions {
		if p.Symbol == "" || p.Qty <= 0 {
			updated = true
			continue
		}
		if !p.ReferencePrice.IsPositive() {
			p.ReferencePrice = p.AvgPrice
			updated = true
		}
		if p.PyramidLevel < 0 {
			p.PyramidLevel = 0
			updated = true
		}
		kept = append(kept, p)
	}
	s.Positions = kept
	if s.Version != SchemaVersion {
		s.Version = SchemaVersion
		updated = true
	}
	return updated
}

// Save writes the snapshot atomically: temp file, fsync, rename.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = SchemaVersion
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp state: %w", err)
	}
	// close before rename for Windows
	f.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
