// Package state persists the last announced breach state across
// restarts. Writes are atomic (temp file, fsync, rename) and corrupt
// files are quarantined rather than deleted, so startup never fails on
// bad state.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const schemaVersion = 1

// ErrWriteFailed wraps persistence write failures. Callers keep the
// in-memory state authoritative and retry on the next cycle.
var ErrWriteFailed = errors.New("state: write failed")

type fileInstrument struct {
	LastAnnounced string `json:"last_announced"`
	Armed         string `json:"armed"`
}

type fileSchema struct {
	SchemaVersion int                       `json:"schema_version"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Instruments   map[string]fileInstrument `json:"instruments"`
}

// Store reads and writes the breach state file. It is the only component
// allowed to touch the backing file; a mutex makes it a single logical
// writer.
type Store struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewStore constructs a store for the given file path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "state_store").Logger(),
		now:    time.Now,
	}
}

// Load reads the persisted breach state. A missing file means first run.
// An unparseable file is renamed to a quarantine name and replaced by an
// empty state; this never returns an error for corruption.
func (s *Store) Load() (market.BreachState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("no persisted state, starting empty")
			return market.NewBreachState(), nil
		}
		return market.BreachState{}, fmt.Errorf("read state file: %w", err)
	}

	var file fileSchema
	if err := json.Unmarshal(data, &file); err != nil {
		s.quarantine(err)
		return market.NewBreachState(), nil
	}
	if file.SchemaVersion > schemaVersion {
		s.quarantine(fmt.Errorf("unsupported schema version %d", file.SchemaVersion))
		return market.NewBreachState(), nil
	}

	state := market.NewBreachState()
	state.UpdatedAt = file.UpdatedAt
	for name, fi := range file.Instruments {
		last, err := decimal.NewFromString(fi.LastAnnounced)
		if err != nil || !last.IsPositive() {
			s.logger.Warn().Str("instrument", name).Str("last_announced", fi.LastAnnounced).
				Msg("dropping instrument with invalid last announced value")
			continue
		}
		state.Instruments[market.Instrument(name)] = market.InstrumentState{
			LastAnnounced: last,
			Armed:         parseDirection(fi.Armed),
		}
	}

	s.logger.Info().Int("instruments", len(state.Instruments)).
		Time("updated_at", state.UpdatedAt).Msg("state loaded")
	return state, nil
}

// Save atomically persists the breach state: write to a temp file in the
// same directory, fsync, then rename over the canonical path. A crash
// mid-write leaves the previous state intact.
func (s *Store) Save(state market.BreachState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := fileSchema{
		SchemaVersion: schemaVersion,
		UpdatedAt:     state.UpdatedAt,
		Instruments:   make(map[string]fileInstrument, len(state.Instruments)),
	}
	if file.UpdatedAt.IsZero() {
		file.UpdatedAt = s.now().UTC()
	}
	for inst, st := range state.Instruments {
		file.Instruments[string(inst)] = fileInstrument{
			LastAnnounced: st.LastAnnounced.String(),
			Armed:         string(st.Armed),
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrWriteFailed, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: ensure dir: %v", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp: %v", ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp: %v", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrWriteFailed, err)
	}

	s.logger.Debug().Int("instruments", len(state.Instruments)).Msg("state persisted")
	return nil
}

// quarantine renames the corrupt state file so it stays retrievable for
// inspection while the engine restarts from an empty state.
func (s *Store) quarantine(cause error) {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to quarantine corrupt state file")
		return
	}
	s.logger.Warn().Err(cause).Str("path", s.path).Str("quarantined_as", dst).
		Msg("state file corrupt, quarantined and starting empty")
}

func parseDirection(v string) market.Direction {
	switch market.Direction(v) {
	case market.DirectionUp:
		return market.DirectionUp
	case market.DirectionDown:
		return market.DirectionDown
	default:
		return market.DirectionNone
	}
}
