package state

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/radio"
)

// Store persists committed state vectors keyed by (emitter, address).
// Each save bumps the row version so stale snapshots are easy to spot.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a store on an already initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes every entry of v for the given emitter in one transaction.
func (s *Store) Save(emitterID int, v StateVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	stmt, err := tx.Prepare(`
		INSERT INTO target_state (emitter_id, address, state, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(emitter_id, address) DO UPDATE SET
			state = excluded.state,
			version = version + 1,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare state upsert: %w", err)
	}
	defer stmt.Close()

	for a, st := range v {
		if _, err := stmt.Exec(emitterID, int(a), st.String(), now); err != nil {
			return fmt.Errorf("failed to save state of target %s: %w", a, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug().Int("emitter_id", emitterID).Int("targets", len(v)).Msg("State vector persisted")
	return nil
}

// Load returns the persisted states for an emitter. Missing rows are simply absent.
func (s *Store) Load(emitterID int) (StateVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT address, state FROM target_state WHERE emitter_id = ?
	`, emitterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v := make(StateVector)
	for rows.Next() {
		var addr int
		var raw string
		if err := rows.Scan(&addr, &raw); err != nil {
			return nil, err
		}
		st, err := radio.ParseState(raw)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", addr, err)
		}
		v[radio.Address(addr)] = st
	}

	return v, rows.Err()
}

// Clear removes persisted state. If emitterID is 0, clears every emitter.
func (s *Store) Clear(emitterID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if emitterID == 0 {
		_, err = s.db.Exec(`DELETE FROM target_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM target_state WHERE emitter_id = ?`, emitterID)
	}
	return err
}
