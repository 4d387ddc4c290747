// Package sequencer turns debounced batches of switch requests into
// transmitter bursts, one burst at a time.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/nexad/internal/debounce"
	"github.com/dokzlo13/nexad/internal/ledger"
	"github.com/dokzlo13/nexad/internal/optimize"
	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/state"
	"github.com/dokzlo13/nexad/internal/transmitter"
)

var (
	// ErrUnknownTarget is returned for valid addresses with no configured accessory.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("sequencer closed")
)

// Status is the sequencer's execution state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
)

// Ledger records the outcome of every closed batch.
type Ledger interface {
	Append(e ledger.Entry) error
}

// PersistFunc stores a committed state vector.
type PersistFunc func(v state.StateVector) error

// Options configures a Sequencer.
type Options struct {
	// Window is the debounce quiet period (default 1s).
	Window time.Duration
	// MinInterval is the minimum spacing between two bursts; 0 disables it.
	MinInterval time.Duration
	// Ledger is optional.
	Ledger Ledger
	// Persist is optional and called after every commit.
	Persist PersistFunc
}

// Stats counts what the sequencer has done since start.
type Stats struct {
	Submitted     int `json:"submitted"`
	Batches       int `json:"batches"`
	Deferred      int `json:"deferred"`
	Transmissions int `json:"transmissions"`
	Failures      int `json:"failures"`
	Commands      int `json:"commands"`
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	Status  Status            `json:"status"`
	Pending int               `json:"pending"`
	Window  time.Duration     `json:"window"`
	States  state.StateVector `json:"-"`
	Stats   Stats             `json:"stats"`
}

// Sequencer owns the state monitor and the debounce queue. When a window
// closes it optimizes the batch against the current state, commits the new
// state and hands the commands to the transmitter. At most one burst is in
// flight; a batch that closes meanwhile is put back in the queue.
type Sequencer struct {
	monitor *state.Monitor
	queue   *debounce.Queue
	tx      transmitter.Transmitter
	limiter *rate.Limiter
	ledger  Ledger
	persist PersistFunc

	mu        sync.Mutex
	executing bool
	closed    bool
	stats     Stats
}

// New creates a Sequencer. The queue starts empty and no timer runs until
// the first Submit.
func New(monitor *state.Monitor, tx transmitter.Transmitter, opts Options) *Sequencer {
	s := &Sequencer{
		monitor: monitor,
		tx:      tx,
		ledger:  opts.Ledger,
		persist: opts.Persist,
	}
	if opts.MinInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	s.queue = debounce.New(opts.Window, s.onWindowClosed)
	return s
}

// Submit validates the request and queues it. It never blocks on the
// transmitter; the outcome is only logged.
func (s *Sequencer) Submit(addr radio.Address, on bool) error {
	op := radio.Operation{Address: addr, On: on}
	if err := op.Validate(); err != nil {
		return err
	}
	if !s.monitor.Has(addr) {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, addr)
	}

	// Held across the enqueue so Close cannot slip in between.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pos, err := s.queue.Submit(op)
	if err != nil {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stats.Submitted++
	s.mu.Unlock()

	log.Debug().
		Stringer("address", addr).
		Str("state", radio.OnOff(on)).
		Int("position", pos).
		Dur("window", s.queue.Window()).
		Msg("Operation queued")
	return nil
}

// Flush closes the current window immediately instead of waiting for it.
func (s *Sequencer) Flush() {
	s.queue.Flush()
}

// SetWindow changes the debounce window for later submissions.
func (s *Sequencer) SetWindow(d time.Duration) {
	s.queue.SetWindow(d)
}

// Status returns the current execution state.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executing {
		return StatusExecuting
	}
	return StatusIdle
}

// Snapshot returns status, queue size, counters and the state vector.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Status: StatusIdle, Stats: s.stats}
	if s.executing {
		snap.Status = StatusExecuting
	}
	s.mu.Unlock()

	snap.Pending = s.queue.Pending()
	snap.Window = s.queue.Window()
	snap.States = s.monitor.Snapshot()
	return snap
}

// Wait blocks until nothing is queued or executing.
func (s *Sequencer) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.queue.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close sends whatever is still queued, waits for it to finish and stops
// accepting new operations.
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.queue.Flush()
	err := s.Wait(ctx)

	if left := s.queue.Close(); len(left) > 0 {
		log.Warn().
			Int("operations", len(left)).
			Strs("pending", operationStrings(left)).
			Msg("Sequencer closed with unsent operations")
	}
	return err
}

// onWindowClosed runs on the debounce timer goroutine.
func (s *Sequencer) onWindowClosed(batch radio.Batch) {
	s.mu.Lock()
	if s.executing {
		s.stats.Deferred++
		s.mu.Unlock()

		log.Debug().
			Int("operations", len(batch)).
			Msg("Transmission in progress, deferring batch")
		s.queue.Requeue(batch)
		return
	}
	s.executing = true
	s.stats.Batches++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.executing = false
		s.mu.Unlock()
	}()

	s.execute(batch)
}

func (s *Sequencer) execute(batch radio.Batch) {
	batchID := uuid.NewString()
	logger := log.With().Str("batch_id", batchID).Logger()

	prior := s.monitor.Snapshot()
	plan := optimize.Optimize(prior, batch)

	if len(plan.Ignored) > 0 {
		logger.Warn().
			Interface("addresses", plan.Ignored).
			Msg("Batch contains unconfigured targets, ignoring them")
	}
	if len(plan.Altered) > 0 && !plan.Consensus {
		logger.Debug().
			Interface("unaltered", plan.Unaltered).
			Msg("Unaltered targets disagree, addressing changed targets individually")
	}

	if plan.Empty() {
		logger.Info().
			Int("operations", len(batch)).
			Msg("Batch leaves every target unchanged, nothing to send")
		s.record(logger, ledger.Entry{
			EventType:  ledger.EventBatchSkipped,
			BatchID:    batchID,
			Operations: len(batch),
			Strategy:   string(plan.Strategy),
		})
		return
	}

	// Optimistic commit: the state reflects intent whether or not the
	// hardware confirms it.
	s.monitor.Commit(plan.NewState)
	if s.persist != nil {
		if err := s.persist(plan.NewState); err != nil {
			logger.Error().Err(err).Msg("Failed to persist state vector")
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Rate limiter wait failed")
		}
	}

	logger.Info().
		Int("operations", len(batch)).
		Int("altered", len(plan.Altered)).
		Str("strategy", string(plan.Strategy)).
		Float64("quota", plan.Quota).
		Strs("commands", plan.Commands.Strings()).
		Msg("Transmitting batch")

	// In-flight bursts are never cancelled.
	res, err := s.tx.Transmit(context.Background(), plan.Commands)

	entry := ledger.Entry{
		BatchID:    batchID,
		Operations: len(batch),
		Commands:   plan.Commands,
		Strategy:   string(plan.Strategy),
		ExitCode:   res.ExitCode,
		Duration:   res.Duration,
	}

	s.mu.Lock()
	s.stats.Transmissions++
	s.stats.Commands += len(plan.Commands)
	if err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		entry.EventType = ledger.EventTransmissionFailed
		entry.Error = err.Error()
		logger.Error().
			Err(err).
			Int("exit_code", res.ExitCode).
			Strs("commands", plan.Commands.Strings()).
			Msg("Transmission failed, state vector kept")
	} else {
		entry.EventType = ledger.EventTransmissionCompleted
		logger.Info().
			Dur("duration", res.Duration).
			Int("commands", len(plan.Commands)).
			Msg("Transmission completed")
	}
	s.record(logger, entry)
}

func (s *Sequencer) record(logger zerolog.Logger, e ledger.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(e); err != nil {
		logger.Error().Err(err).Msg("Failed to record batch in ledger")
	}
}

func operationStrings(b radio.Batch) []string {
	out := make([]string, len(b))
	for i, op := range b {
		out[i] = op.String()
	}
	return out
}
