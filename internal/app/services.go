package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/accessory"
	"github.com/dokzlo13/nexad/internal/config"
	"github.com/dokzlo13/nexad/internal/db"
	"github.com/dokzlo13/nexad/internal/ledger"
	"github.com/dokzlo13/nexad/internal/sequencer"
	"github.com/dokzlo13/nexad/internal/state"
	"github.com/dokzlo13/nexad/internal/transmitter"
)

// Options tweak how services are wired.
type Options struct {
	// ConfigPath enables hot reload when cfg.WatchConfig is set.
	ConfigPath string
	// DryRun replaces the transmitter script with an in-memory recorder.
	DryRun bool
	// Servers starts the control and health servers.
	Servers bool
	// ResetState forgets persisted target states before they are restored.
	ResetState bool
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	opts Options

	mu  sync.RWMutex
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *state.Store

	// Domain
	Registry    *accessory.Registry
	Monitor     *state.Monitor
	Transmitter transmitter.Transmitter
	Process     *transmitter.Process // nil in dry-run mode
	Sequencer   *sequencer.Sequencer

	// High-level services
	Control *ControlService
	Health  *HealthService
	Cleanup *LedgerCleanupService
	Reload  *ReloadService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, opts Options) (*Services, error) {
	s := &Services{cfg: cfg, opts: opts}

	accessories, err := cfg.BuildAccessories()
	if err != nil {
		return nil, fmt.Errorf("accessories: %w", err)
	}
	if len(accessories) == 0 {
		log.Warn().Msg("No accessories configured, every switch request will be rejected")
	}
	s.Registry = accessory.NewRegistry(accessories)
	s.Monitor = state.NewMonitor(s.Registry.Addresses())

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = state.NewStore(database.DB)

	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
	}

	if opts.ResetState {
		log.Info().Int("emitter_id", cfg.Transmitter.EmitterID).Msg("Clearing persisted target states")
		if err := s.ClearState(); err != nil {
			s.Close()
			return nil, fmt.Errorf("reset state: %w", err)
		}
	}

	if cfg.State.Persist {
		saved, err := s.Store.Load(cfg.Transmitter.EmitterID)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("restore state: %w", err)
		}
		restored := s.Monitor.Restore(saved)
		log.Info().Int("targets", restored).Msg("Restored persisted target states")
	}

	if opts.DryRun || cfg.Transmitter.DryRun {
		log.Warn().Msg("Dry run: bursts are recorded, the transmitter script is not executed")
		s.Transmitter = transmitter.NewRecorder(0)
	} else {
		s.Process = transmitter.NewProcess(transmitterSettings(cfg))
		s.Transmitter = s.Process
	}

	seqOpts := sequencer.Options{
		Window:      cfg.Debounce.Window.Duration(),
		MinInterval: cfg.Transmitter.MinInterval.Duration(),
	}
	if s.Ledger != nil {
		seqOpts.Ledger = s.Ledger
	}
	if cfg.State.Persist {
		seqOpts.Persist = s.persist
	}
	s.Sequencer = sequencer.New(s.Monitor, s.Transmitter, seqOpts)

	s.Health = NewHealthService(cfg, s.Sequencer)
	s.Control = NewControlService(cfg, s)
	if s.Ledger != nil {
		s.Cleanup = NewLedgerCleanupService(cfg, s.Ledger)
	}
	if cfg.WatchConfig && opts.ConfigPath != "" {
		s.Reload = NewReloadService(opts.ConfigPath, s)
	}

	return s, nil
}

// Config returns the currently applied configuration.
func (s *Services) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Services) persist(v state.StateVector) error {
	return s.Store.Save(s.Config().Transmitter.EmitterID, v)
}

// Start starts the background services.
func (s *Services) Start(ctx context.Context) error {
	if s.opts.Servers {
		s.Control.Start(ctx)
		s.Health.Start(ctx)
	}
	if s.Cleanup != nil {
		s.Cleanup.Start(ctx)
	}
	if s.Reload != nil {
		s.Reload.Start(ctx)
	}
	return nil
}

// ClearState forgets the persisted target states of the configured emitter.
func (s *Services) ClearState() error {
	return s.Store.Clear(s.Config().Transmitter.EmitterID)
}

// Stop flushes the sequencer and releases all resources.
func (s *Services) Stop() error {
	var err error
	if s.Sequencer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.Config().GetShutdownTimeout())
		err = s.Sequencer.Close(ctx)
		cancel()
	}
	s.Close()
	return err
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

func transmitterSettings(cfg *config.Config) transmitter.Settings {
	return transmitter.Settings{
		Script:         cfg.Transmitter.Script,
		TransmitterPin: cfg.Transmitter.Pin,
		EmitterID:      cfg.Transmitter.EmitterID,
		BroadcastArg:   cfg.Transmitter.BroadcastArg,
	}
}
