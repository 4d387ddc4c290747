package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/config"
)

// ReloadService applies config file changes that are safe at runtime:
// the debounce window and the transmitter script, pin and broadcast argument.
// Everything else, including the emitter id, needs a restart.
type ReloadService struct {
	services *Services
	watcher  *config.Watcher
}

// NewReloadService creates a new ReloadService watching path.
func NewReloadService(path string, s *Services) *ReloadService {
	r := &ReloadService{services: s}
	r.watcher = config.NewWatcher(path, r.Apply)
	return r
}

// Start runs the file watcher until ctx is cancelled.
func (r *ReloadService) Start(ctx context.Context) {
	go func() {
		if err := r.watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Config watcher stopped")
		}
	}()
}

// Apply switches the running services over to next.
func (r *ReloadService) Apply(next *config.Config) {
	s := r.services

	s.mu.Lock()
	prev := s.cfg
	merged := *prev
	merged.Transmitter = next.Transmitter
	merged.Debounce = next.Debounce
	// Persisted and monitored states belong to the running emitter.
	merged.Transmitter.EmitterID = prev.Transmitter.EmitterID
	s.cfg = &merged
	s.mu.Unlock()

	if next.Transmitter.EmitterID != prev.Transmitter.EmitterID {
		log.Warn().
			Int("running", prev.Transmitter.EmitterID).
			Int("configured", next.Transmitter.EmitterID).
			Msg("transmitter.emitter_id changes take effect after restart")
	}

	if next.Debounce.Window != prev.Debounce.Window {
		s.Sequencer.SetWindow(next.Debounce.Window.Duration())
		log.Info().
			Dur("from", prev.Debounce.Window.Duration()).
			Dur("to", next.Debounce.Window.Duration()).
			Msg("Debounce window changed")
	}

	if s.Process != nil {
		settings := transmitterSettings(&merged)
		if settings != s.Process.Settings() {
			s.Process.SetSettings(settings)
			log.Info().
				Str("script", settings.Script).
				Int("pin", settings.TransmitterPin).
				Int("emitter_id", settings.EmitterID).
				Msg("Transmitter settings changed")
		}
	}

	if next.Transmitter.MinInterval != prev.Transmitter.MinInterval {
		log.Warn().Msg("transmitter.min_interval changes take effect after restart")
	}
}
