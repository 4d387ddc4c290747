package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/config"
	"github.com/dokzlo13/nexad/internal/control"
)

// ControlService wraps the control API HTTP server.
type ControlService struct {
	cfg    *config.Config
	server *control.Server
}

// NewControlService creates a new ControlService.
func NewControlService(cfg *config.Config, s *Services) *ControlService {
	var history control.History
	if s.Ledger != nil {
		history = s.Ledger
	}

	platform := func() control.Platform {
		current := s.Config()
		return control.Platform{
			Name:           "nexad",
			TransmitterPin: current.Transmitter.Pin,
			EmitterID:      current.Transmitter.EmitterID,
			Window:         current.Debounce.Window.Duration(),
		}
	}

	server := control.NewServer(cfg.Control.Host, cfg.Control.Port, s.Sequencer, s.Registry, history, platform)
	return &ControlService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the control server if enabled.
func (s *ControlService) Start(ctx context.Context) {
	if !s.cfg.Control.Enabled {
		log.Debug().Msg("Control server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Control server error")
		}
	}()
}
