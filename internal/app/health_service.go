package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/config"
	"github.com/dokzlo13/nexad/internal/sequencer"
)

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg       *config.Config
	sequencer *sequencer.Sequencer
	server    *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, seq *sequencer.Sequencer) *HealthService {
	return &HealthService{
		cfg:       cfg,
		sequencer: seq,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *HealthService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready reports the sequencer state; a burst in flight is still ready.
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		snap := s.sequencer.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ready",
			"sequencer": snap,
		})
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.GetHost(), s.cfg.Healthcheck.GetPort())

	server := &http.Server{
		Addr:    addr,
		Handler: s.handler(),
	}
	s.server = server

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
