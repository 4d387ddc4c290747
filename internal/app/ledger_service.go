package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/config"
	"github.com/dokzlo13/nexad/internal/ledger"
)

// LedgerCleanupService periodically drops old transmission history.
type LedgerCleanupService struct {
	ledger    *ledger.Ledger
	retention time.Duration
	interval  time.Duration
}

// NewLedgerCleanupService creates a new LedgerCleanupService.
func NewLedgerCleanupService(cfg *config.Config, l *ledger.Ledger) *LedgerCleanupService {
	return &LedgerCleanupService{
		ledger:    l,
		retention: time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
		interval:  cfg.Ledger.CleanupInterval.Duration(),
	}
}

// Start runs the cleanup loop until ctx is cancelled.
func (s *LedgerCleanupService) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *LedgerCleanupService) run(ctx context.Context) {
	s.cleanup()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *LedgerCleanupService) cleanup() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Cleaned up old ledger entries")
	}
}
