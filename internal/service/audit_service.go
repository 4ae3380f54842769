package service

import (
	"context"
	"sync"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// AuditServiceImpl implements ports.AuditService.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
func (s *AuditServiceImpl) Log(_ context.Context, entry *domain.AuditLog) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		event := s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("ip", entry.IPAddress)
		if entry.Caller != nil {
			event = event.Str("caller", entry.Caller.String())
		}
		event.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.Background(), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// Wait blocks until pending audit writes finish.
func (s *AuditServiceImpl) Wait() {
	s.wg.Wait()
}
