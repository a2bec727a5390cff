package service

import (
	"context"
	"fmt"
	"time"

	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
)

// StatsService reads the shop's daily figures.
type StatsService struct {
	ledger  repository.Ledger
	alerter Alerter
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStatsService(ledger repository.Ledger, alerter Alerter, m *metrics.Metrics) *StatsService {
	return &StatsService{ledger: ledger, alerter: alerter, metrics: m, now: time.Now}
}

// Today returns stats for the current local calendar day and refreshes
// the inventory gauges. An unreachable store raises an admin alert.
func (s *StatsService) Today(ctx context.Context) (*model.DailyStats, error) {
	stats, err := s.ledger.DailyStats(ctx, s.now())
	if err != nil {
		if isStoreFault(err) && s.alerter != nil {
			s.alerter.Raise(ctx, model.AlertStoreUnavailable, 0, 0, fmt.Sprintf("read stats: %v", err))
		}
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	s.metrics.SetInventory(stats.Ready, stats.Reserved)
	return stats, nil
}
