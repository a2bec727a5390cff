package repository

import (
	"context"
	"sync"

	"acctshop-api/internal/model"
)

// MemoryAlertRepository keeps the most recent alerts in a bounded ring.
// Used when no MongoDB is configured.
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts []model.Alert
	max    int
}

// NewMemoryAlertRepository keeps at most max alerts (default 500).
func NewMemoryAlertRepository(max int) *MemoryAlertRepository {
	if max <= 0 {
		max = 500
	}
	return &MemoryAlertRepository{max: max}
}

func (r *MemoryAlertRepository) InsertAlert(ctx context.Context, alert *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = append(r.alerts, *alert)
	if len(r.alerts) > r.max {
		r.alerts = r.alerts[len(r.alerts)-r.max:]
	}
	return nil
}

// ListAlerts returns alerts newest first. total counts retained alerts only.
func (r *MemoryAlertRepository) ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.Alert{}
	for i := len(r.alerts) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.alerts[i])
	}
	return out, int64(len(r.alerts)), nil
}

func (r *MemoryAlertRepository) Close() error { return nil }

var _ AlertRepository = (*MemoryAlertRepository)(nil)
