package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"acctshop-api/internal/model"
	"acctshop-api/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(h *harness, releaser HoldReleaser) *ReservationReconciler {
	return NewReservationReconciler(h.ledger, releaser, h.notifier, h.alerter, nil,
		ReconcileConfig{Interval: time.Hour, Grace: time.Minute}, logging.Discard())
}

func TestReconcileRefundsExpiredHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 200)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	r := newReconciler(h, h.engine)

	res, err := r.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Released, "live holds are untouched")

	r.now = func() time.Time { return time.Now().Add(17 * time.Minute) }
	res, err = r.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
	assert.EqualValues(t, testPrice, res.Refunded)
	assert.EqualValues(t, 200, h.balance(t, 1))

	_, err = h.claims.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)
	_, err = h.engine.Reveal(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)

	sent := h.notifier.messages()
	require.Len(t, sent, 1)
	assert.EqualValues(t, 1, sent[0].UserID)

	res, err = r.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Released, "a hold is refunded exactly once")
	assert.EqualValues(t, 200, h.balance(t, 1))

	stats, err := h.ledger.DailyStats(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Ready)
	assert.EqualValues(t, 0, stats.Reserved)
}

func TestReconcileWithinGraceKeepsHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 130)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	r := newReconciler(h, h.engine)
	r.now = func() time.Time { return time.Now().Add(15*time.Minute + 30*time.Second) }

	res, err := r.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Released)
	assert.Zero(t, h.balance(t, 1))
}

type failingReleaser struct {
	mu    sync.Mutex
	calls int
}

func (f *failingReleaser) ReleaseExpired(ctx context.Context, res model.Reservation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, errors.New("disk full")
}

func TestReconcileAlertsOnFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001", "+1000000002")
	h.fund(t, 1, 130)
	h.fund(t, 2, 130)
	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.Buy(ctx, 2)
	require.NoError(t, err)

	rel := &failingReleaser{}
	r := newReconciler(h, rel)
	r.config.BatchSize = 1
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := r.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned, "failed holds do not stall the sweep")
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, rel.calls)
	assert.Equal(t, []model.AlertKind{model.AlertReleaseFailed, model.AlertReleaseFailed}, h.alerter.kinds())
}

func TestReconcilerRunsAtStartup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 130)

	_, err := h.ledger.Checkout(ctx, 1, testPrice, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	r := newReconciler(h, h.engine)
	r.Start()
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		bal, err := h.ledger.GetBalance(ctx, 1)
		return err == nil && bal == testPrice
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}
