package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// HoldReleaser releases one expired hold. PurchaseEngine implements it.
type HoldReleaser interface {
	ReleaseExpired(ctx context.Context, res model.Reservation) (int64, error)
}

// ReconcileConfig holds configuration for the reservation reconciler.
type ReconcileConfig struct {
	// Interval is how often expired holds are swept.
	// Default: 1 minute
	Interval time.Duration

	// Grace is added to a hold's deadline before it is released.
	// Default: 1 minute
	Grace time.Duration

	// BatchSize bounds one ledger scan.
	// Default: 100
	BatchSize int
}

// DefaultReconcileConfig returns default reconciler configuration.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Interval:  time.Minute,
		Grace:     time.Minute,
		BatchSize: 100,
	}
}

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Scanned  int   `json:"scanned"`
	Released int   `json:"released"`
	Refunded int64 `json:"refunded"`
	Failed   int   `json:"failed"`
}

// ReservationReconciler refunds purchases whose claim expired unrevealed.
// It also runs once at Start, which covers claims lost in a restart.
type ReservationReconciler struct {
	ledger   repository.Ledger
	releaser HoldReleaser
	notifier Notifier
	alerter  Alerter
	metrics  *metrics.Metrics
	config   ReconcileConfig
	log      *logrus.Entry
	now      func() time.Time

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	runMu     sync.Mutex
	wg        sync.WaitGroup
}

// NewReservationReconciler creates a reconciler. notifier may be nil.
func NewReservationReconciler(
	ledger repository.Ledger,
	releaser HoldReleaser,
	notifier Notifier,
	alerter Alerter,
	m *metrics.Metrics,
	config ReconcileConfig,
	logger logrus.FieldLogger,
) *ReservationReconciler {
	def := DefaultReconcileConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Grace < 0 {
		config.Grace = def.Grace
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}

	return &ReservationReconciler{
		ledger:   ledger,
		releaser: releaser,
		notifier: notifier,
		alerter:  alerter,
		metrics:  m,
		config:   config,
		log:      logging.Component(logger, "reconciler"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval.
func (r *ReservationReconciler) Start() {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.ticker = time.NewTicker(r.config.Interval)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"interval": r.config.Interval,
		"grace":    r.config.Grace,
	}).Info("reconciler started")

	r.wg.Add(1)
	go r.run()
}

func (r *ReservationReconciler) run() {
	defer r.wg.Done()

	r.sweep()
	for {
		select {
		case <-r.ticker.C:
			r.sweep()
		case <-r.stopCh:
			r.log.Info("reconciler stopped")
			return
		}
	}
}

func (r *ReservationReconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := r.RunNow(ctx)
	if err != nil {
		r.log.WithError(err).Error("reconcile failed")
		return
	}
	if res.Released > 0 || res.Failed > 0 {
		r.log.WithFields(logrus.Fields{
			"released": res.Released,
			"refunded": res.Refunded,
			"failed":   res.Failed,
		}).Info("expired reservations reconciled")
	}
}

// Stop stops the scheduler and waits for a running sweep.
func (r *ReservationReconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.stopCh)
		r.isRunning = false
		r.mu.Unlock()
	})
	r.wg.Wait()
}

// RunNow releases every hold whose deadline plus grace has passed.
// Sweeps never overlap.
func (r *ReservationReconciler) RunNow(ctx context.Context) (*ReconcileResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	cutoff := r.now().Add(-r.config.Grace)
	out := &ReconcileResult{}

	// failed holds stay expired, so skip past them instead of rescanning forever
	seen := make(map[int64]bool)
	for {
		limit := r.config.BatchSize + len(seen)
		batch, err := r.ledger.ExpiredReservations(ctx, cutoff, limit)
		if err != nil {
			return out, fmt.Errorf("failed to list expired reservations: %w", err)
		}

		progressed := false
		for _, res := range batch {
			if seen[res.ItemID] {
				continue
			}
			seen[res.ItemID] = true
			progressed = true
			out.Scanned++
			r.release(ctx, res, out)
		}

		if !progressed || len(batch) < limit {
			return out, nil
		}
	}
}

func (r *ReservationReconciler) release(ctx context.Context, res model.Reservation, out *ReconcileResult) {
	log := r.log.WithFields(logrus.Fields{"item_id": res.ItemID, "buyer_id": res.BuyerID})

	amount, err := r.releaser.ReleaseExpired(ctx, res)
	switch {
	case errors.Is(err, repository.ErrNotHeld):
		// sold or released since the scan
		return
	case err != nil:
		out.Failed++
		r.metrics.ReservationReleased(false)
		r.alerter.Raise(ctx, model.AlertReleaseFailed, res.BuyerID, res.ItemID, fmt.Sprintf("release expired hold: %v", err))
		return
	}

	out.Released++
	out.Refunded += amount
	r.metrics.ReservationReleased(true)
	log.WithField("amount", amount).Info("expired reservation refunded")

	if r.notifier != nil {
		text := fmt.Sprintf("⌛ Your purchase of %s expired before the code was requested. %d₽ returned to your balance.", res.Identity, amount)
		if err := r.notifier.Notify(ctx, res.BuyerID, text); err != nil {
			r.metrics.NotifyFailure()
			log.WithError(err).Warn("failed to notify buyer of refund")
		}
	}
}
