package notify

import (
	"context"
	"fmt"
	"time"

	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"
	"acctshop-api/pkg/uid"

	"github.com/sirupsen/logrus"
)

// Alerter is the operator channel for consistency faults.
// Raise never fails: every sink is best-effort and logged.
type Alerter struct {
	repo     repository.AlertRepository
	notifier Notifier
	adminID  int64
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewAlerter wires the sinks. repo and notifier may be nil; adminID 0
// disables the admin push.
func NewAlerter(repo repository.AlertRepository, notifier Notifier, adminID int64, m *metrics.Metrics, logger logrus.FieldLogger) *Alerter {
	return &Alerter{
		repo:     repo,
		notifier: notifier,
		adminID:  adminID,
		metrics:  m,
		log:      logging.Component(logger, "alerter"),
	}
}

// Raise records an alert and pushes it to the admin.
func (a *Alerter) Raise(ctx context.Context, kind model.AlertKind, buyerID, itemID int64, message string) *model.Alert {
	alert := &model.Alert{
		ID:        uid.New(),
		Kind:      kind,
		Message:   message,
		BuyerID:   buyerID,
		ItemID:    itemID,
		CreatedAt: time.Now().UTC(),
	}

	a.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"kind":     kind,
		"buyer_id": buyerID,
		"item_id":  itemID,
	}).Error(message)
	a.metrics.Alert(string(kind))

	// sinks run even if the request was cancelled
	ctx = context.WithoutCancel(ctx)

	if a.repo != nil {
		if err := a.repo.InsertAlert(ctx, alert); err != nil {
			a.log.WithError(err).WithField("alert_id", alert.ID).Warn("failed to store alert")
		}
	}

	if a.notifier != nil && a.adminID != 0 {
		text := fmt.Sprintf("[%s] %s (buyer %d, item %d)", kind, message, buyerID, itemID)
		if err := a.notifier.Notify(ctx, a.adminID, text); err != nil {
			a.metrics.NotifyFailure()
			a.log.WithError(err).WithField("alert_id", alert.ID).Warn("failed to push alert to admin")
		}
	}
	return alert
}
