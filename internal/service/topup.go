package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// Notifier pushes a message to a user. Every notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// TopUpOutcome reports where the flow stands after one input.
// Step is empty once the balance was adjusted.
type TopUpOutcome struct {
	Step       model.Step
	TargetID   int64
	Amount     int64
	OldBalance int64
	NewBalance int64
	NotifyErr  error
}

// TopUpFlow lets the admin credit (or correct) a user's balance.
type TopUpFlow struct {
	convs    *ConversationStore
	ledger   repository.Ledger
	notifier Notifier
	alerter  Alerter
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func NewTopUpFlow(convs *ConversationStore, ledger repository.Ledger, notifier Notifier, alerter Alerter, m *metrics.Metrics, logger logrus.FieldLogger) *TopUpFlow {
	return &TopUpFlow{
		convs:    convs,
		ledger:   ledger,
		notifier: notifier,
		alerter:  alerter,
		metrics:  m,
		log:      logging.Component(logger, "topup"),
	}
}

// Start begins a fresh top-up, replacing any active flow.
func (f *TopUpFlow) Start(ctx context.Context, userID int64) (*TopUpOutcome, error) {
	conv := &model.Conversation{UserID: userID, Flow: model.FlowTopUp, Step: model.StepAwaitUserID}
	if err := f.convs.Save(ctx, conv); err != nil {
		return nil, err
	}
	return &TopUpOutcome{Step: model.StepAwaitUserID}, nil
}

// Handle consumes one text input. Unparseable numbers return
// ErrInvalidInput and leave the step unchanged.
func (f *TopUpFlow) Handle(ctx context.Context, conv *model.Conversation, text string) (*TopUpOutcome, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)

	switch conv.Step {
	case model.StepAwaitUserID:
		if err != nil {
			return nil, fmt.Errorf("%w: user id %q", ErrInvalidInput, text)
		}
		conv.TargetID = n
		conv.Step = model.StepAwaitAmount
		if err := f.convs.Save(ctx, conv); err != nil {
			return nil, err
		}
		return &TopUpOutcome{Step: model.StepAwaitAmount, TargetID: n}, nil

	case model.StepAwaitAmount:
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", ErrInvalidInput, text)
		}
		return f.apply(ctx, conv, n)
	}

	return nil, fmt.Errorf("top-up in unknown step %q", conv.Step)
}

func (f *TopUpFlow) apply(ctx context.Context, conv *model.Conversation, amount int64) (*TopUpOutcome, error) {
	log := f.log.WithFields(logrus.Fields{"admin_id": conv.UserID, "target_id": conv.TargetID, "amount": amount})

	balance, err := f.ledger.AdjustBalance(ctx, conv.TargetID, amount)
	if err != nil {
		if isStoreFault(err) {
			f.alerter.Raise(ctx, model.AlertStoreUnavailable, conv.TargetID, 0, fmt.Sprintf("adjust balance: %v", err))
		}
		// state is kept so the admin can retry the amount
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	if err := f.convs.Clear(ctx, conv.UserID); err != nil {
		log.WithError(err).Warn("failed to clear top-up state")
	}

	f.metrics.TopUp(amount)
	log.WithField("balance", balance).Info("balance adjusted")

	out := &TopUpOutcome{
		TargetID:   conv.TargetID,
		Amount:     amount,
		OldBalance: balance - amount,
		NewBalance: balance,
	}

	if f.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := f.notifier.Notify(nctx, conv.TargetID, TopUpNotice(amount, balance)); err != nil {
			f.metrics.NotifyFailure()
			log.WithError(err).Warn("failed to notify user of top-up")
			out.NotifyErr = err
		}
	}
	return out, nil
}

// TopUpNotice is the message sent to the credited user.
func TopUpNotice(amount, balance int64) string {
	if amount > 0 {
		return fmt.Sprintf("💰 Your balance was topped up by %d₽\n💳 New balance: %d₽", amount, balance)
	}
	return fmt.Sprintf("💰 Your balance was adjusted by %d₽\n💳 New balance: %d₽", amount, balance)
}
