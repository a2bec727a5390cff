package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"acctshop-api/internal/gateway"
	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// OnboardingOutcome reports where the flow stands after one input.
// Step is empty once the flow has ended.
type OnboardingOutcome struct {
	Step  model.Step
	Phone string
	Item  *model.InventoryItem
}

// OnboardingFlow walks the admin through stocking one account:
// phone, then the code the network sent, then the two-step password.
type OnboardingFlow struct {
	convs   *ConversationStore
	gateway gateway.Gateway
	ledger  repository.Ledger
	alerter Alerter
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewOnboardingFlow(convs *ConversationStore, gw gateway.Gateway, ledger repository.Ledger, alerter Alerter, m *metrics.Metrics, logger logrus.FieldLogger) *OnboardingFlow {
	return &OnboardingFlow{
		convs:   convs,
		gateway: gw,
		ledger:  ledger,
		alerter: alerter,
		metrics: m,
		log:     logging.Component(logger, "onboarding"),
	}
}

// Start begins a fresh onboarding, replacing any active flow.
func (f *OnboardingFlow) Start(ctx context.Context, userID int64) (*OnboardingOutcome, error) {
	conv := &model.Conversation{UserID: userID, Flow: model.FlowOnboarding, Step: model.StepAwaitPhone}
	if err := f.convs.Save(ctx, conv); err != nil {
		return nil, err
	}
	return &OnboardingOutcome{Step: model.StepAwaitPhone}, nil
}

// Handle consumes one text input for conv.
func (f *OnboardingFlow) Handle(ctx context.Context, conv *model.Conversation, text string) (*OnboardingOutcome, error) {
	input := strings.TrimSpace(text)

	switch conv.Step {
	case model.StepAwaitPhone:
		if input == "" {
			return nil, ErrInvalidInput
		}
		conv.Phone = input
		conv.Step = model.StepAwaitCode
		if err := f.convs.Save(ctx, conv); err != nil {
			return nil, err
		}
		return &OnboardingOutcome{Step: model.StepAwaitCode, Phone: conv.Phone}, nil

	case model.StepAwaitCode:
		if input == "" {
			return nil, ErrInvalidInput
		}
		conv.Code = input
		conv.Step = model.StepAwaitPassword
		if err := f.convs.Save(ctx, conv); err != nil {
			return nil, err
		}
		return &OnboardingOutcome{Step: model.StepAwaitPassword, Phone: conv.Phone}, nil

	case model.StepAwaitPassword:
		return f.complete(ctx, conv, input)
	}

	return nil, fmt.Errorf("onboarding in unknown step %q", conv.Step)
}

// complete authorizes and stocks the account. The conversation ends
// whatever the result.
func (f *OnboardingFlow) complete(ctx context.Context, conv *model.Conversation, password string) (*OnboardingOutcome, error) {
	log := f.log.WithFields(logrus.Fields{"admin_id": conv.UserID, "identity": conv.Phone})

	defer func() {
		if err := f.convs.Clear(ctx, conv.UserID); err != nil {
			log.WithError(err).Warn("failed to clear onboarding state")
		}
	}()

	token, err := f.gateway.Authorize(ctx, conv.Phone, conv.Code, password)
	if err != nil {
		var authErr *gateway.AuthError
		if !errors.As(err, &authErr) {
			err = &gateway.AuthError{Identity: conv.Phone, Cause: err}
		}
		f.metrics.Onboarding("auth_failed")
		log.WithError(err).Warn("authorization failed")
		return nil, err
	}

	item, err := f.ledger.AddOrReplaceInventory(ctx, conv.Phone, password, token)
	switch {
	case errors.Is(err, ErrInventoryHeld):
		f.metrics.Onboarding("held")
		return nil, err
	case err != nil:
		if isStoreFault(err) {
			f.alerter.Raise(ctx, model.AlertStoreUnavailable, 0, 0, fmt.Sprintf("add inventory %s: %v", conv.Phone, err))
		}
		f.metrics.Onboarding("error")
		return nil, fmt.Errorf("failed to stock account: %w", err)
	}

	f.metrics.Onboarding("ok")
	log.WithField("item_id", item.ID).Info("account stocked")
	return &OnboardingOutcome{Phone: conv.Phone, Item: item}, nil
}
