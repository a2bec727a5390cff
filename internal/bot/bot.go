// Package bot turns inbound chat events into shop operations and replies.
package bot

import (
	"context"
	"errors"
	"strings"

	"acctshop-api/internal/gateway"
	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/service"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// Config identifies the administrator.
type Config struct {
	AdminID       int64
	AdminUsername string
}

// Deps are the services the bot dispatches to.
type Deps struct {
	Engine        *service.PurchaseEngine
	Onboarding    *service.OnboardingFlow
	TopUp         *service.TopUpFlow
	Conversations *service.ConversationStore
	Stats         *service.StatsService
}

// Bot dispatches events. Events of one user are handled one at a time.
type Bot struct {
	cfg     Config
	deps    Deps
	locks   *service.KeyedMutex
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func New(cfg Config, deps Deps, m *metrics.Metrics, logger logrus.FieldLogger) *Bot {
	return &Bot{
		cfg:     cfg,
		deps:    deps,
		locks:   service.NewKeyedMutex(),
		metrics: m,
		log:     logging.Component(logger, "bot"),
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// IsAdmin matches the admin by id or case-insensitive username.
func (b *Bot) IsAdmin(userID int64, username string) bool {
	if b.cfg.AdminID != 0 && userID == b.cfg.AdminID {
		return true
	}
	want := normalizeUsername(b.cfg.AdminUsername)
	return want != "" && normalizeUsername(username) == want
}

// Handle processes one event. Domain failures are rendered as replies;
// the error is non-nil only for malformed events.
func (b *Bot) Handle(ctx context.Context, ev Event) (*Response, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	b.metrics.Event(string(ev.Kind))

	unlock := b.locks.Lock(ev.UserID)
	defer unlock()

	switch ev.Kind {
	case KindCommand:
		return b.command(ctx, ev), nil
	case KindAction:
		return b.action(ctx, ev), nil
	default:
		return b.text(ctx, ev), nil
	}
}

func (b *Bot) command(ctx context.Context, ev Event) *Response {
	admin := b.IsAdmin(ev.UserID, ev.Username)

	switch ev.Name {
	case CmdStart:
		if admin {
			return reply(textAdminPanel)
		}
		bal, err := b.deps.Engine.Balance(ctx, ev.UserID)
		if err != nil {
			return b.failure(ev, err)
		}
		return &Response{Replies: []Reply{{
			Text:    textWelcome(b.deps.Engine.Price(), bal),
			Buttons: []Button{btnBuy, btnBalance},
		}}}

	case CmdAddAccounts:
		if !admin {
			return ignore()
		}
		if _, err := b.deps.Onboarding.Start(ctx, ev.UserID); err != nil {
			return b.failure(ev, err)
		}
		return reply(textAskPhone)

	case CmdTopUpBalance:
		if !admin {
			return ignore()
		}
		if _, err := b.deps.TopUp.Start(ctx, ev.UserID); err != nil {
			return b.failure(ev, err)
		}
		return reply(textAskUserID)

	case CmdStats:
		if !admin {
			return ignore()
		}
		stats, err := b.deps.Stats.Today(ctx)
		if err != nil {
			return b.failure(ev, err)
		}
		return reply(textStats(stats))

	case CmdMyBalance:
		return b.balance(ctx, ev)

	case CmdCancel:
		conv, err := b.deps.Conversations.Get(ctx, ev.UserID)
		if err != nil {
			return b.failure(ev, err)
		}
		if conv == nil {
			return reply(textNothingToCancel)
		}
		if err := b.deps.Conversations.Clear(ctx, ev.UserID); err != nil {
			return b.failure(ev, err)
		}
		return reply(textCancelled)
	}

	return ignore()
}

func (b *Bot) action(ctx context.Context, ev Event) *Response {
	switch ev.Name {
	case ActionBuyAccount:
		return b.buy(ctx, ev)
	case ActionGetCode:
		return b.reveal(ctx, ev)
	case ActionMyBalance:
		return b.balance(ctx, ev)
	}
	return ignore()
}

func (b *Bot) balance(ctx context.Context, ev Event) *Response {
	bal, err := b.deps.Engine.Balance(ctx, ev.UserID)
	if err != nil {
		return b.failure(ev, err)
	}
	return reply(textBalance(bal))
}

func (b *Bot) buy(ctx context.Context, ev Event) *Response {
	p, err := b.deps.Engine.Buy(ctx, ev.UserID)

	var perr *service.PurchaseError
	switch {
	case err == nil:
		return reply(textPurchased(p.Price, p.Balance, p.Identity), btnGetCode)
	case errors.Is(err, service.ErrInsufficientFunds) && errors.As(err, &perr):
		return reply(textInsufficient(perr.Price, perr.Balance))
	case errors.Is(err, service.ErrOutOfStock):
		return reply(textOutOfStock)
	case errors.Is(err, service.ErrClaimPending):
		return reply(textClaimPending, btnGetCode)
	}
	return b.failure(ev, err)
}

func (b *Bot) reveal(ctx context.Context, ev Event) *Response {
	r, err := b.deps.Engine.Reveal(ctx, ev.UserID)
	switch {
	case err == nil:
		return reply(textCode(r.Code)).add(textCredentials(r))
	case errors.Is(err, service.ErrClaimNotFound):
		return &Response{Replies: []Reply{{Text: textClaimNotFound, Alert: true}}}
	case errors.Is(err, service.ErrCodeUnavailable):
		return reply(textCodeUnavailable, btnGetCode)
	}
	return b.failure(ev, err)
}

func (b *Bot) text(ctx context.Context, ev Event) *Response {
	conv, err := b.deps.Conversations.Get(ctx, ev.UserID)
	if err != nil {
		return b.failure(ev, err)
	}
	if conv == nil {
		return reply(textHint)
	}

	switch conv.Flow {
	case model.FlowOnboarding:
		return b.onboardingStep(ctx, ev, conv)
	case model.FlowTopUp:
		return b.topUpStep(ctx, ev, conv)
	}

	log := b.log.WithFields(logrus.Fields{"flow": conv.Flow, "user_id": ev.UserID})
	log.Warn("dropping conversation with unknown flow")
	if err := b.deps.Conversations.Clear(ctx, ev.UserID); err != nil {
		log.WithError(err).Warn("failed to clear conversation with unknown flow")
	}
	return reply(textHint)
}

func (b *Bot) onboardingStep(ctx context.Context, ev Event, conv *model.Conversation) *Response {
	out, err := b.deps.Onboarding.Handle(ctx, conv, ev.Text)

	var authErr *gateway.AuthError
	switch {
	case err == nil:
	case errors.As(err, &authErr):
		return reply(textError(authErr.Cause))
	case errors.Is(err, service.ErrInventoryHeld):
		return reply(textAccountHeld(conv.Phone))
	case errors.Is(err, service.ErrInvalidInput):
		return reply(textEmptyInput)
	default:
		return b.failure(ev, err)
	}

	switch out.Step {
	case model.StepAwaitCode:
		return reply(textPhoneAccepted(out.Phone)).add(textAskCode)
	case model.StepAwaitPassword:
		return reply(textAskPassword)
	}
	return reply(textAccountAdded(out.Item))
}

func (b *Bot) topUpStep(ctx context.Context, ev Event, conv *model.Conversation) *Response {
	step := conv.Step
	out, err := b.deps.TopUp.Handle(ctx, conv, ev.Text)

	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidInput) && step == model.StepAwaitUserID:
		return reply(textInvalidUserID)
	case errors.Is(err, service.ErrInvalidInput):
		return reply(textInvalidAmount)
	default:
		return b.failure(ev, err)
	}

	if out.Step == model.StepAwaitAmount {
		return reply(textAskAmount)
	}

	resp := reply(textToppedUp(out.TargetID, out.Amount, out.OldBalance, out.NewBalance))
	if out.NotifyErr != nil {
		resp.add(textNotifyFailed)
	}
	return resp
}

// failure renders an unexpected error. Store faults were already alerted
// by the service that hit them.
func (b *Bot) failure(ev Event, err error) *Response {
	b.log.WithFields(logrus.Fields{
		"user_id": ev.UserID,
		"kind":    ev.Kind,
		"name":    ev.Name,
	}).WithError(err).Error("event failed")
	return reply(textUnavailable)
}
