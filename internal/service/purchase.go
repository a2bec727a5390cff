package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"acctshop-api/internal/gateway"
	"acctshop-api/internal/metrics"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// Alerter raises operator alerts. *notify.Alerter implements it.
type Alerter interface {
	Raise(ctx context.Context, kind model.AlertKind, buyerID, itemID int64, message string) *model.Alert
}

// PurchaseConfig holds the shop's pricing and claim lifetime.
type PurchaseConfig struct {
	Price    int64
	ClaimTTL time.Duration
}

// Purchase is a successful buy awaiting its code.
type Purchase struct {
	ItemID    int64
	Identity  string
	Price     int64
	Balance   int64
	ExpiresAt time.Time
}

// PurchaseEngine sells one inventory item per buy and reveals it on demand.
// Buy and Reveal are serialized per buyer.
type PurchaseEngine struct {
	ledger   repository.Ledger
	gateway  gateway.Gateway
	claims   *ClaimStore
	alerter  Alerter
	metrics  *metrics.Metrics
	locks    *KeyedMutex
	log      *logrus.Entry
	price    int64
	claimTTL time.Duration
	now      func() time.Time
}

// NewPurchaseEngine creates an engine. Price defaults to 130 and ClaimTTL to 15m.
func NewPurchaseEngine(
	ledger repository.Ledger,
	gw gateway.Gateway,
	claims *ClaimStore,
	alerter Alerter,
	m *metrics.Metrics,
	cfg PurchaseConfig,
	logger logrus.FieldLogger,
) *PurchaseEngine {
	if cfg.Price <= 0 {
		cfg.Price = 130
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 15 * time.Minute
	}
	return &PurchaseEngine{
		ledger:   ledger,
		gateway:  gw,
		claims:   claims,
		alerter:  alerter,
		metrics:  m,
		locks:    NewKeyedMutex(),
		log:      logging.Component(logger, "purchase"),
		price:    cfg.Price,
		claimTTL: cfg.ClaimTTL,
		now:      time.Now,
	}
}

// Price returns the unit price.
func (e *PurchaseEngine) Price() int64 { return e.price }

// Balance returns the user's balance.
func (e *PurchaseEngine) Balance(ctx context.Context, userID int64) (int64, error) {
	bal, err := e.ledger.GetBalance(ctx, userID)
	if err != nil {
		e.storeFault(ctx, userID, 0, "read balance", err)
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

// Buy debits the price and reserves one item for buyerID.
func (e *PurchaseEngine) Buy(ctx context.Context, buyerID int64) (*Purchase, error) {
	unlock := e.locks.Lock(buyerID)
	defer unlock()

	now := e.now()
	log := e.log.WithField("buyer_id", buyerID)

	claim, err := e.claims.Get(ctx, buyerID)
	switch {
	case err == nil && !claim.Expired(now):
		e.metrics.Purchase("claim_pending")
		return nil, ErrClaimPending
	case err != nil && !errors.Is(err, ErrClaimNotFound):
		return nil, err
	}

	balance, err := e.ledger.GetBalance(ctx, buyerID)
	if err != nil {
		e.storeFault(ctx, buyerID, 0, "read balance", err)
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < e.price {
		e.metrics.Purchase("insufficient_funds")
		return nil, &PurchaseError{Err: ErrInsufficientFunds, Balance: balance, Price: e.price}
	}

	holdUntil := now.Add(e.claimTTL)
	co, err := e.ledger.Checkout(ctx, buyerID, e.price, holdUntil)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		// balance moved between the quote and the debit
		e.metrics.Purchase("insufficient_funds")
		if cur, gerr := e.ledger.GetBalance(ctx, buyerID); gerr == nil {
			balance = cur
		}
		return nil, &PurchaseError{Err: ErrInsufficientFunds, Balance: balance, Price: e.price}
	case errors.Is(err, ErrOutOfStock):
		e.metrics.Purchase("out_of_stock")
		log.Info("no inventory, debit reversed")
		return nil, &PurchaseError{Err: ErrOutOfStock, Balance: balance, Price: e.price}
	case err != nil:
		e.storeFault(ctx, buyerID, 0, "checkout", err)
		return nil, fmt.Errorf("failed to check out: %w", err)
	}

	claim = &model.PendingClaim{
		BuyerID:   buyerID,
		ItemID:    co.Item.ID,
		Identity:  co.Item.Identity,
		Secret:    co.Item.Secret,
		Amount:    e.price,
		CreatedAt: now,
		ExpiresAt: holdUntil,
	}
	if err := e.claims.Put(ctx, claim); err != nil {
		log.WithError(err).Error("failed to store claim, releasing hold")
		if _, rerr := e.ledger.ReleaseReservation(ctx, co.Item.ID, buyerID); rerr != nil {
			e.alerter.Raise(ctx, model.AlertReleaseFailed, buyerID, co.Item.ID,
				fmt.Sprintf("claim store failed and hold release failed: %v", rerr))
		}
		e.metrics.Purchase("error")
		return nil, err
	}

	e.metrics.Purchase("ok")
	log.WithFields(logrus.Fields{"item_id": co.Item.ID, "balance": co.Balance}).Info("item reserved")

	return &Purchase{
		ItemID:    co.Item.ID,
		Identity:  co.Item.Identity,
		Price:     e.price,
		Balance:   co.Balance,
		ExpiresAt: holdUntil,
	}, nil
}

// Reveal issues a login code for the buyer's claim and finalizes the sale.
func (e *PurchaseEngine) Reveal(ctx context.Context, buyerID int64) (*model.Reveal, error) {
	unlock := e.locks.Lock(buyerID)
	defer unlock()

	log := e.log.WithField("buyer_id", buyerID)

	claim, err := e.claims.Get(ctx, buyerID)
	if errors.Is(err, ErrClaimNotFound) {
		e.metrics.Reveal("claim_not_found")
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	if claim.Expired(e.now()) {
		if err := e.claims.Delete(ctx, buyerID); err != nil {
			log.WithError(err).Warn("failed to drop expired claim")
		}
		e.metrics.Reveal("claim_not_found")
		return nil, ErrClaimNotFound
	}
	log = log.WithField("item_id", claim.ItemID)

	code, err := e.gateway.IssueOneTimeCode(ctx, claim.Identity)
	if err != nil {
		e.metrics.Reveal("code_unavailable")
		if errors.Is(err, gateway.ErrCodeNotAvailable) {
			return nil, ErrCodeUnavailable
		}
		log.WithError(err).Warn("gateway failed to issue code")
		return nil, fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}

	reveal := &model.Reveal{Identity: claim.Identity, Secret: claim.Secret, Code: code}

	sale, err := e.ledger.FinalizeSale(ctx, claim.ItemID, buyerID, claim.Amount)
	switch {
	case errors.Is(err, ErrAlreadySold):
		e.alerter.Raise(ctx, model.AlertAlreadySold, buyerID, claim.ItemID,
			fmt.Sprintf("item %s was no longer held for the paying buyer at reveal", claim.Identity))
		e.metrics.Reveal("already_sold")
	case err != nil:
		e.storeFault(ctx, buyerID, claim.ItemID, "finalize sale", err)
		e.metrics.Reveal("error")
		return nil, fmt.Errorf("failed to finalize sale: %w", err)
	default:
		reveal.Sale = sale
		e.metrics.Reveal("ok")
		log.WithField("sale_id", sale.ID).Info("sale finalized")
	}

	if err := e.claims.Delete(ctx, buyerID); err != nil {
		log.WithError(err).Warn("failed to delete redeemed claim")
	}
	return reveal, nil
}

// ReleaseExpired refunds an expired hold under the buyer's lock, so it
// cannot interleave with a Reveal of the same claim.
func (e *PurchaseEngine) ReleaseExpired(ctx context.Context, res model.Reservation) (int64, error) {
	unlock := e.locks.Lock(res.BuyerID)
	defer unlock()

	claim, err := e.claims.Get(ctx, res.BuyerID)
	switch {
	case err == nil && claim.ItemID == res.ItemID:
		if err := e.claims.Delete(ctx, res.BuyerID); err != nil {
			return 0, err
		}
	case err != nil && !errors.Is(err, ErrClaimNotFound):
		return 0, err
	}

	return e.ledger.ReleaseReservation(ctx, res.ItemID, res.BuyerID)
}

func (e *PurchaseEngine) storeFault(ctx context.Context, buyerID, itemID int64, op string, err error) {
	if isStoreFault(err) {
		e.alerter.Raise(ctx, model.AlertStoreUnavailable, buyerID, itemID, fmt.Sprintf("%s: %v", op, err))
	}
}

func isStoreFault(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
