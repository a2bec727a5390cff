package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"acctshop-api/internal/gateway"
	"acctshop-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 100)

	_, err := h.engine.Buy(ctx, 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var perr *PurchaseError
	require.ErrorAs(t, err, &perr)
	assert.EqualValues(t, 100, perr.Balance)
	assert.EqualValues(t, testPrice, perr.Price)

	assert.EqualValues(t, 100, h.balance(t, 1))
	items, err := h.ledger.ListReady(ctx)
	require.NoError(t, err)
	assert.False(t, items[0].IsHeld())
}

func TestBuyOutOfStockRefunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fund(t, 1, 200)

	_, err := h.engine.Buy(ctx, 1)
	require.ErrorIs(t, err, ErrOutOfStock)

	var perr *PurchaseError
	require.ErrorAs(t, err, &perr)
	assert.EqualValues(t, 200, perr.Balance)
	assert.EqualValues(t, 200, h.balance(t, 1))

	_, err = h.claims.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestBuyThenReveal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 200)

	p, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "+1000000001", p.Identity)
	assert.EqualValues(t, 70, p.Balance)
	assert.EqualValues(t, 70, h.balance(t, 1))

	stats, err := h.ledger.DailyStats(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Reserved)
	assert.EqualValues(t, 0, stats.SoldToday)

	r, err := h.engine.Reveal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "12345", r.Code)
	assert.Equal(t, "pw-+1000000001", r.Secret)
	assert.Equal(t, "+1000000001", r.Identity)
	require.NotNil(t, r.Sale)
	assert.EqualValues(t, testPrice, r.Sale.Amount)

	stats, err = h.ledger.DailyStats(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Ready)
	assert.EqualValues(t, 1, stats.SoldToday)
	assert.EqualValues(t, testPrice, stats.RevenueToday)
	assert.EqualValues(t, 70, h.balance(t, 1))

	_, err = h.engine.Reveal(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)
	assert.Empty(t, h.alerter.kinds())
}

func TestRevealWithoutClaim(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reveal(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestRevealCodeUnavailableKeepsClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 130)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	h.gateway.setIssueErr(gateway.ErrCodeNotAvailable)
	_, err = h.engine.Reveal(ctx, 1)
	require.ErrorIs(t, err, ErrCodeUnavailable)

	h.gateway.setIssueErr(errors.New("upstream timeout"))
	_, err = h.engine.Reveal(ctx, 1)
	require.ErrorIs(t, err, ErrCodeUnavailable)

	h.gateway.setIssueErr(nil)
	r, err := h.engine.Reveal(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, r.Sale)
	assert.Zero(t, h.balance(t, 1))
}

func TestBuyWhileClaimPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001", "+1000000002")
	h.fund(t, 1, 300)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	_, err = h.engine.Buy(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimPending)
	assert.EqualValues(t, 170, h.balance(t, 1))
}

func TestClaimExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001", "+1000000002")
	h.fund(t, 1, 300)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	h.engine.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	_, err = h.engine.Reveal(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)

	p, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err, "an expired claim does not block a new buy")
	assert.Equal(t, "+1000000002", p.Identity)
}

func TestRevealAlreadySoldDeliversAndAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 130)

	p, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	// the item leaves the hold behind the engine's back
	_, err = h.ledger.FinalizeSale(ctx, p.ItemID, 1, testPrice)
	require.NoError(t, err)

	r, err := h.engine.Reveal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "pw-+1000000001", r.Secret)
	assert.Nil(t, r.Sale)
	assert.Equal(t, []model.AlertKind{model.AlertAlreadySold}, h.alerter.kinds())
	assert.Zero(t, h.balance(t, 1), "no re-debit and no re-credit")

	_, err = h.claims.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestRevealStoreUnavailableKeepsClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001")
	h.fund(t, 1, 130)

	_, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Close())

	_, err = h.engine.Reveal(ctx, 1)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, []model.AlertKind{model.AlertStoreUnavailable}, h.alerter.kinds())

	_, err = h.claims.Get(ctx, 1)
	assert.NoError(t, err)
}

func TestConcurrentBuyersNeverShareAnItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const items, buyers = 3, 12
	for i := 0; i < items; i++ {
		h.stock(t, fmt.Sprintf("+10000000%02d", i))
	}
	for b := int64(1); b <= buyers; b++ {
		h.fund(t, b, testPrice)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sold     = map[int64]int64{}
		outStock int
	)
	for b := int64(1); b <= buyers; b++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			p, err := h.engine.Buy(ctx, buyer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				_, dup := sold[p.ItemID]
				assert.False(t, dup, "item %d sold twice", p.ItemID)
				sold[p.ItemID] = buyer
			case errors.Is(err, ErrOutOfStock):
				outStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()

	require.Len(t, sold, items)
	assert.Equal(t, buyers-items, outStock)

	var total int64
	for b := int64(1); b <= buyers; b++ {
		total += h.balance(t, b)
	}
	assert.EqualValues(t, (buyers-items)*testPrice, total, "only winners were charged")

	for _, buyer := range sold {
		_, err := h.engine.Reveal(ctx, buyer)
		require.NoError(t, err)
	}
	stats, err := h.ledger.DailyStats(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, items, stats.SoldToday)
}

func TestDoubleClickBuysOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001", "+1000000002")
	h.fund(t, 1, 2*testPrice)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Buy(ctx, 1)
		}(i)
	}
	wg.Wait()

	ok, pending := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrClaimPending):
			pending++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, pending)
	assert.EqualValues(t, testPrice, h.balance(t, 1))
}

func TestReleaseExpiredSkipsNewerClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock(t, "+1000000001", "+1000000002")
	h.fund(t, 1, 2*testPrice)

	first, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	h.engine.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	second, err := h.engine.Buy(ctx, 1)
	require.NoError(t, err)

	amount, err := h.engine.ReleaseExpired(ctx, model.Reservation{ItemID: first.ItemID, BuyerID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, testPrice, amount)

	claim, err := h.claims.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.ItemID, claim.ItemID, "the live claim survives")
}

func TestEngineDefaults(t *testing.T) {
	e := NewPurchaseEngine(nil, nil, nil, nil, nil, PurchaseConfig{}, nil)
	assert.EqualValues(t, 130, e.Price())
	assert.Equal(t, 15*time.Minute, e.claimTTL)
}
