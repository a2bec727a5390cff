package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"acctshop-api/internal/cache"
	"acctshop-api/internal/gateway"
	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/pkg/logging"

	"github.com/stretchr/testify/require"
)

const testPrice = 130

type fakeGateway struct {
	mu       sync.Mutex
	authErr  error
	issueErr error
	issued   int
}

func (g *fakeGateway) Authorize(ctx context.Context, identity, code, secret string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authErr != nil {
		return "", g.authErr
	}
	return "session-" + identity, nil
}

func (g *fakeGateway) IssueOneTimeCode(ctx context.Context, identity string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.issueErr != nil {
		return "", g.issueErr
	}
	g.issued++
	return "12345", nil
}

func (g *fakeGateway) setIssueErr(err error) {
	g.mu.Lock()
	g.issueErr = err
	g.mu.Unlock()
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (a *fakeAlerter) Raise(ctx context.Context, kind model.AlertKind, buyerID, itemID int64, message string) *model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	alert := model.Alert{Kind: kind, BuyerID: buyerID, ItemID: itemID, Message: message}
	a.alerts = append(a.alerts, alert)
	return &alert
}

func (a *fakeAlerter) kinds() []model.AlertKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AlertKind
	for _, al := range a.alerts {
		out = append(out, al.Kind)
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, model.Notification{UserID: userID, Text: text})
	return n.err
}

func (n *fakeNotifier) messages() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Notification(nil), n.sent...)
}

type harness struct {
	ledger   *repository.SQLiteLedger
	store    *cache.MemoryStore
	claims   *ClaimStore
	convs    *ConversationStore
	gateway  *fakeGateway
	alerter  *fakeAlerter
	notifier *fakeNotifier
	engine   *PurchaseEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ledger, err := repository.NewSQLiteLedger(filepath.Join(t.TempDir(), "shop.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	h := &harness{
		ledger:   ledger,
		store:    store,
		claims:   NewClaimStore(store, 15*time.Minute),
		convs:    NewConversationStore(store, 15*time.Minute),
		gateway:  &fakeGateway{},
		alerter:  &fakeAlerter{},
		notifier: &fakeNotifier{},
	}
	h.engine = NewPurchaseEngine(ledger, h.gateway, h.claims, h.alerter, nil,
		PurchaseConfig{Price: testPrice, ClaimTTL: 15 * time.Minute}, logging.Discard())
	return h
}

func (h *harness) stock(t *testing.T, identities ...string) {
	t.Helper()
	for _, id := range identities {
		_, err := h.ledger.AddOrReplaceInventory(context.Background(), id, "pw-"+id, "sess-"+id)
		require.NoError(t, err)
	}
}

func (h *harness) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := h.ledger.AdjustBalance(context.Background(), userID, amount)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	bal, err := h.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return bal
}

var _ gateway.Gateway = (*fakeGateway)(nil)
