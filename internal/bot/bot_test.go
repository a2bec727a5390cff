package bot

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"acctshop-api/internal/cache"
	"acctshop-api/internal/gateway"
	"acctshop-api/internal/model"
	"acctshop-api/internal/notify"
	"acctshop-api/internal/repository"
	"acctshop-api/internal/service"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID = 777

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[int64][]string{}
	}
	n.sent[userID] = append(n.sent[userID], text)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

type fixture struct {
	bot      *Bot
	ledger   *repository.SQLiteLedger
	gateway  *gateway.LocalGateway
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()

	ledger, err := repository.NewSQLiteLedger(filepath.Join(t.TempDir(), "shop.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	gw := gateway.NewLocalGateway()
	rec := &recordingNotifier{}
	alerter := notify.NewAlerter(repository.NewMemoryAlertRepository(10), rec, adminID, nil, log)
	convs := service.NewConversationStore(store, 15*time.Minute)
	claims := service.NewClaimStore(store, 15*time.Minute)

	engine := service.NewPurchaseEngine(ledger, gw, claims, alerter, nil,
		service.PurchaseConfig{Price: 130, ClaimTTL: 15 * time.Minute}, log)

	b := New(Config{AdminID: adminID, AdminUsername: "@ShopOwner"}, Deps{
		Engine:        engine,
		Onboarding:    service.NewOnboardingFlow(convs, gw, ledger, alerter, nil, log),
		TopUp:         service.NewTopUpFlow(convs, ledger, rec, alerter, nil, log),
		Conversations: convs,
		Stats:         service.NewStatsService(ledger, alerter, nil),
	}, nil, log)

	return &fixture{bot: b, ledger: ledger, gateway: gw, notifier: rec}
}

func (f *fixture) send(t *testing.T, ev Event) *Response {
	t.Helper()
	resp, err := f.bot.Handle(context.Background(), ev)
	require.NoError(t, err)
	return resp
}

func cmd(user int64, name string) Event  { return Event{UserID: user, Kind: KindCommand, Name: name} }
func act(user int64, name string) Event  { return Event{UserID: user, Kind: KindAction, Name: name} }
func text(user int64, body string) Event { return Event{UserID: user, Kind: KindText, Text: body} }

func TestIsAdmin(t *testing.T) {
	b := New(Config{AdminID: adminID, AdminUsername: "@ShopOwner"}, Deps{}, nil, nil)

	assert.True(t, b.IsAdmin(adminID, ""))
	assert.True(t, b.IsAdmin(1, "shopowner"))
	assert.True(t, b.IsAdmin(1, "@SHOPOWNER"))
	assert.False(t, b.IsAdmin(1, "someone"))
	assert.False(t, b.IsAdmin(1, ""))

	noName := New(Config{AdminID: adminID}, Deps{}, nil, nil)
	assert.False(t, noName.IsAdmin(1, ""), "empty username never matches")
}

func TestNonAdminCommandsAreIgnored(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{CmdAddAccounts, CmdTopUpBalance, CmdStats} {
		resp := f.send(t, cmd(5, name))
		assert.Empty(t, resp.Replies, name)
	}

	resp := f.send(t, text(5, "+1000000001"))
	require.Len(t, resp.Replies, 1)
	assert.Equal(t, textHint, resp.Replies[0].Text, "no flow was started")
}

func TestFullShopScenario(t *testing.T) {
	f := newFixture(t)
	const buyer = 1001

	resp := f.send(t, cmd(adminID, "/start"))
	assert.Contains(t, resp.Replies[0].Text, "Admin panel")

	// admin stocks an account
	resp = f.send(t, cmd(adminID, "/add_accounts"))
	assert.Equal(t, textAskPhone, resp.Replies[0].Text)

	resp = f.send(t, text(adminID, "+1000000001"))
	require.Len(t, resp.Replies, 2)
	assert.Contains(t, resp.Replies[0].Text, "+1000000001")
	assert.Equal(t, textAskCode, resp.Replies[1].Text)

	resp = f.send(t, text(adminID, "24680"))
	assert.Equal(t, textAskPassword, resp.Replies[0].Text)

	resp = f.send(t, text(adminID, "s3cret"))
	assert.Contains(t, resp.Replies[0].Text, "Account added")
	assert.Contains(t, resp.Replies[0].Text, "s3cret")

	// admin tops up the buyer
	f.send(t, cmd(adminID, "topup_balance"))
	resp = f.send(t, text(adminID, "1001"))
	assert.Equal(t, textAskAmount, resp.Replies[0].Text)
	resp = f.send(t, text(adminID, "200"))
	require.Len(t, resp.Replies, 1)
	assert.Contains(t, resp.Replies[0].Text, "Balance: 0₽ → 200₽")
	require.Len(t, f.notifier.sent[buyer], 1)

	// buyer purchases
	resp = f.send(t, cmd(buyer, "start"))
	require.Len(t, resp.Replies, 1)
	assert.Contains(t, resp.Replies[0].Text, "130₽")
	assert.Contains(t, resp.Replies[0].Text, "Your balance: 200₽")
	assert.Equal(t, []Button{btnBuy, btnBalance}, resp.Replies[0].Buttons)

	resp = f.send(t, act(buyer, ActionBuyAccount))
	assert.Contains(t, resp.Replies[0].Text, "New balance: 70₽")
	assert.Contains(t, resp.Replies[0].Text, "+1000000001")
	assert.Equal(t, []Button{btnGetCode}, resp.Replies[0].Buttons)

	resp = f.send(t, act(buyer, ActionGetCode))
	require.Len(t, resp.Replies, 2)
	assert.Regexp(t, regexp.MustCompile("`\\d{5}`"), resp.Replies[0].Text)
	assert.Contains(t, resp.Replies[1].Text, "s3cret")

	resp = f.send(t, act(buyer, ActionGetCode))
	require.Len(t, resp.Replies, 1)
	assert.True(t, resp.Replies[0].Alert)
	assert.Equal(t, textClaimNotFound, resp.Replies[0].Text)

	resp = f.send(t, act(buyer, ActionMyBalance))
	assert.Equal(t, textBalance(70), resp.Replies[0].Text)

	resp = f.send(t, cmd(adminID, CmdStats))
	assert.Contains(t, resp.Replies[0].Text, "Sold today: 1")
	assert.Contains(t, resp.Replies[0].Text, "Revenue today: 130₽")
	assert.Contains(t, resp.Replies[0].Text, "Accounts ready: 0")
}

func TestBuyRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.send(t, act(5, ActionBuyAccount))
	assert.Equal(t, textInsufficient(130, 0), resp.Replies[0].Text)

	_, err := f.ledger.AdjustBalance(ctx, 5, 150)
	require.NoError(t, err)
	resp = f.send(t, act(5, ActionBuyAccount))
	assert.Equal(t, textOutOfStock, resp.Replies[0].Text)

	bal, err := f.ledger.GetBalance(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 150, bal)
}

func TestCancelClearsFlow(t *testing.T) {
	f := newFixture(t)

	f.send(t, cmd(adminID, CmdAddAccounts))
	f.send(t, text(adminID, "+1000000001"))

	resp := f.send(t, cmd(adminID, CmdCancel))
	assert.Equal(t, textCancelled, resp.Replies[0].Text)

	resp = f.send(t, text(adminID, "24680"))
	assert.Equal(t, textHint, resp.Replies[0].Text)

	resp = f.send(t, cmd(adminID, CmdCancel))
	assert.Equal(t, textNothingToCancel, resp.Replies[0].Text)
}

func TestCommandDuringFlowIsACommand(t *testing.T) {
	f := newFixture(t)

	f.send(t, cmd(adminID, CmdTopUpBalance))
	resp := f.send(t, cmd(adminID, CmdMyBalance))
	assert.Equal(t, textBalance(0), resp.Replies[0].Text)

	resp = f.send(t, text(adminID, "abc"))
	assert.Equal(t, textInvalidUserID, resp.Replies[0].Text, "flow is still active")

	resp = f.send(t, text(adminID, "42"))
	assert.Equal(t, textAskAmount, resp.Replies[0].Text)
	resp = f.send(t, text(adminID, "ten"))
	assert.Equal(t, textInvalidAmount, resp.Replies[0].Text)
}

func TestOnboardingRestartReplacesTopUp(t *testing.T) {
	f := newFixture(t)

	f.send(t, cmd(adminID, CmdTopUpBalance))
	f.send(t, cmd(adminID, CmdAddAccounts))

	resp := f.send(t, text(adminID, "+1000000009"))
	require.Len(t, resp.Replies, 2)
	assert.True(t, strings.HasPrefix(resp.Replies[0].Text, "📱"))
}

func TestOnboardingAuthErrorReply(t *testing.T) {
	f := newFixture(t)

	f.send(t, cmd(adminID, CmdAddAccounts))
	f.send(t, text(adminID, "+1000000001"))
	f.send(t, text(adminID, gateway.TwoStepMarker))
	resp := f.send(t, text(adminID, ""))
	require.Len(t, resp.Replies, 1)
	assert.Contains(t, resp.Replies[0].Text, "two-step password required")

	resp = f.send(t, text(adminID, "s3cret"))
	assert.Equal(t, textHint, resp.Replies[0].Text, "a failed authorization ends the flow")
}

func TestOnboardingEmptyPhone(t *testing.T) {
	f := newFixture(t)

	f.send(t, cmd(adminID, CmdAddAccounts))
	resp := f.send(t, text(adminID, "   "))
	assert.Equal(t, textEmptyInput, resp.Replies[0].Text)

	resp = f.send(t, text(adminID, "+1000000001"))
	assert.Len(t, resp.Replies, 2)
}

func TestInvalidEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ev := range []Event{
		{Kind: KindCommand, Name: "start"},
		{UserID: 1, Kind: "sticker"},
		{UserID: 1, Kind: KindAction},
	} {
		_, err := f.bot.Handle(ctx, ev)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}

	resp := f.send(t, act(1, "unknown"))
	assert.Empty(t, resp.Replies)
}

func TestEventValidateNormalizesName(t *testing.T) {
	ev := Event{UserID: 1, Kind: KindCommand, Name: " /Start@ShopBot "}
	require.NoError(t, ev.Validate())
	assert.Equal(t, "start", ev.Name)
}

func TestStatsStoreDownAlertsAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Close())

	resp := f.send(t, cmd(adminID, CmdStats))
	require.Len(t, resp.Replies, 1)
	assert.Equal(t, textUnavailable, resp.Replies[0].Text)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.sent[adminID], 1)
	assert.Contains(t, f.notifier.sent[adminID][0], "read stats")
}

type failingDeleteStore struct {
	*cache.MemoryStore
}

func (s failingDeleteStore) Delete(ctx context.Context, key string) error {
	return errors.New("delete refused")
}

func TestUnknownFlowIsDropped(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	convs := service.NewConversationStore(store, 15*time.Minute)
	require.NoError(t, convs.Save(ctx, &model.Conversation{UserID: 5, Flow: "refund"}))

	b := New(Config{AdminID: adminID}, Deps{Conversations: convs}, nil, logging.Discard())
	resp, err := b.Handle(ctx, text(5, "hello"))
	require.NoError(t, err)
	require.Len(t, resp.Replies, 1)
	assert.Equal(t, textHint, resp.Replies[0].Text)

	conv, err := convs.Get(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestUnknownFlowClearFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	convs := service.NewConversationStore(failingDeleteStore{mem}, 15*time.Minute)
	require.NoError(t, convs.Save(ctx, &model.Conversation{UserID: 5, Flow: "refund"}))

	logger, hook := logtest.NewNullLogger()
	b := New(Config{AdminID: adminID}, Deps{Conversations: convs}, nil, logger)
	resp, err := b.Handle(ctx, text(5, "hello"))
	require.NoError(t, err)
	assert.Equal(t, textHint, resp.Replies[0].Text)

	var cleared bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "failed to clear conversation with unknown flow" {
			cleared = true
			assert.EqualError(t, e.Data[logrus.ErrorKey].(error), "failed to clear conversation: delete refused")
		}
	}
	assert.True(t, cleared, "clear failure must be logged")
}
