package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscvg8/scalperbot/internal/exchange"
	"github.com/sscvg8/scalperbot/internal/model"
)

type fakeClient struct {
	fetchOrder func(id string) (*exchange.Order, error)
	buy        func(symbol string, amount float64) (*exchange.Order, error)
	sell       func(symbol string, amount, price float64) (*exchange.Order, error)
	balance    *exchange.Balance
	balanceErr error
}

func (f *fakeClient) FetchTicker(context.Context, string) (float64, error) {
	return 0, errors.New("not used")
}

func (f *fakeClient) FetchOrder(_ context.Context, id, _ string) (*exchange.Order, error) {
	return f.fetchOrder(id)
}

func (f *fakeClient) CreateMarketBuyOrder(_ context.Context, symbol string, amount float64) (*exchange.Order, error) {
	return f.buy(symbol, amount)
}

func (f *fakeClient) CreateLimitSellOrder(_ context.Context, symbol string, amount, price float64) (*exchange.Order, error) {
	return f.sell(symbol, amount, price)
}

func (f *fakeClient) FetchBalance(context.Context) (*exchange.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

type fakeSettings struct {
	cfg model.TenantSettings
	err error
}

func (f *fakeSettings) Get(context.Context, string) (model.TenantSettings, error) {
	return f.cfg, f.err
}

func (f *fakeSettings) SetEnabled(_ context.Context, _ string, enabled bool) error {
	f.cfg.Enabled = enabled
	return nil
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Get(context.Context, string) (float64, error) { return f.price, f.err }

type fakeLedger struct {
	recs []model.ProfitRecord
}

func (f *fakeLedger) AppendProfit(_ context.Context, rec model.ProfitRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, text string) {
	f.msgs = append(f.msgs, text)
}

type harness struct {
	w        *Worker
	client   *fakeClient
	settings *fakeSettings
	prices   *fakePrices
	ledger   *fakeLedger
	notes    *fakeNotifier
	slept    []time.Duration
	nowTime  time.Time
}

func newHarness(cfg model.TenantSettings, client *fakeClient) *harness {
	h := &harness{
		client:   client,
		settings: &fakeSettings{cfg: cfg},
		prices:   &fakePrices{price: 100},
		ledger:   &fakeLedger{},
		notes:    &fakeNotifier{},
		nowTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.w = New(cfg.TenantID, client, h.prices, h.settings, h.ledger, h.notes, Config{})
	h.w.now = func() time.Time { return h.nowTime }
	h.w.sleep = func(_ context.Context, d time.Duration) bool {
		h.slept = append(h.slept, d)
		return true
	}
	return h
}

func testSettings() model.TenantSettings {
	return model.TenantSettings{
		TenantID:        "tenant-1",
		Symbol:          "BTC/USDT",
		Amount:          10,
		FallPercent:     1.0,
		RisePercent:     1.5,
		CooldownSeconds: 60,
		SubscriptionEnd: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Enabled:         true,
	}
}

func TestComputeProfit(t *testing.T) {
	got := computeProfit(100, 101, 0.5, 0.05, 0.0505)
	assert.InDelta(t, 0.3995, got, 1e-9)

	// Binary float artifacts must not leak into the ledger.
	got = computeProfit(0.1, 0.3, 3, 0, 0)
	assert.Equal(t, 0.6, got)

	got = computeProfit(101, 100, 1, 0.1, 0.1)
	assert.InDelta(t, -1.2, got, 1e-9)
}

func TestShouldBuy(t *testing.T) {
	h := newHarness(testSettings(), &fakeClient{})
	cfg := testSettings()

	assert.True(t, h.w.shouldBuy(cfg, 100), "no buy-price memory means unconditional entry")

	h.w.lastBuyPrice = 100
	assert.True(t, h.w.shouldBuy(cfg, 98.9), "a 1.1 percent drop clears a 1.0 percent threshold")
	assert.True(t, h.w.shouldBuy(cfg, 99.0), "exactly the threshold counts")
	assert.False(t, h.w.shouldBuy(cfg, 99.2))
	assert.False(t, h.w.shouldBuy(cfg, 101))
}

func TestCycleSkipsWhenPriceUnavailable(t *testing.T) {
	h := newHarness(testSettings(), &fakeClient{})
	h.prices.err = errors.New("all fetches failed")

	err := h.w.cycle(context.Background(), testSettings())
	require.NoError(t, err, "a missing price is a pause, not a failure")
	require.Len(t, h.slept, 1)
	assert.Equal(t, h.w.cfg.PriceRetryBackoff, h.slept[0])
	assert.Empty(t, h.w.orders)
}

func TestCycleBuyThenParkSell(t *testing.T) {
	client := &fakeClient{
		balance: &exchange.Balance{Free: map[string]float64{"USDT": 1000}},
	}
	client.buy = func(_ string, amount float64) (*exchange.Order, error) {
		assert.InDelta(t, 0.1, amount, 1e-12) // 10 USDT at price 100
		return &exchange.Order{ID: "b1", Status: exchange.StatusClosed}, nil
	}
	client.fetchOrder = func(id string) (*exchange.Order, error) {
		require.Equal(t, "b1", id)
		return &exchange.Order{ID: "b1", Status: exchange.StatusClosed, Average: 100, Amount: 0.1, Fee: 0.01}, nil
	}
	client.sell = func(_ string, amount, price float64) (*exchange.Order, error) {
		assert.InDelta(t, 0.1, amount, 1e-12)
		assert.InDelta(t, 101.5, price, 1e-9) // fill * (1 + 1.5/100)
		return &exchange.Order{ID: "s1", Status: exchange.StatusOpen, Amount: amount, Price: price}, nil
	}

	h := newHarness(testSettings(), client)
	require.NoError(t, h.w.cycle(context.Background(), testSettings()))

	require.Len(t, h.w.orders, 1)
	o := h.w.orders[0]
	assert.Equal(t, "s1", o.ID)
	assert.InDelta(t, 101.5, o.SellPrice, 1e-9)
	assert.Equal(t, 100.0, o.BuyPrice)
	assert.Equal(t, 0.01, o.BuyFee)
	assert.Equal(t, 100.0, h.w.lastBuyPrice)
	assert.NotEmpty(t, h.notes.msgs)
}

func TestPlaceBuyInsufficientBalanceIsThrottled(t *testing.T) {
	client := &fakeClient{
		balance: &exchange.Balance{Free: map[string]float64{"USDT": 5}},
	}
	h := newHarness(testSettings(), client)

	ctx := context.Background()
	require.NoError(t, h.w.placeBuy(ctx, testSettings(), 100))
	require.NoError(t, h.w.placeBuy(ctx, testSettings(), 100))

	assert.Len(t, h.notes.msgs, 1, "identical funds warning must not repeat")
	assert.Len(t, h.slept, 2)
	assert.Equal(t, h.w.cfg.FundsBackoff, h.slept[0])
	assert.Empty(t, h.w.orders)
}

func TestOrdersLimitBlocksEntry(t *testing.T) {
	cfg := testSettings()
	cfg.OrdersLimit = 1

	bought := false
	client := &fakeClient{
		balance: &exchange.Balance{Free: map[string]float64{"USDT": 1000}},
	}
	client.fetchOrder = func(id string) (*exchange.Order, error) {
		return &exchange.Order{ID: id, Status: exchange.StatusOpen}, nil
	}
	client.buy = func(string, float64) (*exchange.Order, error) {
		bought = true
		return &exchange.Order{ID: "b1"}, nil
	}

	h := newHarness(cfg, client)
	h.w.orders = []model.OpenOrder{
		{ID: "s1", PlacedAt: h.nowTime},
		{ID: "s2", PlacedAt: h.nowTime},
	}
	require.NoError(t, h.w.cycle(context.Background(), cfg))
	assert.False(t, bought, "two resting orders exceed a limit of one")
}

func TestEvaluateOrdersSettlesFill(t *testing.T) {
	client := &fakeClient{}
	client.fetchOrder = func(id string) (*exchange.Order, error) {
		return &exchange.Order{ID: id, Status: exchange.StatusClosed, Price: 101.5, Amount: 0.1, Fee: 0.01}, nil
	}

	h := newHarness(testSettings(), client)
	h.w.lastBuyPrice = 100
	h.w.orders = []model.OpenOrder{{ID: "s1", BuyPrice: 100, BuyFee: 0.05, SellPrice: 101.5, Amount: 0.1, PlacedAt: h.nowTime}}

	h.w.evaluateOrders(context.Background(), testSettings())

	require.Len(t, h.ledger.recs, 1)
	rec := h.ledger.recs[0]
	assert.InDelta(t, 0.09, rec.Profit, 1e-9) // (101.5-100)*0.1 - 0.05 - 0.01
	assert.Equal(t, 100.0, rec.BuyPrice)
	assert.Equal(t, 101.5, rec.SellPrice)
	assert.Equal(t, "BTC/USDT", rec.Symbol)

	assert.Empty(t, h.w.orders)
	assert.Zero(t, h.w.lastBuyPrice, "a settled sell re-arms unconditional entry")
	require.NotEmpty(t, h.slept)
	assert.Equal(t, 60*time.Second, h.slept[0], "cooldown after a fill")
}

func TestEvaluateOrdersDropsCanceledAndLost(t *testing.T) {
	client := &fakeClient{}
	client.fetchOrder = func(id string) (*exchange.Order, error) {
		switch id {
		case "gone":
			return nil, exchange.ErrOrderNotFound
		case "canceled":
			return &exchange.Order{ID: id, Status: exchange.StatusCanceled}, nil
		default:
			return &exchange.Order{ID: id, Status: exchange.StatusOpen}, nil
		}
	}

	h := newHarness(testSettings(), client)
	h.w.orders = []model.OpenOrder{
		{ID: "gone", PlacedAt: h.nowTime},
		{ID: "canceled", PlacedAt: h.nowTime},
		{ID: "resting", PlacedAt: h.nowTime},
	}

	h.w.evaluateOrders(context.Background(), testSettings())

	require.Len(t, h.w.orders, 1)
	assert.Equal(t, "resting", h.w.orders[0].ID)
	assert.Len(t, h.notes.msgs, 2)
	assert.Empty(t, h.ledger.recs, "removals never book profit")
}

func TestEvaluateOrdersRateLimitSuspendsPass(t *testing.T) {
	calls := 0
	client := &fakeClient{}
	client.fetchOrder = func(string) (*exchange.Order, error) {
		calls++
		return nil, exchange.ErrRateLimited
	}

	h := newHarness(testSettings(), client)
	h.w.orders = []model.OpenOrder{
		{ID: "s1", PlacedAt: h.nowTime},
		{ID: "s2", PlacedAt: h.nowTime},
	}

	h.w.evaluateOrders(context.Background(), testSettings())

	assert.Equal(t, 1, calls, "a rate limit suspends the rest of the pass")
	assert.Len(t, h.w.orders, 2, "nothing is dropped on a rate limit")
	require.Len(t, h.slept, 1)
	assert.Equal(t, h.w.cfg.RateLimitBackoff, h.slept[0])
}

func TestEvaluateOrdersAbandonsStuckOrder(t *testing.T) {
	client := &fakeClient{}
	client.fetchOrder = func(string) (*exchange.Order, error) {
		return nil, errors.New("venue 500")
	}

	h := newHarness(testSettings(), client)
	h.w.orders = []model.OpenOrder{
		{ID: "stuck", PlacedAt: h.nowTime.Add(-11 * time.Minute)},
		{ID: "fresh", PlacedAt: h.nowTime.Add(-1 * time.Minute)},
	}

	h.w.evaluateOrders(context.Background(), testSettings())

	require.Len(t, h.w.orders, 1)
	assert.Equal(t, "fresh", h.w.orders[0].ID)
}

func TestNetworkErrorKeepsOrder(t *testing.T) {
	client := &fakeClient{}
	client.fetchOrder = func(string) (*exchange.Order, error) {
		return nil, exchange.ErrNetwork
	}

	h := newHarness(testSettings(), client)
	h.w.orders = []model.OpenOrder{{ID: "s1", PlacedAt: h.nowTime.Add(-20 * time.Minute)}}

	h.w.evaluateOrders(context.Background(), testSettings())
	assert.Len(t, h.w.orders, 1, "network blips never abandon orders")
}

func TestRunStopsOnExpiredSubscription(t *testing.T) {
	cfg := testSettings()
	cfg.SubscriptionEnd = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h := newHarness(cfg, &fakeClient{})
	h.w.Run(context.Background())

	assert.False(t, h.settings.cfg.Enabled, "an expired tenant ends up disabled")
	require.NotEmpty(t, h.notes.msgs)
	assert.Contains(t, h.notes.msgs[0], "expired")
}

func TestRunCrashNotifiesAndStaysEnabled(t *testing.T) {
	client := &fakeClient{
		balance: &exchange.Balance{Free: map[string]float64{"USDT": 1000}},
	}
	client.buy = func(string, float64) (*exchange.Order, error) {
		panic("venue client bug")
	}

	h := newHarness(testSettings(), client)
	h.w.Run(context.Background())

	assert.True(t, h.settings.cfg.Enabled, "a crashed worker stays enabled for the restart sweep")
	require.NotEmpty(t, h.notes.msgs)
	last := h.notes.msgs[len(h.notes.msgs)-1]
	assert.Contains(t, last, "unexpected error")
	assert.NotContains(t, h.notes.msgs, "Trading bot stopped")
}

func TestRunExitsWhenDisabled(t *testing.T) {
	cfg := testSettings()
	cfg.Enabled = false

	h := newHarness(cfg, &fakeClient{})
	h.w.Run(context.Background())

	assert.Contains(t, h.notes.msgs, "Trading bot stopped")
}
