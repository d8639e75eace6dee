package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscvg8/scalperbot/internal/model"
)

func newTestLedger(t *testing.T) *LedgerRepo {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewLedgerRepo(db)
	require.NoError(t, err)
	return repo
}

func seedTrades(t *testing.T, repo *LedgerRepo, base time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []model.ProfitRecord{
		{TenantID: "t1", Profit: 0.5, Timestamp: base, Symbol: "BTC/USDT", BuyPrice: 100, SellPrice: 101.5},
		{TenantID: "t1", Profit: -0.1, Timestamp: base.Add(time.Hour), Symbol: "BTC/USDT", BuyPrice: 102, SellPrice: 101.8},
		{TenantID: "t1", Profit: 0.3, Timestamp: base.Add(40 * 24 * time.Hour), Symbol: "ETH/USDT", BuyPrice: 3000, SellPrice: 3045},
		{TenantID: "t2", Profit: 9.9, Timestamp: base, Symbol: "BTC/USDT", BuyPrice: 100, SellPrice: 110},
	} {
		require.NoError(t, repo.AppendProfit(ctx, rec))
	}
}

func TestTotalsPerTenant(t *testing.T) {
	repo := newTestLedger(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedTrades(t, repo, base)

	profit, trades, err := repo.Totals(context.Background(), "t1")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, profit, 1e-9)
	assert.Equal(t, 3, trades)

	profit, trades, err = repo.Totals(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, profit)
	assert.Zero(t, trades)
}

func TestSummaryBetweenWindowsAndGroups(t *testing.T) {
	repo := newTestLedger(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedTrades(t, repo, base)

	// 30-day window from base catches the two BTC trades, not the later ETH one.
	summary, err := repo.SummaryBetween(context.Background(), "t1", base, base.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "BTC/USDT", summary[0].Symbol)
	assert.InDelta(t, 0.4, summary[0].Profit, 1e-9)
	assert.Equal(t, 2, summary[0].Trades)
}

func TestRecentTradesNewestFirst(t *testing.T) {
	repo := newTestLedger(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedTrades(t, repo, base)

	recent, err := repo.RecentTrades(context.Background(), "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ETH/USDT", recent[0].Symbol)
	assert.Equal(t, base.Add(time.Hour).Unix(), recent[1].Timestamp.Unix())

	// Out-of-range limits fall back to the default page size.
	recent, err = repo.RecentTrades(context.Background(), "t1", -5)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
