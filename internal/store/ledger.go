package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sscvg8/scalperbot/internal/model"
)

// LedgerRepo is the append-only profit ledger plus the reporting queries the
// status API serves.
type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepo(db *sqlx.DB) (*LedgerRepo, error) {
	r := &LedgerRepo{db: db}
	if err := r.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LedgerRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			profit REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			buy_price REAL NOT NULL,
			sell_price REAL NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_profits_tenant ON profits (tenant_id)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_profits_timestamp ON profits (timestamp)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_profits_symbol ON profits (symbol)`)
	return nil
}

func (r *LedgerRepo) AppendProfit(ctx context.Context, rec model.ProfitRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profits (tenant_id, profit, timestamp, symbol, buy_price, sell_price)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.TenantID, rec.Profit, rec.Timestamp.Unix(), rec.Symbol, rec.BuyPrice, rec.SellPrice)
	return err
}

// SymbolSummary aggregates a tenant's trades per symbol over a period.
type SymbolSummary struct {
	Symbol string  `db:"symbol" json:"symbol"`
	Profit float64 `db:"profit" json:"profit"`
	Trades int     `db:"trades" json:"trades"`
}

// SummaryBetween groups profit by symbol in [from, to).
func (r *LedgerRepo) SummaryBetween(ctx context.Context, tenantID string, from, to time.Time) ([]SymbolSummary, error) {
	var out []SymbolSummary
	err := r.db.SelectContext(ctx, &out, `
		SELECT symbol, SUM(profit) AS profit, COUNT(*) AS trades
		FROM profits
		WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY symbol
	`, tenantID, from.Unix(), to.Unix())
	return out, err
}

// Totals returns lifetime profit and trade count for a tenant.
func (r *LedgerRepo) Totals(ctx context.Context, tenantID string) (float64, int, error) {
	var row struct {
		Profit float64 `db:"profit"`
		Trades int     `db:"trades"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(profit), 0) AS profit, COUNT(*) AS trades
		FROM profits WHERE tenant_id = ?
	`, tenantID)
	return row.Profit, row.Trades, err
}

type ledgerRow struct {
	TenantID  string  `db:"tenant_id"`
	Profit    float64 `db:"profit"`
	Timestamp int64   `db:"timestamp"`
	Symbol    string  `db:"symbol"`
	BuyPrice  float64 `db:"buy_price"`
	SellPrice float64 `db:"sell_price"`
}

func (r *LedgerRepo) RecentTrades(ctx context.Context, tenantID string, limit int) ([]model.ProfitRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var rows []ledgerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, profit, timestamp, symbol, buy_price, sell_price
		FROM profits WHERE tenant_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ProfitRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.ProfitRecord{
			TenantID:  row.TenantID,
			Profit:    row.Profit,
			Timestamp: time.Unix(row.Timestamp, 0),
			Symbol:    row.Symbol,
			BuyPrice:  row.BuyPrice,
			SellPrice: row.SellPrice,
		})
	}
	return out, nil
}
