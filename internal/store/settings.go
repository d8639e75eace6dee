package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sscvg8/scalperbot/internal/model"
)

var ErrTenantNotFound = errors.New("store: tenant not found")

// SettingsRepo persists per-tenant trading configuration. Read-modify-write,
// last write wins; workers re-fetch on an interval instead of caching.
type SettingsRepo struct {
	db           *sqlx.DB
	trial        time.Duration
	defaultPrice float64
}

type settingsRow struct {
	TenantID          string  `db:"tenant_id"`
	Symbol            string  `db:"symbol"`
	Amount            float64 `db:"amount"`
	FallPercent       float64 `db:"fall_percent"`
	RisePercent       float64 `db:"rise_percent"`
	CooldownSeconds   int     `db:"cooldown_seconds"`
	OrdersLimit       int     `db:"orders_limit"`
	SubscriptionPrice float64 `db:"subscription_price"`
	SubscriptionEnd   int64   `db:"subscription_end"`
	Enabled           bool    `db:"enabled"`
	APIKey            string  `db:"api_key"`
	APISecret         string  `db:"api_secret"`
}

func NewSettingsRepo(db *sqlx.DB, trial time.Duration, defaultPrice float64) (*SettingsRepo, error) {
	r := &SettingsRepo{db: db, trial: trial, defaultPrice: defaultPrice}
	if err := r.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SettingsRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			amount REAL NOT NULL,
			fall_percent REAL NOT NULL,
			rise_percent REAL NOT NULL,
			cooldown_seconds INTEGER NOT NULL,
			orders_limit INTEGER NOT NULL,
			subscription_price REAL NOT NULL,
			subscription_end INTEGER NOT NULL,
			enabled INTEGER NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			api_secret TEXT NOT NULL DEFAULT '',
			created_at INTEGER,
			updated_at INTEGER
		)
	`)
	return err
}

const settingsColumns = `tenant_id, symbol, amount, fall_percent, rise_percent,
	cooldown_seconds, orders_limit, subscription_price, subscription_end,
	enabled, api_key, api_secret`

// Get returns the tenant's settings, creating a default row with a trial
// subscription on first contact.
func (r *SettingsRepo) Get(ctx context.Context, tenantID string) (model.TenantSettings, error) {
	var row settingsRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+settingsColumns+` FROM tenants WHERE tenant_id = ? LIMIT 1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		s := r.defaults(tenantID)
		if err := r.Put(ctx, s); err != nil {
			return model.TenantSettings{}, err
		}
		return s, nil
	}
	if err != nil {
		return model.TenantSettings{}, err
	}
	return row.toDomain(), nil
}

func (r *SettingsRepo) defaults(tenantID string) model.TenantSettings {
	return model.TenantSettings{
		TenantID:          tenantID,
		Symbol:            "BTC/USDT",
		Amount:            10,
		FallPercent:       1.0,
		RisePercent:       1.5,
		CooldownSeconds:   60,
		OrdersLimit:       0,
		SubscriptionPrice: r.defaultPrice,
		SubscriptionEnd:   time.Now().Add(r.trial),
		Enabled:           false,
	}
}

func (r *SettingsRepo) Put(ctx context.Context, s model.TenantSettings) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (`+settingsColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			symbol=excluded.symbol, amount=excluded.amount,
			fall_percent=excluded.fall_percent, rise_percent=excluded.rise_percent,
			cooldown_seconds=excluded.cooldown_seconds, orders_limit=excluded.orders_limit,
			subscription_price=excluded.subscription_price,
			subscription_end=excluded.subscription_end, enabled=excluded.enabled,
			api_key=excluded.api_key, api_secret=excluded.api_secret,
			updated_at=excluded.updated_at
	`, s.TenantID, s.Symbol, s.Amount, s.FallPercent, s.RisePercent,
		s.CooldownSeconds, s.OrdersLimit, s.SubscriptionPrice,
		s.SubscriptionEnd.Unix(), s.Enabled, s.Creds.APIKey, s.Creds.APISecret,
		now, now)
	return err
}

func (r *SettingsRepo) List(ctx context.Context) ([]model.TenantSettings, error) {
	var rows []settingsRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+settingsColumns+` FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	out := make([]model.TenantSettings, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// SetEnabled flips only the enabled flag; the single field workers are
// allowed to write.
func (r *SettingsRepo) SetEnabled(ctx context.Context, tenantID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET enabled = ?, updated_at = ? WHERE tenant_id = ?`,
		enabled, time.Now().Unix(), tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// DisableAll is the shutdown barrier: no worker auto-resumes after a restart
// unless an operator re-enables it.
func (r *SettingsRepo) DisableAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET enabled = 0, updated_at = ?`, time.Now().Unix())
	return err
}

// ActiveSymbols feeds the price refresher: distinct symbols of enabled tenants.
func (r *SettingsRepo) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := r.db.SelectContext(ctx, &symbols,
		`SELECT DISTINCT symbol FROM tenants WHERE enabled = 1`)
	return symbols, err
}

func (row settingsRow) toDomain() model.TenantSettings {
	return model.TenantSettings{
		TenantID:          row.TenantID,
		Symbol:            row.Symbol,
		Amount:            row.Amount,
		FallPercent:       row.FallPercent,
		RisePercent:       row.RisePercent,
		CooldownSeconds:   row.CooldownSeconds,
		OrdersLimit:       row.OrdersLimit,
		SubscriptionPrice: row.SubscriptionPrice,
		SubscriptionEnd:   time.Unix(row.SubscriptionEnd, 0),
		Enabled:           row.Enabled,
		Creds: model.ExchangeCreds{
			APIKey:    row.APIKey,
			APISecret: row.APISecret,
		},
	}
}
