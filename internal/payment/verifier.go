// Package payment turns on-chain deposits into subscription extensions. A
// tenant reserves a pool wallet, sends the subscription price in USDT on
// BNB Smart Chain, and asks for verification; the verifier polls the block
// explorer until a matching transfer shows up or the wait budget runs out.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sscvg8/scalperbot/internal/pkg/logger"
)

// Verifier blocks until a deposit of the expected amount lands on the
// address, the wait budget is exhausted, or the context is canceled.
type Verifier interface {
	AwaitDeposit(ctx context.Context, address string, amount float64, since time.Time) (bool, error)
}

type ExplorerConfig struct {
	APIKey  string
	BaseURL string // default https://api.etherscan.io/v2/api
	ChainID int    // default 56 (BNB Smart Chain)

	PollEvery time.Duration // default 60s
	MaxWait   time.Duration // default 1h
}

// ExplorerVerifier polls the etherscan v2 multichain API for USDT token
// transfers to the deposit address; amounts match within 1e-6. Native coin
// transfers are ignored: the amount due is denominated in USDT and a raw coin
// value cannot be compared to it without a rate.
type ExplorerVerifier struct {
	cfg   ExplorerConfig
	httpc *http.Client
	now   func() time.Time
}

func NewExplorerVerifier(cfg ExplorerConfig) *ExplorerVerifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.etherscan.io/v2/api"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 56
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Minute
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Hour
	}
	return &ExplorerVerifier{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 15 * time.Second},
		now:   time.Now,
	}
}

func (v *ExplorerVerifier) AwaitDeposit(ctx context.Context, address string, amount float64, since time.Time) (bool, error) {
	deadline := v.now().Add(v.cfg.MaxWait)
	ticker := time.NewTicker(v.cfg.PollEvery)
	defer ticker.Stop()

	for {
		found, err := v.checkOnce(ctx, address, amount, since)
		if err != nil {
			// Explorer hiccups are retried until the wait budget runs out.
			logger.Warn("deposit check failed", "address", address, "error", err)
		}
		if found {
			return true, nil
		}
		if v.now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		TimeStamp    string `json:"timeStamp"`
		To           string `json:"to"`
		Value        string `json:"value"`
		TokenSymbol  string `json:"tokenSymbol"`
		TokenDecimal string `json:"tokenDecimal"`
	} `json:"result"`
}

func (v *ExplorerVerifier) checkOnce(ctx context.Context, address string, amount float64, since time.Time) (bool, error) {
	token, err := v.fetch(ctx, "tokentx", address)
	if err != nil {
		return false, err
	}
	return matchTransfers(token, address, amount, since), nil
}

func (v *ExplorerVerifier) fetch(ctx context.Context, action, address string) (*explorerResponse, error) {
	q := url.Values{}
	q.Set("chainid", fmt.Sprintf("%d", v.cfg.ChainID))
	q.Set("module", "account")
	q.Set("action", action)
	q.Set("address", address)
	q.Set("sort", "desc")
	q.Set("apikey", v.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment: explorer returned %d for %s", resp.StatusCode, action)
	}

	var out explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("payment: decoding %s response: %w", action, err)
	}
	// Status "0" with "No transactions found" is an empty result, not a fault.
	return &out, nil
}

var matchTolerance = decimal.New(1, -6)

func matchTransfers(resp *explorerResponse, address string, amount float64, since time.Time) bool {
	want := decimal.NewFromFloat(amount)
	for _, tx := range resp.Result {
		if !strings.EqualFold(tx.To, address) {
			continue
		}
		if !strings.EqualFold(tx.TokenSymbol, "USDT") {
			continue
		}
		ts, err := decimal.NewFromString(tx.TimeStamp)
		if err != nil || ts.IntPart() < since.Unix() {
			continue
		}

		raw, err := decimal.NewFromString(tx.Value)
		if err != nil {
			continue
		}
		dec, err := decimal.NewFromString(tx.TokenDecimal)
		if err != nil {
			continue
		}
		got := raw.Shift(-int32(dec.IntPart()))
		if got.Sub(want).Abs().LessThan(matchTolerance) {
			return true
		}
	}
	return false
}
