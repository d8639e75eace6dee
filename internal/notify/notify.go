// Package notify delivers fire-and-forget messages to tenants. Delivery
// failures are logged, never propagated; a dead messaging channel must not
// stop trading.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sscvg8/scalperbot/internal/pkg/logger"
)

type Notifier interface {
	Notify(ctx context.Context, tenantID, text string)
}

// Telegram sends through the Bot API. Tenant IDs double as chat IDs.
type Telegram struct {
	token   string
	baseURL string
	httpc   *http.Client
}

func NewTelegram(token string) *Telegram {
	return &Telegram{
		token:   token,
		baseURL: "https://api.telegram.org",
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Notify(ctx context.Context, tenantID, text string) {
	form := url.Values{}
	form.Set("chat_id", tenantID)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		logger.Error("telegram notify: building request failed", "tenant", tenantID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpc.Do(req)
	if err != nil {
		logger.Error("telegram notify failed", "tenant", tenantID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error("telegram notify rejected", "tenant", tenantID, "status", resp.StatusCode)
	}
}

// Log is the fallback notifier when no bot token is configured.
type Log struct{}

func (Log) Notify(_ context.Context, tenantID, text string) {
	logger.Info("notify", "tenant", tenantID, "text", text)
}
