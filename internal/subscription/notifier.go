package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/sscvg8/scalperbot/internal/notify"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
)

// Notifier scans all tenants on a long interval and emits one warning per
// tenant per integer day-remaining threshold in {1,2,3}. The dedupe store is
// cleared when a subscription is extended, re-arming the warnings.
type Notifier struct {
	settings SettingsStore
	dedupe   DedupeStore
	notify   notify.Notifier
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	cancel   context.CancelFunc
}

func NewNotifier(settings SettingsStore, dedupe DedupeStore, n notify.Notifier, interval time.Duration) *Notifier {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Notifier{
		settings: settings,
		dedupe:   dedupe,
		notify:   n,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (n *Notifier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.runLoop(ctx)
}

func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
}

func (n *Notifier) runLoop(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Scan(ctx)
		}
	}
}

// Scan is one pass over all tenants. Exported so the wiring can run an
// immediate pass on boot.
func (n *Notifier) Scan(ctx context.Context) {
	tenants, err := n.settings.List(ctx)
	if err != nil {
		logger.Error("subscription notifier: listing tenants failed", "error", err)
		return
	}

	now := n.now()
	for _, t := range tenants {
		remaining := t.SubscriptionEnd.Sub(now)
		if remaining <= 0 {
			continue
		}
		daysLeft := int((remaining + 24*time.Hour - time.Nanosecond) / (24 * time.Hour)) // ceil
		if daysLeft > 3 {
			continue
		}

		seen, err := n.dedupe.SeenMark(ctx, t.TenantID, daysLeft)
		if err != nil {
			logger.Error("subscription notifier: dedupe check failed", "tenant", t.TenantID, "error", err)
			continue
		}
		if seen {
			continue
		}

		n.notify.Notify(ctx, t.TenantID, fmt.Sprintf(
			"Your subscription expires in %d day(s), on %s. Extend it to keep the trading bot running.",
			daysLeft, t.SubscriptionEnd.Format("02.01.2006 15:04:05")))
		logger.Info("subscription expiry warning sent", "tenant", t.TenantID, "days_left", daysLeft)
	}
}
