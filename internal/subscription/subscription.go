// Package subscription gates trading on the tenant's paid period and warns
// ahead of expiry.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
)

// IsActive reports whether the subscription covers the given instant.
func IsActive(s model.TenantSettings, now time.Time) bool {
	return !now.After(s.SubscriptionEnd)
}

// Extend stacks onto unexpired time and restarts from now once expired; an
// extension never truncates remaining time.
func Extend(end, now time.Time, d time.Duration) time.Time {
	if now.After(end) {
		return now.Add(d)
	}
	return end.Add(d)
}

// SettingsStore is the slice of the settings repo the gate needs.
type SettingsStore interface {
	Get(ctx context.Context, tenantID string) (model.TenantSettings, error)
	Put(ctx context.Context, s model.TenantSettings) error
	List(ctx context.Context) ([]model.TenantSettings, error)
}

// DedupeStore tracks which (tenant, daysLeft) warnings went out already.
type DedupeStore interface {
	SeenMark(ctx context.Context, tenantID string, daysLeft int) (bool, error)
	Clear(ctx context.Context, tenantID string) error
}

// Service wraps the pure gate with persistence: extending a subscription is a
// read-modify-write on the settings store plus a dedupe reset so expiry
// warnings fire again for the new period.
type Service struct {
	settings SettingsStore
	dedupe   DedupeStore
	now      func() time.Time
}

func NewService(settings SettingsStore, dedupe DedupeStore) *Service {
	return &Service{settings: settings, dedupe: dedupe, now: time.Now}
}

func (s *Service) Extend(ctx context.Context, tenantID string, d time.Duration) (time.Time, error) {
	cfg, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		return time.Time{}, err
	}
	cfg.SubscriptionEnd = Extend(cfg.SubscriptionEnd, s.now(), d)
	if err := s.settings.Put(ctx, cfg); err != nil {
		return time.Time{}, err
	}
	// A failed reset only suppresses the next period's warnings; the
	// extension itself already happened.
	if err := s.dedupe.Clear(ctx, tenantID); err != nil {
		logger.Error("subscription dedupe reset failed", "tenant", tenantID, "error", err)
	}
	return cfg.SubscriptionEnd, nil
}

// MemoryDedupe is the in-process fallback sent-set.
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]map[int]struct{}
}

func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]map[int]struct{})}
}

func (m *MemoryDedupe) SeenMark(_ context.Context, tenantID string, daysLeft int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	days, ok := m.seen[tenantID]
	if !ok {
		days = make(map[int]struct{})
		m.seen[tenantID] = days
	}
	if _, dup := days[daysLeft]; dup {
		return true, nil
	}
	days[daysLeft] = struct{}{}
	return false, nil
}

func (m *MemoryDedupe) Clear(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, tenantID)
	return nil
}
