package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscvg8/scalperbot/internal/model"
)

type captureNotifier struct {
	msgs []string
}

func (c *captureNotifier) Notify(_ context.Context, tenantID, text string) {
	c.msgs = append(c.msgs, fmt.Sprintf("%s: %s", tenantID, text))
}

func TestScanWarnsInsideThreeDayWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	settings := &memSettings{stored: map[string]model.TenantSettings{
		"soon":    {TenantID: "soon", SubscriptionEnd: now.Add(30 * time.Hour)},    // 2 days (ceil)
		"far":     {TenantID: "far", SubscriptionEnd: now.Add(10 * 24 * time.Hour)}, // outside window
		"expired": {TenantID: "expired", SubscriptionEnd: now.Add(-time.Hour)},     // already gone
	}}
	capture := &captureNotifier{}

	n := NewNotifier(settings, NewMemoryDedupe(), capture, time.Hour)
	n.now = func() time.Time { return now }

	n.Scan(context.Background())

	require.Len(t, capture.msgs, 1)
	assert.Contains(t, capture.msgs[0], "soon")
	assert.Contains(t, capture.msgs[0], "2 day(s)")
}

func TestScanDeduplicatesPerDayBucket(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	settings := &memSettings{stored: map[string]model.TenantSettings{
		"t1": {TenantID: "t1", SubscriptionEnd: now.Add(50 * time.Hour)}, // 3 days (ceil)
	}}
	capture := &captureNotifier{}

	n := NewNotifier(settings, NewMemoryDedupe(), capture, time.Hour)
	n.now = func() time.Time { return now }

	n.Scan(context.Background())
	n.Scan(context.Background())
	assert.Len(t, capture.msgs, 1, "same day bucket warns once")

	// A day later the bucket drops to 2 and a new warning goes out.
	later := now.Add(24 * time.Hour)
	n.now = func() time.Time { return later }
	n.Scan(context.Background())
	require.Len(t, capture.msgs, 2)
	assert.Contains(t, capture.msgs[1], "2 day(s)")
}

func TestScanExactDayBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	settings := &memSettings{stored: map[string]model.TenantSettings{
		"t1": {TenantID: "t1", SubscriptionEnd: now.Add(72 * time.Hour)},
	}}
	capture := &captureNotifier{}

	n := NewNotifier(settings, NewMemoryDedupe(), capture, time.Hour)
	n.now = func() time.Time { return now }

	n.Scan(context.Background())
	require.Len(t, capture.msgs, 1, "exactly 72h rounds to 3 days, still inside the window")
	assert.Contains(t, capture.msgs[0], "3 day(s)")
}
