package payment

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/subscription"
	"github.com/sscvg8/scalperbot/internal/walletpool"
)

// fakeVerifier blocks until a result is pushed or its context dies, standing
// in for the hour-long explorer poll.
type fakeVerifier struct {
	result  chan bool
	aborted chan struct{}

	mu    sync.Mutex
	calls int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		result:  make(chan bool, 1),
		aborted: make(chan struct{}, 1),
	}
}

func (f *fakeVerifier) AwaitDeposit(ctx context.Context, _ string, _ float64, _ time.Time) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		f.aborted <- struct{}{}
		return false, ctx.Err()
	case found := <-f.result:
		return found, nil
	}
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memSettings struct {
	mu     sync.Mutex
	stored map[string]model.TenantSettings
}

func (m *memSettings) Get(_ context.Context, id string) (model.TenantSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[id], nil
}

func (m *memSettings) Put(_ context.Context, s model.TenantSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[s.TenantID] = s
	return nil
}

func (m *memSettings) List(context.Context) ([]model.TenantSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TenantSettings, 0, len(m.stored))
	for _, s := range m.stored {
		out = append(out, s)
	}
	return out, nil
}

func (m *memSettings) end(id string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[id].SubscriptionEnd
}

// safeNotifier is goroutine-safe; verification outcomes arrive off-thread.
type safeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *safeNotifier) Notify(_ context.Context, _ string, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *safeNotifier) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	svc      *Service
	pool     *walletpool.Pool
	verifier *fakeVerifier
	settings *memSettings
	dedupe   *subscription.MemoryDedupe
	notes    *safeNotifier
}

func newServiceFixture(t *testing.T, ttl time.Duration, sweep time.Duration) *serviceFixture {
	t.Helper()

	pool, err := walletpool.New([]string{"0x1111111111111111111111111111111111111111"}, ttl)
	require.NoError(t, err)

	settings := &memSettings{stored: map[string]model.TenantSettings{
		"t1": {
			TenantID:          "t1",
			SubscriptionPrice: 30,
			SubscriptionEnd:   time.Now().Add(10 * 24 * time.Hour),
		},
	}}
	dedupe := subscription.NewMemoryDedupe()
	subs := subscription.NewService(settings, dedupe)
	verifier := newFakeVerifier()
	notes := &safeNotifier{}

	return &serviceFixture{
		svc:      NewService(pool, subs, verifier, settings, notes, 30*24*time.Hour, sweep),
		pool:     pool,
		verifier: verifier,
		settings: settings,
		dedupe:   dedupe,
		notes:    notes,
	}
}

func TestConfirmedDepositExtendsAndReleases(t *testing.T) {
	f := newServiceFixture(t, time.Hour, time.Minute)
	ctx := context.Background()

	// A warning already sent for the old period; the extension re-arms it.
	seen, err := f.dedupe.SeenMark(ctx, "t1", 1)
	require.NoError(t, err)
	require.False(t, seen)

	res, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.AmountDue)

	// Begin is idempotent while the hold lives.
	again, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, res.Address, again.Address)

	endBefore := f.settings.end("t1")

	_, err = f.svc.Confirm(ctx, "t1")
	require.NoError(t, err)

	// A second Confirm must not spawn a second verification for the same
	// deposit.
	dup, err := f.svc.Confirm(ctx, "t1")
	assert.ErrorIs(t, err, ErrCheckInProgress)
	assert.True(t, dup.Checking)

	f.verifier.result <- true
	require.Eventually(t, func() bool {
		_, held := f.pool.ReservationFor("t1")
		return !held
	}, time.Second, 5*time.Millisecond, "a confirmed deposit releases the wallet")

	assert.Equal(t, 1, f.verifier.callCount(), "one deposit, one verification, one extension")
	assert.WithinDuration(t, endBefore.Add(30*24*time.Hour), f.settings.end("t1"), time.Second)
	assert.True(t, f.notes.contains("Payment received"))

	seen, err = f.dedupe.SeenMark(ctx, "t1", 1)
	require.NoError(t, err)
	assert.False(t, seen, "extension re-arms expiry warnings")
}

func TestFailedVerificationAllowsRetry(t *testing.T) {
	f := newServiceFixture(t, time.Hour, time.Minute)
	ctx := context.Background()

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "t1")
	require.NoError(t, err)

	endBefore := f.settings.end("t1")
	f.verifier.result <- false

	require.Eventually(t, func() bool {
		res, held := f.pool.ReservationFor("t1")
		return held && !res.Checking
	}, time.Second, 5*time.Millisecond, "a failed check keeps the hold and clears the claim")

	assert.Equal(t, endBefore, f.settings.end("t1"), "no deposit, no extension")
	assert.True(t, f.notes.contains("No matching deposit"))

	// The tenant can ask again within the reservation window.
	_, err = f.svc.Confirm(ctx, "t1")
	require.NoError(t, err)
}

func TestCancelStopsRunningVerification(t *testing.T) {
	f := newServiceFixture(t, time.Hour, time.Minute)
	ctx := context.Background()

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel("t1"))

	select {
	case <-f.verifier.aborted:
	case <-time.After(time.Second):
		t.Fatal("cancelling the reservation did not stop the verification")
	}
	_, held := f.pool.ReservationFor("t1")
	assert.False(t, held)

	assert.ErrorIs(t, f.svc.Cancel("t1"), ErrNoReservation)
}

func TestSweepCancelsVerificationOfExpiredHold(t *testing.T) {
	f := newServiceFixture(t, 30*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "t1")
	require.NoError(t, err)

	go f.svc.Run(ctx)

	select {
	case <-f.verifier.aborted:
	case <-time.After(time.Second):
		t.Fatal("expiry sweep did not cancel the verification")
	}
	_, held := f.pool.ReservationFor("t1")
	assert.False(t, held)
	require.Eventually(t, func() bool {
		return f.notes.contains("reservation expired")
	}, time.Second, 5*time.Millisecond)
}
