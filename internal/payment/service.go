package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/notify"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
	"github.com/sscvg8/scalperbot/internal/subscription"
	"github.com/sscvg8/scalperbot/internal/walletpool"
)

var (
	ErrNoReservation   = errors.New("payment: tenant holds no wallet reservation")
	ErrCheckInProgress = errors.New("payment: verification already running")
)

// SettingsSource supplies the price a tenant owes for an extension.
type SettingsSource interface {
	Get(ctx context.Context, tenantID string) (model.TenantSettings, error)
}

// Service ties the wallet pool, the on-chain verifier and the subscription
// gate together. One verification goroutine runs per reserved address; its
// cancel func is kept so expiry sweeps and releases can stop it.
type Service struct {
	wallets   *walletpool.Pool
	subs      *subscription.Service
	verifier  Verifier
	settings  SettingsSource
	notify    notify.Notifier
	extension time.Duration
	sweep     time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // keyed by address
}

func NewService(wallets *walletpool.Pool, subs *subscription.Service, verifier Verifier,
	settings SettingsSource, n notify.Notifier, extension, sweepEvery time.Duration) *Service {
	if extension <= 0 {
		extension = 30 * 24 * time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return &Service{
		wallets:   wallets,
		subs:      subs,
		verifier:  verifier,
		settings:  settings,
		notify:    n,
		extension: extension,
		sweep:     sweepEvery,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Begin hands the tenant a deposit address. Re-requesting while a hold is
// live returns the same reservation instead of burning a second wallet.
func (s *Service) Begin(ctx context.Context, tenantID string) (model.WalletReservation, error) {
	if res, ok := s.wallets.ReservationFor(tenantID); ok {
		return res, nil
	}

	cfg, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		return model.WalletReservation{}, err
	}
	res, err := s.wallets.Reserve(tenantID, cfg.SubscriptionPrice)
	if err != nil {
		return model.WalletReservation{}, err
	}
	logger.Info("wallet reserved for payment", "tenant", tenantID, "address", res.Address, "amount", res.AmountDue)
	return res, nil
}

// Confirm starts the background deposit check for the tenant's reservation.
// Returns immediately; the outcome is delivered through the notifier.
func (s *Service) Confirm(ctx context.Context, tenantID string) (model.WalletReservation, error) {
	res, ok := s.wallets.ReservationFor(tenantID)
	if !ok {
		return model.WalletReservation{}, ErrNoReservation
	}
	// The pool claim is the race arbiter: of two concurrent Confirm calls
	// only one marks the reservation and spawns a verification.
	if err := s.wallets.MarkChecking(res.Address); err != nil {
		if errors.Is(err, walletpool.ErrAlreadyChecking) {
			res.Checking = true
			return res, ErrCheckInProgress
		}
		return model.WalletReservation{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[res.Address] = cancel
	s.mu.Unlock()

	go s.runVerification(runCtx, res)
	res.Checking = true
	return res, nil
}

func (s *Service) runVerification(ctx context.Context, res model.WalletReservation) {
	defer s.dropCancel(res.Address)

	found, err := s.verifier.AwaitDeposit(ctx, res.Address, res.AmountDue, res.ReservedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("deposit verification aborted", "tenant", res.TenantID, "address", res.Address, "error", err)
	}
	if !found {
		s.wallets.ClearChecking(res.Address)
		s.notify.Notify(ctx, res.TenantID,
			"No matching deposit was found. If you already paid, request verification again; otherwise the wallet hold will expire.")
		return
	}

	end, err := s.subs.Extend(context.Background(), res.TenantID, s.extension)
	if err != nil {
		// The deposit is on chain but the write failed; keep the hold so a
		// retry can settle it.
		logger.Error("subscription extension failed after deposit", "tenant", res.TenantID, "error", err)
		s.wallets.ClearChecking(res.Address)
		return
	}
	s.wallets.Release(res.Address)
	logger.Info("deposit confirmed", "tenant", res.TenantID, "address", res.Address, "amount", res.AmountDue)
	s.notify.Notify(context.Background(), res.TenantID, fmt.Sprintf(
		"Payment received. Your subscription now runs until %s.", end.Format("02.01.2006 15:04:05")))
}

// Cancel releases the tenant's reservation and stops any running check.
func (s *Service) Cancel(tenantID string) error {
	res, ok := s.wallets.ReservationFor(tenantID)
	if !ok {
		return ErrNoReservation
	}
	s.stopCheck(res.Address)
	s.wallets.Release(res.Address)
	return nil
}

// Run sweeps expired reservations until the context is canceled. A purged
// hold takes its verification goroutine down with it.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			for _, res := range s.wallets.SweepExpired() {
				s.stopCheck(res.Address)
				logger.Info("wallet reservation expired", "tenant", res.TenantID, "address", res.Address)
				s.notify.Notify(ctx, res.TenantID,
					"Your payment wallet reservation expired. Request a new address to pay.")
			}
		}
	}
}

func (s *Service) stopCheck(address string) {
	s.mu.Lock()
	cancel, ok := s.cancels[address]
	if ok {
		delete(s.cancels, address)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) dropCancel(address string) {
	s.mu.Lock()
	delete(s.cancels, address)
	s.mu.Unlock()
}

func (s *Service) stopAll() {
	s.mu.Lock()
	for addr, cancel := range s.cancels {
		cancel()
		delete(s.cancels, addr)
	}
	s.mu.Unlock()
}
