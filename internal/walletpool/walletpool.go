// Package walletpool hands out payment addresses from a small fixed pool.
// A wallet belongs to at most one tenant at a time, a tenant holds at most
// one wallet, and every hold expires after the reservation TTL.
package walletpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/pkg/metrics"
)

var (
	ErrNoWalletAvailable = errors.New("walletpool: all wallets are occupied")
	ErrTenantReserved    = errors.New("walletpool: tenant already holds a reservation")
	ErrNotReserved       = errors.New("walletpool: address is not reserved")
	ErrAlreadyChecking   = errors.New("walletpool: reservation is already under verification")
)

type Pool struct {
	mu           sync.Mutex
	addresses    []string
	reservations map[string]*model.WalletReservation // keyed by address
	lastIndex    int
	ttl          time.Duration
	now          func() time.Time
}

// New validates and checksums the pool addresses. TTL defaults to one hour.
func New(addresses []string, ttl time.Duration) (*Pool, error) {
	if len(addresses) == 0 {
		return nil, errors.New("walletpool: empty address list")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	normalized := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("walletpool: invalid address %q", a)
		}
		hex := common.HexToAddress(a).Hex()
		if _, dup := seen[hex]; dup {
			return nil, fmt.Errorf("walletpool: duplicate address %s", hex)
		}
		seen[hex] = struct{}{}
		normalized = append(normalized, hex)
	}

	return &Pool{
		addresses:    normalized,
		reservations: make(map[string]*model.WalletReservation),
		lastIndex:    -1,
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// Reserve purges expired holds, then scans round-robin from just past the
// last assigned slot for a free address. A tenant with a live reservation is
// rejected; callers should look it up with ReservationFor first.
func (p *Pool) Reserve(tenantID string, amountDue float64) (model.WalletReservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.purgeExpiredLocked()

	for _, r := range p.reservations {
		if r.TenantID == tenantID {
			return model.WalletReservation{}, ErrTenantReserved
		}
	}

	start := (p.lastIndex + 1) % len(p.addresses)
	for i := 0; i < len(p.addresses); i++ {
		idx := (start + i) % len(p.addresses)
		addr := p.addresses[idx]
		if _, taken := p.reservations[addr]; taken {
			continue
		}
		res := &model.WalletReservation{
			Address:    addr,
			TenantID:   tenantID,
			ReservedAt: p.now(),
			AmountDue:  amountDue,
		}
		p.reservations[addr] = res
		p.lastIndex = idx
		metrics.WalletsReserved.Set(float64(len(p.reservations)))
		return *res, nil
	}
	return model.WalletReservation{}, ErrNoWalletAvailable
}

// ReservationFor returns the tenant's live reservation, if any.
func (p *Pool) ReservationFor(tenantID string) (model.WalletReservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.purgeExpiredLocked()
	for _, r := range p.reservations {
		if r.TenantID == tenantID {
			return *r, true
		}
	}
	return model.WalletReservation{}, false
}

func (p *Pool) Release(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reservations, address)
	metrics.WalletsReserved.Set(float64(len(p.reservations)))
}

// MarkChecking claims the reservation for a deposit verification. The claim
// is atomic under the pool lock: a reservation already under verification
// returns ErrAlreadyChecking, so two callers can never both win. The TTL
// keeps counting from ReservedAt; checking does not extend the hold.
func (p *Pool) MarkChecking(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[address]
	if !ok {
		return ErrNotReserved
	}
	if r.Checking {
		return ErrAlreadyChecking
	}
	r.Checking = true
	r.CheckingStartedAt = p.now()
	return nil
}

// ClearChecking drops the checking flag after a failed verification so the
// tenant can retry within the reservation window.
func (p *Pool) ClearChecking(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reservations[address]; ok {
		r.Checking = false
		r.CheckingStartedAt = time.Time{}
	}
}

// SweepExpired purges reservations older than the TTL regardless of checking
// state and returns them so callers can cancel attached work.
func (p *Pool) SweepExpired() []model.WalletReservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.purgeExpiredLocked()
}

func (p *Pool) purgeExpiredLocked() []model.WalletReservation {
	cutoff := p.now().Add(-p.ttl)
	var purged []model.WalletReservation
	for addr, r := range p.reservations {
		if r.ReservedAt.Before(cutoff) {
			purged = append(purged, *r)
			delete(p.reservations, addr)
		}
	}
	if purged != nil {
		metrics.WalletsReserved.Set(float64(len(p.reservations)))
	}
	return purged
}

// Snapshot copies the live reservations for the status API.
func (p *Pool) Snapshot() []model.WalletReservation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.WalletReservation, 0, len(p.reservations))
	for _, r := range p.reservations {
		out = append(out, *r)
	}
	return out
}

// Size reports the pool capacity.
func (p *Pool) Size() int {
	return len(p.addresses)
}
