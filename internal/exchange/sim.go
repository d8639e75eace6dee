package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Sim is an in-process exchange for local runs and demos: random-walk prices,
// market buys fill instantly, limit sells fill once the walk crosses their
// price. It keeps the daemon runnable without real venue connectivity.
type Sim struct {
	mu       sync.Mutex
	prices   map[string]float64
	orders   map[string]*Order
	balances map[string]float64
	rng      *rand.Rand
	seq      int
	feeRate  float64
}

// SimFactory hands every credential pair the same shared simulator so all
// tenants trade against one market.
type SimFactory struct {
	once sync.Once
	sim  *Sim
}

func (f *SimFactory) NewClient(_, _ string) (Client, error) {
	f.once.Do(func() { f.sim = NewSim() })
	return f.sim, nil
}

func NewSim() *Sim {
	return &Sim{
		prices:   make(map[string]float64),
		orders:   make(map[string]*Order),
		balances: map[string]float64{"USDT": 10_000},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		feeRate:  0.001,
	}
}

func (s *Sim) FetchTicker(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickLocked(symbol), nil
}

// tickLocked advances the random walk one step and settles any resting sells
// the new price crosses.
func (s *Sim) tickLocked(symbol string) float64 {
	p, ok := s.prices[symbol]
	if !ok {
		p = 100
	}
	p *= 1 + (s.rng.Float64()-0.5)*0.01
	s.prices[symbol] = p

	for _, o := range s.orders {
		if o.Status == StatusOpen && p >= o.Price {
			o.Status = StatusClosed
			o.Fee = o.Price * o.Amount * s.feeRate
			base := baseAsset(symbol)
			s.balances[base] -= o.Amount
			s.balances["USDT"] += o.Price*o.Amount - o.Fee
		}
	}
	return p
}

func (s *Sim) FetchOrder(_ context.Context, id, _ string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *Sim) CreateMarketBuyOrder(_ context.Context, symbol string, amount float64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := s.tickLocked(symbol)
	cost := price * amount
	if s.balances["USDT"] < cost {
		return nil, ErrInsufficientFunds
	}
	s.balances["USDT"] -= cost
	s.balances[baseAsset(symbol)] += amount

	o := &Order{
		ID:      s.nextIDLocked(),
		Status:  StatusClosed,
		Price:   price,
		Average: price,
		Amount:  amount,
		Fee:     cost * s.feeRate,
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *Sim) CreateLimitSellOrder(_ context.Context, symbol string, amount, price float64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[baseAsset(symbol)] < amount {
		return nil, ErrInsufficientFunds
	}
	o := &Order{
		ID:     s.nextIDLocked(),
		Status: StatusOpen,
		Price:  price,
		Amount: amount,
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *Sim) FetchBalance(_ context.Context) (*Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	free := make(map[string]float64, len(s.balances))
	for k, v := range s.balances {
		free[k] = v
	}
	return &Balance{Free: free}, nil
}

func (s *Sim) nextIDLocked() string {
	s.seq++
	return fmt.Sprintf("sim-%d", s.seq)
}

func baseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}
