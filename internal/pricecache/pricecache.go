// Package pricecache keeps the last-known ticker price per symbol so many
// tenant workers can share one upstream call stream instead of each hammering
// the exchange.
package pricecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sscvg8/scalperbot/internal/pkg/logger"
	"github.com/sscvg8/scalperbot/internal/pkg/metrics"
)

// Fetcher is the slice of the exchange client the cache needs. The refresher
// runs on a dedicated low-privilege market-data credential.
type Fetcher interface {
	FetchTicker(ctx context.Context, symbol string) (float64, error)
}

// SymbolSource yields the symbols currently in use by enabled tenants.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

type entry struct {
	price      float64
	observedAt time.Time
}

type Cache struct {
	fetcher Fetcher
	symbols SymbolSource

	refreshEvery time.Duration
	sweepEvery   time.Duration
	evictAfter   time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	limiter *rate.Limiter
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Options struct {
	RefreshEvery time.Duration // default 10s
	SweepEvery   time.Duration // default 600s
	EvictAfter   time.Duration // default 7200s
	FetchQPS     float64       // upstream ticker call budget, default 5
}

func New(fetcher Fetcher, symbols SymbolSource, opts Options) *Cache {
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = 10 * time.Second
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 600 * time.Second
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = 7200 * time.Second
	}
	if opts.FetchQPS <= 0 {
		opts.FetchQPS = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher:      fetcher,
		symbols:      symbols,
		refreshEvery: opts.RefreshEvery,
		sweepEvery:   opts.SweepEvery,
		evictAfter:   opts.EvictAfter,
		entries:      make(map[string]entry),
		limiter:      rate.NewLimiter(rate.Limit(opts.FetchQPS), 1),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Start launches the background refresher.
func (c *Cache) Start() {
	go c.runLoop()
}

func (c *Cache) Stop() {
	c.cancel()
	<-c.done
}

func (c *Cache) runLoop() {
	defer close(c.done)

	refresh := time.NewTicker(c.refreshEvery)
	sweep := time.NewTicker(c.sweepEvery)
	defer refresh.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-refresh.C:
			c.refreshTick(c.ctx)
		case <-sweep.C:
			c.sweepStale()
		}
	}
}

// refreshTick fetches one ticker per in-use symbol. A failure on one symbol
// never blocks the rest of the tick.
func (c *Cache) refreshTick(ctx context.Context) {
	symbols, err := c.symbols.ActiveSymbols(ctx)
	if err != nil {
		logger.Error("price refresher: listing active symbols failed", "error", err)
		return
	}

	for _, symbol := range symbols {
		if _, err := c.fetchAndStore(ctx, symbol); err != nil {
			metrics.PriceFetchErrors.WithLabelValues(symbol).Inc()
			logger.Error("price refresh failed", "symbol", symbol, "error", err)
		}
	}
}

// Get returns the cached price when it is younger than twice the refresh
// interval; otherwise it fetches directly, repopulates the cache and returns
// the fresh value.
func (c *Cache) Get(ctx context.Context, symbol string) (float64, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()

	if ok && c.now().Sub(e.observedAt) < 2*c.refreshEvery {
		return e.price, nil
	}
	return c.fetchAndStore(ctx, symbol)
}

func (c *Cache) fetchAndStore(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	price, err := c.fetcher.FetchTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	c.mu.Lock()
	c.entries[symbol] = entry{price: price, observedAt: c.now()}
	metrics.PriceCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()

	return price, nil
}

func (c *Cache) sweepStale() {
	cutoff := c.now().Add(-c.evictAfter)

	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, e := range c.entries {
		if e.observedAt.Before(cutoff) {
			delete(c.entries, symbol)
			logger.Debug("evicted stale price entry", "symbol", symbol)
		}
	}
	metrics.PriceCacheSize.Set(float64(len(c.entries)))
}

// Len reports the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
