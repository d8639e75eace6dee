// Package supervisor keeps exactly one live trading worker per enabled
// tenant, restarting the ones that die and retiring the ones turned off.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
	"github.com/sscvg8/scalperbot/internal/pkg/metrics"
)

// Runner is a started worker; Run blocks until the worker stops.
type Runner interface {
	Run(ctx context.Context)
}

// WorkerFactory builds a worker from a tenant's current settings (client
// construction from credentials happens inside).
type WorkerFactory interface {
	NewWorker(s model.TenantSettings) (Runner, error)
}

// SettingsStore is the supervisor's view of tenant configuration.
type SettingsStore interface {
	Get(ctx context.Context, tenantID string) (model.TenantSettings, error)
	List(ctx context.Context) ([]model.TenantSettings, error)
	SetEnabled(ctx context.Context, tenantID string, enabled bool) error
	DisableAll(ctx context.Context) error
}

type record struct {
	tenantID     string
	runID        string
	startedAt    time.Time
	restartCount int
	done         chan struct{}
	cancel       context.CancelFunc
}

// WorkerStatus is the externally visible view of one tracked worker.
type WorkerStatus struct {
	TenantID     string    `json:"tenant_id"`
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	RestartCount int       `json:"restart_count"`
	Alive        bool      `json:"alive"`
}

type Config struct {
	SweepEvery time.Duration // default 15s
	// SuppressAfter fences a crash-looping tenant: after this many
	// consecutive restarts the supervisor clears enabled instead of
	// restarting again. 0 disables the fence (source behavior).
	SuppressAfter int
}

type Supervisor struct {
	cfg      Config
	settings SettingsStore
	factory  WorkerFactory

	mu      sync.Mutex
	records map[string]*record
}

func New(settings SettingsStore, factory WorkerFactory, cfg Config) *Supervisor {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 15 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		settings: settings,
		factory:  factory,
		records:  make(map[string]*record),
	}
}

// StartAll boots a worker for every tenant that is enabled with an unexpired
// subscription; used once at process start.
func (s *Supervisor) StartAll(ctx context.Context) {
	tenants, err := s.settings.List(ctx)
	if err != nil {
		logger.Error("supervisor: listing tenants failed", "error", err)
		return
	}
	for _, t := range tenants {
		if !t.Enabled {
			continue
		}
		logger.Info("autostarting trading worker", "tenant", t.TenantID)
		if err := s.StartWorker(ctx, t.TenantID); err != nil {
			logger.Error("autostart failed", "tenant", t.TenantID, "error", err)
		}
	}
}

// StartWorker launches a worker for the tenant unless one is already live.
// It persists enabled=true first so the worker's own loop condition holds.
func (s *Supervisor) StartWorker(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[tenantID]; ok && !isDone(rec.done) {
		return nil // at most one live worker per tenant
	}

	cfg, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		if err := s.settings.SetEnabled(ctx, tenantID, true); err != nil {
			return err
		}
		cfg.Enabled = true
	}

	rec, err := s.launchLocked(cfg, 0)
	if err != nil {
		return err
	}
	s.records[tenantID] = rec
	metrics.WorkersLive.Set(float64(len(s.records)))
	return nil
}

// StopWorker clears the enabled flag; the worker observes it cooperatively
// at its next settings refresh and exits on its own.
func (s *Supervisor) StopWorker(ctx context.Context, tenantID string) error {
	return s.settings.SetEnabled(ctx, tenantID, false)
}

func (s *Supervisor) launchLocked(cfg model.TenantSettings, restartCount int) (*record, error) {
	w, err := s.factory.NewWorker(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		tenantID:     cfg.TenantID,
		runID:        uuid.NewString(),
		startedAt:    time.Now(),
		restartCount: restartCount,
		done:         make(chan struct{}),
		cancel:       cancel,
	}
	go func() {
		defer close(rec.done)
		w.Run(ctx)
	}()
	return rec, nil
}

// Run drives the sweep loop until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep inspects every tracked worker: dead ones are restarted when the
// tenant is still enabled, discarded when not. Restarts happen immediately;
// escalating counts are surfaced in the logs.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tenantID, rec := range s.records {
		if !isDone(rec.done) {
			continue
		}

		cfg, err := s.settings.Get(ctx, tenantID)
		if err != nil {
			logger.Error("supervisor: settings lookup failed", "tenant", tenantID, "error", err)
			continue
		}
		if !cfg.Enabled {
			delete(s.records, tenantID)
			logger.Info("removed stopped worker record", "tenant", tenantID)
			continue
		}

		count := rec.restartCount + 1
		if s.cfg.SuppressAfter > 0 && count > s.cfg.SuppressAfter {
			// Crash-loop fence: stop resurrecting a tenant that keeps dying.
			if err := s.settings.SetEnabled(ctx, tenantID, false); err != nil {
				logger.Error("supervisor: disabling crash-looping tenant failed", "tenant", tenantID, "error", err)
			}
			delete(s.records, tenantID)
			logger.Error("worker suppressed after repeated restarts", "tenant", tenantID, "restarts", rec.restartCount)
			continue
		}

		newRec, err := s.launchLocked(cfg, count)
		if err != nil {
			logger.Error("supervisor: restart failed", "tenant", tenantID, "error", err)
			continue
		}
		s.records[tenantID] = newRec
		metrics.WorkerRestarts.Inc()
		if count >= 5 {
			logger.Error("worker restarted repeatedly", "tenant", tenantID, "attempt", count)
		} else {
			logger.Warn("worker restarted", "tenant", tenantID, "attempt", count)
		}
	}
	metrics.WorkersLive.Set(float64(len(s.records)))
}

// Shutdown cancels every worker, waits for them to finish, and persists
// enabled=false for all tenants so nothing auto-resumes unvalidated.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		rec.cancel()
		recs = append(recs, rec)
	}
	s.records = make(map[string]*record)
	s.mu.Unlock()

	for _, rec := range recs {
		select {
		case <-rec.done:
		case <-ctx.Done():
		}
	}

	if err := s.settings.DisableAll(ctx); err != nil {
		logger.Error("supervisor: disabling tenants on shutdown failed", "error", err)
	}
	metrics.WorkersLive.Set(0)
}

// Snapshot lists tracked workers for the status API.
func (s *Supervisor) Snapshot() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerStatus, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, WorkerStatus{
			TenantID:     rec.tenantID,
			RunID:        rec.runID,
			StartedAt:    rec.startedAt,
			RestartCount: rec.restartCount,
			Alive:        !isDone(rec.done),
		})
	}
	return out
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
