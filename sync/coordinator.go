package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mls_syncd/config"
	"mls_syncd/models"
	"mls_syncd/provider"
)

var (
	// ErrSyncInProgress rejects a trigger for a provider that already has a
	// run in flight. No queueing.
	ErrSyncInProgress = errors.New("sync: already in progress")
	// ErrNoActiveSync is returned by cancel when nothing is running.
	ErrNoActiveSync = errors.New("sync: no active sync")
	// ErrUnknownProvider is returned for provider ids absent from config.
	ErrUnknownProvider = errors.New("sync: unknown provider")
)

// AdapterFactory builds the adapter for one run. Injected so tests can swap
// in fakes.
type AdapterFactory func(cfg *config.ProviderConfig, creds config.Credentials) (provider.Adapter, error)

// Ack is the immediate response to a trigger; the run itself is asynchronous
// and observable only through status/history.
type Ack struct {
	ProviderID  string          `json:"provider_id"`
	Kind        models.SyncKind `json:"kind"`
	TriggeredBy string          `json:"triggered_by"`
	StartedAt   time.Time       `json:"started_at"`
}

// Coordinator guards at-most-one-in-flight-run-per-provider and exposes the
// operational surface: trigger, cancel, status, history, errors, statistics
// and the scheduler's due-check. The in-flight registry is per-instance and
// in-memory only; after a crash mid-run the ledger keeps the row "running"
// until an operator reconciles it.
type Coordinator struct {
	cfg        *config.Config
	props      PropertyRepository
	mediaRepo  MediaRepository
	ledger     Ledger
	pipeline   MediaProcessor
	newAdapter AdapterFactory

	mu     sync.Mutex
	active map[string]*Orchestrator
	paused bool
}

func NewCoordinator(cfg *config.Config, props PropertyRepository, mediaRepo MediaRepository, ledger Ledger, pipeline MediaProcessor, factory AdapterFactory) *Coordinator {
	if factory == nil {
		factory = func(pc *config.ProviderConfig, creds config.Credentials) (provider.Adapter, error) {
			return provider.New(pc, creds, nil)
		}
	}
	return &Coordinator{
		cfg:        cfg,
		props:      props,
		mediaRepo:  mediaRepo,
		ledger:     ledger,
		pipeline:   pipeline,
		newAdapter: factory,
		active:     make(map[string]*Orchestrator),
	}
}

// TriggerSync starts a run for a provider and returns as soon as it is
// registered. ErrSyncInProgress when one is already in flight.
func (c *Coordinator) TriggerSync(ctx context.Context, providerID string, kind models.SyncKind, actor string) (*Ack, error) {
	pc, ok := c.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	adapter, err := c.newAdapter(pc, config.LoadCredentials(providerID))
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	orch := NewOrchestrator(pc, adapter, c.props, c.mediaRepo, c.ledger, c.pipeline)

	c.mu.Lock()
	if _, running := c.active[providerID]; running {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, providerID)
	}
	c.active[providerID] = orch
	c.mu.Unlock()

	// The run outlives the trigger call. Detach it from the caller's
	// context so a request-scoped cancellation cannot kill it mid-upsert;
	// stopping a run goes through CancelSync.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, providerID)
			c.mu.Unlock()
		}()

		if _, err := orch.Run(runCtx, kind, actor); err != nil {
			log.Printf("[%s] sync run failed: %v", providerID, err)
		}
	}()

	return &Ack{
		ProviderID:  providerID,
		Kind:        kind,
		TriggeredBy: actor,
		StartedAt:   time.Now(),
	}, nil
}

// CancelSync asks the provider's in-flight run to stop. Cooperative: the
// current record finishes, then the run seals as cancelled.
func (c *Coordinator) CancelSync(ctx context.Context, providerID string) error {
	c.mu.Lock()
	orch, running := c.active[providerID]
	c.mu.Unlock()

	if !running {
		return fmt.Errorf("%w: %s", ErrNoActiveSync, providerID)
	}

	orch.Cancel(ctx)
	return nil
}

// InFlight reports whether a run is currently registered for the provider.
func (c *Coordinator) InFlight(providerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running := c.active[providerID]
	return running
}

// Status returns one provider's rolling health. A provider that never ran
// gets a default row rather than (nil, error).
func (c *Coordinator) Status(ctx context.Context, providerID string) (*models.ProviderSyncStatus, error) {
	pc, ok := c.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	st, err := c.ledger.GetProviderStatus(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &models.ProviderSyncStatus{
			ProviderID:    providerID,
			SyncEnabled:   true,
			IntervalHours: pc.SyncIntervalHours,
		}
	}
	return st, nil
}

// StatusAll returns health rows for every configured provider.
func (c *Coordinator) StatusAll(ctx context.Context) ([]models.ProviderSyncStatus, error) {
	stored, err := c.ledger.ListProviderStatuses(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.ProviderSyncStatus, len(stored))
	for _, st := range stored {
		byID[st.ProviderID] = st
	}

	var out []models.ProviderSyncStatus
	for id, pc := range c.cfg.Providers {
		if st, ok := byID[id]; ok {
			out = append(out, st)
			continue
		}
		out = append(out, models.ProviderSyncStatus{
			ProviderID:    id,
			SyncEnabled:   true,
			IntervalHours: pc.SyncIntervalHours,
		})
	}
	return out, nil
}

// HealthCheck connects the provider's adapter just long enough to probe it.
func (c *Coordinator) HealthCheck(ctx context.Context, providerID string) (provider.Health, error) {
	pc, ok := c.cfg.Providers[providerID]
	if !ok {
		return provider.Health{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	adapter, err := c.newAdapter(pc, config.LoadCredentials(providerID))
	if err != nil {
		return provider.Health{}, err
	}

	if err := adapter.Connect(ctx); err != nil {
		return provider.Health{Healthy: false, Message: err.Error()}, nil
	}
	defer adapter.Disconnect(ctx)

	return adapter.HealthCheck(ctx)
}

func (c *Coordinator) History(ctx context.Context, providerID string, limit int) ([]models.SyncRun, error) {
	if _, ok := c.cfg.Providers[providerID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if limit <= 0 {
		limit = 20
	}
	return c.ledger.ListSyncRuns(ctx, providerID, limit)
}

func (c *Coordinator) RecentHistory(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.ledger.ListRecentRuns(ctx, limit)
}

func (c *Coordinator) Errors(ctx context.Context, providerID string, limit int) ([]models.SyncLog, error) {
	if _, ok := c.cfg.Providers[providerID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if limit <= 0 {
		limit = 50
	}
	return c.ledger.ListErrors(ctx, providerID, limit)
}

func (c *Coordinator) Statistics(ctx context.Context) (*models.SyncStatistics, error) {
	return c.ledger.GetStatistics(ctx)
}

func (c *Coordinator) SetEnabled(ctx context.Context, providerID string, enabled bool) error {
	if _, ok := c.cfg.Providers[providerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return c.ledger.SetSyncEnabled(ctx, providerID, enabled)
}

func (c *Coordinator) SetInterval(ctx context.Context, providerID string, hours int) error {
	if _, ok := c.cfg.Providers[providerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if hours < config.MinIntervalHours || hours > config.MaxIntervalHours {
		return fmt.Errorf("sync: interval must be %d-%d hours, got %d",
			config.MinIntervalHours, config.MaxIntervalHours, hours)
	}
	return c.ledger.SetSyncInterval(ctx, providerID, hours)
}

// IsDue reports whether the scheduler should start an incremental run: sync
// enabled, and either no run has ever completed or the last completed run is
// older than the provider's interval.
func (c *Coordinator) IsDue(ctx context.Context, providerID string) (bool, error) {
	pc, ok := c.cfg.Providers[providerID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	st, err := c.ledger.GetProviderStatus(ctx, providerID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return true, nil
	}
	if !st.SyncEnabled {
		return false, nil
	}
	if st.LastCompletedAt == nil {
		return true, nil
	}

	interval := pc.SyncInterval()
	if st.IntervalHours > 0 {
		interval = time.Duration(st.IntervalHours) * time.Hour
	}
	return time.Since(*st.LastCompletedAt) > interval, nil
}

// ProviderIDs lists configured providers in no particular order.
func (c *Coordinator) ProviderIDs() []string {
	ids := make([]string, 0, len(c.cfg.Providers))
	for id := range c.cfg.Providers {
		ids = append(ids, id)
	}
	return ids
}

// Pause stops the scheduler from starting new scheduled runs. Manual
// triggers still go through.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	log.Println("Sync paused")
}

func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	log.Println("Sync resumed")
}

func (c *Coordinator) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
