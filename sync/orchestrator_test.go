package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mls_syncd/config"
	"mls_syncd/media"
	"mls_syncd/models"
	"mls_syncd/provider"
)

// fakeStore is an in-memory PropertyRepository + MediaRepository + Ledger.
type fakeStore struct {
	mu        stdsync.Mutex
	listings  map[string]*models.Listing
	mediaRows []models.ListingMedia
	runs      []*models.SyncRun
	statuses  map[string]*models.ProviderSyncStatus
	logs      []models.SyncLog
	nextRunID int64

	narrowUpdates int
	fullUpdates   int
	onCreate      func(*models.Listing)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[string]*models.Listing),
		statuses: make(map[string]*models.ProviderSyncStatus),
	}
}

func listingKey(externalID, providerID string) string {
	return providerID + "|" + externalID
}

func (s *fakeStore) GetListingByExternalID(_ context.Context, externalID, providerID string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingKey(externalID, providerID)]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStore) CreateListing(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	cp := *l
	s.listings[listingKey(l.ExternalID, l.ProviderID)] = &cp
	hook := s.onCreate
	s.mu.Unlock()
	if hook != nil {
		hook(l)
	}
	return nil
}

func (s *fakeStore) UpdateListing(_ context.Context, id uuid.UUID, u models.ListingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullUpdates++
	for _, l := range s.listings {
		if l.ID == id {
			l.Price = u.Price
			l.Status = u.Status
			l.Description = u.Description
			l.RawData = u.RawData
			l.ModifiedAt = u.ModifiedAt
			l.LastSyncedAt = u.LastSyncedAt
			return nil
		}
	}
	return fmt.Errorf("listing %s not found", id)
}

func (s *fakeStore) UpdateListingIncremental(_ context.Context, id uuid.UUID, u models.IncrementalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrowUpdates++
	for _, l := range s.listings {
		if l.ID == id {
			l.Price = u.Price
			l.Status = u.Status
			l.RawData = u.RawData
			l.ModifiedAt = u.ModifiedAt
			l.LastSyncedAt = u.LastSyncedAt
			return nil
		}
	}
	return fmt.Errorf("listing %s not found", id)
}

func (s *fakeStore) CreateListingMedia(_ context.Context, m *models.ListingMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaRows = append(s.mediaRows, *m)
	return nil
}

func (s *fakeStore) ListMediaByListing(_ context.Context, listingID uuid.UUID) ([]models.ListingMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ListingMedia
	for _, m := range s.mediaRows {
		if m.ListingID == listingID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateSyncRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	run.ID = s.nextRunID
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *fakeStore) SealSyncRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == run.ID && r.Status == models.RunStatusRunning {
			*r = *run
		}
	}
	return nil
}

func (s *fakeStore) GetSyncRun(_ context.Context, id int64) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListSyncRuns(_ context.Context, providerID string, limit int) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].ProviderID == providerID {
			out = append(out, *s.runs[i])
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecentRuns(_ context.Context, limit int) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.runs[i])
	}
	return out, nil
}

func (s *fakeStore) GetProviderStatus(_ context.Context, providerID string) (*models.ProviderSyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[providerID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStore) UpsertProviderStatus(_ context.Context, st *models.ProviderSyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.statuses[st.ProviderID] = &cp
	return nil
}

func (s *fakeStore) SetSyncEnabled(_ context.Context, providerID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[providerID]
	if !ok {
		st = &models.ProviderSyncStatus{ProviderID: providerID, IntervalHours: 4}
		s.statuses[providerID] = st
	}
	st.SyncEnabled = enabled
	return nil
}

func (s *fakeStore) SetSyncInterval(_ context.Context, providerID string, hours int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[providerID]
	if !ok {
		st = &models.ProviderSyncStatus{ProviderID: providerID, SyncEnabled: true}
		s.statuses[providerID] = st
	}
	st.IntervalHours = hours
	return nil
}

func (s *fakeStore) ListProviderStatuses(_ context.Context) ([]models.ProviderSyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProviderSyncStatus
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	return out, nil
}

func (s *fakeStore) Log(_ context.Context, runID *int64, level models.LogLevel, providerID, externalID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, models.SyncLog{
		RunID: runID, Timestamp: time.Now(), Level: level,
		Message: message, ProviderID: providerID, ExternalID: externalID,
	})
	return nil
}

func (s *fakeStore) ListErrors(_ context.Context, providerID string, limit int) ([]models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].ProviderID == providerID && s.logs[i].Level == models.LogLevelError {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *fakeStore) GetStatistics(_ context.Context) (*models.SyncStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.SyncStatistics{}
	for _, st := range s.statuses {
		stats.Providers++
		if st.SyncEnabled {
			stats.Enabled++
		}
		stats.TotalRuns += st.TotalRuns
		stats.TotalSuccesses += st.TotalSuccesses
		stats.TotalFailures += st.TotalFailures
	}
	for _, r := range s.runs {
		stats.ListingsAdded += r.Counters.Added
		stats.ListingsUpdated += r.Counters.Updated
		stats.MediaDownloaded += r.Counters.MediaDownloaded
		stats.RecordErrors += r.Counters.Errored
	}
	return stats, nil
}

func (s *fakeStore) lastRun(t *testing.T) *models.SyncRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		t.Fatal("no runs recorded")
	}
	cp := *s.runs[len(s.runs)-1]
	return &cp
}

// fakeAdapter serves scripted records and tracks the options it was called
// with.
type fakeAdapter struct {
	id         string
	records    []models.ListingRecord
	connectErr error
	fetchErr   error

	mu        stdsync.Mutex
	lastOpts  provider.FetchOptions
	connected bool

	// When set, FetchProperties blocks until release or stop is closed.
	release chan struct{}
	stop    chan struct{}
}

func (a *fakeAdapter) ProviderID() string { return a.id }

func (a *fakeAdapter) Connect(context.Context) error {
	if a.connectErr != nil {
		return a.connectErr
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Disconnect(context.Context) error {
	a.mu.Lock()
	a.connected = false
	stop := a.stop
	a.mu.Unlock()
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	return nil
}

func (a *fakeAdapter) HealthCheck(context.Context) (provider.Health, error) {
	return provider.Health{Healthy: true, Message: "ok"}, nil
}

func (a *fakeAdapter) FetchProperties(ctx context.Context, opts provider.FetchOptions) ([]models.ListingRecord, error) {
	a.mu.Lock()
	a.lastOpts = opts
	release, stop := a.release, a.stop
	a.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-stop:
			return nil, errors.New("connection torn down")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := make([]models.ListingRecord, len(a.records))
	copy(out, a.records)
	return out, nil
}

func (a *fakeAdapter) FetchPropertyByID(_ context.Context, externalID string) (*models.ListingRecord, error) {
	for i := range a.records {
		if a.records[i].ExternalID == externalID {
			cp := a.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *fakeAdapter) Metadata(context.Context) (*provider.Metadata, error) {
	return &provider.Metadata{ProtocolVersion: "fake/1.0"}, nil
}

// fakePipeline returns a canned result per URL, or an error for URLs in fail.
type fakePipeline struct {
	mu    stdsync.Mutex
	calls []string
	fail  map[string]bool
}

func (p *fakePipeline) ProcessListingImage(_ context.Context, sourceURL string) (*media.ProcessedImage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, sourceURL)
	p.mu.Unlock()

	if p.fail[sourceURL] {
		return nil, errors.New("download failed")
	}
	return &media.ProcessedImage{
		SourceURL: sourceURL,
		Original:  media.Asset{Variant: models.VariantOriginal, Key: "k/orig.jpg", URL: "https://cdn/orig.jpg", Width: 4000, Height: 3000},
		Variants: map[string]media.Asset{
			models.VariantThumbnail: {Variant: models.VariantThumbnail, Width: 200, Height: 150},
			models.VariantMedium:    {Variant: models.VariantMedium, Width: 800, Height: 600},
			models.VariantLarge:     {Variant: models.VariantLarge, Width: 1920, Height: 1440},
		},
	}, nil
}

func (p *fakePipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testProviderConfig(id string) *config.ProviderConfig {
	return &config.ProviderConfig{
		ID:                id,
		Name:              "Test Provider",
		Kind:              "mock",
		SyncIntervalHours: 4,
		IncludeMedia:      true,
	}
}

func fprice(v float64) *float64 { return &v }

func testRecord(providerID, externalID string, price float64) models.ListingRecord {
	mod := time.Now().Add(-time.Hour)
	return models.ListingRecord{
		ExternalID: externalID,
		ProviderID: providerID,
		Address:    models.Address{Street: "12 Main St", City: "Windsor", State: "ON", PostalCode: "N9A 1A1", Country: "CA"},
		Status:     models.StatusActive,
		Price:      fprice(price),
		ModifiedAt: &mod,
	}
}

func TestFullSyncIdempotentUpsert(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false
	adapter := &fakeAdapter{id: "test", records: []models.ListingRecord{
		testRecord("test", "A-1", 500000),
		testRecord("test", "A-2", 620000),
		testRecord("test", "A-3", 710000),
	}}

	ctx := context.Background()

	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run1, err := orch.Run(ctx, models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if run1.Status != models.RunStatusSuccess {
		t.Fatalf("first run status = %s, want success", run1.Status)
	}
	if run1.Counters.Added != 3 || run1.Counters.Updated != 0 {
		t.Fatalf("first run counters = %+v", run1.Counters)
	}

	orch2 := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run2, err := orch2.Run(ctx, models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run2.Counters.Added != 0 || run2.Counters.Updated != 3 {
		t.Fatalf("second run counters = %+v, want 0 added / 3 updated", run2.Counters)
	}
	if len(store.listings) != 3 {
		t.Fatalf("listing count = %d after rerun, want 3", len(store.listings))
	}

	l, _ := store.GetListingByExternalID(ctx, "A-2", "test")
	if l == nil || l.Price == nil || *l.Price != 620000 {
		t.Fatalf("listing A-2 drifted: %+v", l)
	}
}

func TestIncrementalWithoutWatermarkFallsBackToFull(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false
	adapter := &fakeAdapter{id: "test", records: []models.ListingRecord{
		testRecord("test", "B-1", 400000),
	}}

	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run, err := orch.Run(context.Background(), models.SyncKindIncremental, "scheduled")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if run.Kind != models.SyncKindFull {
		t.Fatalf("run kind = %s, want full fallback", run.Kind)
	}
	if adapter.lastOpts.ModifiedSince != nil {
		t.Fatal("fallback full sync should not carry a watermark")
	}
	if run.Counters.Added != 1 {
		t.Fatalf("added = %d, want 1", run.Counters.Added)
	}
}

func TestIncrementalUsesWatermarkAndNarrowUpdate(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false
	adapter := &fakeAdapter{id: "test", records: []models.ListingRecord{
		testRecord("test", "C-1", 450000),
	}}
	ctx := context.Background()

	// Seed with a full run so the watermark exists and C-1 is present.
	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)
	if _, err := orch.Run(ctx, models.SyncKindFull, "test"); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	st, _ := store.GetProviderStatus(ctx, "test")
	if st == nil || st.LastCompletedAt == nil {
		t.Fatal("seed run did not record a completion watermark")
	}
	watermark := *st.LastCompletedAt

	adapter.records[0].Price = fprice(460000)
	orch2 := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run, err := orch2.Run(ctx, models.SyncKindIncremental, "scheduled")
	if err != nil {
		t.Fatalf("incremental run: %v", err)
	}

	if run.Kind != models.SyncKindIncremental {
		t.Fatalf("run kind = %s, want incremental", run.Kind)
	}
	if adapter.lastOpts.ModifiedSince == nil || !adapter.lastOpts.ModifiedSince.Equal(watermark) {
		t.Fatalf("watermark passed = %v, want %v", adapter.lastOpts.ModifiedSince, watermark)
	}

	// Existing listings take the narrow update path during incremental runs:
	// price, status and the raw payload, nothing else.
	if store.narrowUpdates != 1 || store.fullUpdates != 0 {
		t.Fatalf("narrow=%d full=%d, want 1/0", store.narrowUpdates, store.fullUpdates)
	}

	l, _ := store.GetListingByExternalID(ctx, "C-1", "test")
	if l.Price == nil || *l.Price != 460000 {
		t.Fatalf("price not updated: %+v", l.Price)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false

	records := []models.ListingRecord{
		testRecord("test", "D-1", 100000),
		testRecord("test", "D-2", 200000),
		{ProviderID: "test", Status: models.StatusActive}, // missing external id
		testRecord("test", "D-4", 400000),
		testRecord("test", "D-5", 500000),
	}
	adapter := &fakeAdapter{id: "test", records: records}

	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run, err := orch.Run(context.Background(), models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if run.Status != models.RunStatusPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	if run.Counters.Errored != 1 {
		t.Fatalf("errored = %d, want 1", run.Counters.Errored)
	}
	if run.Counters.Added+run.Counters.Updated != 4 {
		t.Fatalf("added+updated = %d, want 4", run.Counters.Added+run.Counters.Updated)
	}

	errs, _ := store.ListErrors(context.Background(), "test", 10)
	if len(errs) != 1 {
		t.Fatalf("error log count = %d, want 1", len(errs))
	}
}

func TestConnectFailureIncrementsStreak(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false
	ctx := context.Background()

	bad := &fakeAdapter{id: "test", connectErr: provider.ErrAuthFailed}
	for i := 1; i <= 2; i++ {
		orch := NewOrchestrator(cfg, bad, store, store, store, nil)
		run, err := orch.Run(ctx, models.SyncKindFull, "test")
		if err == nil {
			t.Fatal("expected run-fatal error")
		}
		if run.Status != models.RunStatusFailed {
			t.Fatalf("status = %s, want failed", run.Status)
		}
		if run.ErrorMessage == "" {
			t.Fatal("failed run should carry an error message")
		}
		st, _ := store.GetProviderStatus(ctx, "test")
		if st.ConsecutiveFailures != i {
			t.Fatalf("streak = %d after failure %d", st.ConsecutiveFailures, i)
		}
	}

	good := &fakeAdapter{id: "test", records: []models.ListingRecord{testRecord("test", "E-1", 300000)}}
	orch := NewOrchestrator(cfg, good, store, store, store, nil)
	if _, err := orch.Run(ctx, models.SyncKindFull, "test"); err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	st, _ := store.GetProviderStatus(ctx, "test")
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("streak = %d after success, want 0", st.ConsecutiveFailures)
	}
	if st.TotalRuns != 3 || st.TotalFailures != 2 || st.TotalSuccesses != 1 {
		t.Fatalf("totals runs=%d failures=%d successes=%d", st.TotalRuns, st.TotalFailures, st.TotalSuccesses)
	}
}

func TestCancellationStopsBetweenRecords(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false

	var records []models.ListingRecord
	for i := 0; i < 10; i++ {
		records = append(records, testRecord("test", fmt.Sprintf("F-%d", i), 100000))
	}
	adapter := &fakeAdapter{id: "test", records: records}
	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)

	// Cancel as soon as the first record lands; the run must stop before
	// processing the rest.
	store.onCreate = func(*models.Listing) {
		orch.Cancel(context.Background())
	}

	run, err := orch.Run(context.Background(), models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != models.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}
	if run.Counters.Added != 1 {
		t.Fatalf("added = %d, want 1 (current record finishes, no more start)", run.Counters.Added)
	}
}

func TestMediaProcessedForNewListingsOnly(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")

	rec := testRecord("test", "G-1", 800000)
	rec.Media = []models.MediaRef{
		{URL: "https://img/1.jpg", Kind: models.MediaKindImage, Order: 0},
		{URL: "https://img/2.jpg", Kind: models.MediaKindImage, Order: 1},
		{URL: "https://img/tour", Kind: models.MediaKindTour3D, Order: 2},
	}
	adapter := &fakeAdapter{id: "test", records: []models.ListingRecord{rec}}
	pipe := &fakePipeline{}
	ctx := context.Background()

	orch := NewOrchestrator(cfg, adapter, store, store, store, pipe)
	run, err := orch.Run(ctx, models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if run.Counters.MediaDownloaded != 2 || run.Counters.MediaFailed != 0 {
		t.Fatalf("media counters = %+v", run.Counters)
	}
	// 2 images x (original + 3 variants).
	if len(store.mediaRows) != 8 {
		t.Fatalf("media rows = %d, want 8", len(store.mediaRows))
	}
	for _, m := range store.mediaRows {
		if m.SourceURL == "https://img/2.jpg" && m.Position != 1 {
			t.Fatalf("display order lost: %+v", m)
		}
	}

	// Second run updates the existing listing and must not reprocess media.
	orch2 := NewOrchestrator(cfg, adapter, store, store, store, pipe)
	if _, err := orch2.Run(ctx, models.SyncKindFull, "test"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if pipe.callCount() != 2 {
		t.Fatalf("pipeline calls = %d after rerun, want 2", pipe.callCount())
	}
}

func TestMediaFailureDoesNotFailRun(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")

	rec := testRecord("test", "H-1", 550000)
	rec.Media = []models.MediaRef{
		{URL: "https://img/ok.jpg", Kind: models.MediaKindImage, Order: 0},
		{URL: "https://img/broken.jpg", Kind: models.MediaKindImage, Order: 1},
	}
	adapter := &fakeAdapter{id: "test", records: []models.ListingRecord{rec}}
	pipe := &fakePipeline{fail: map[string]bool{"https://img/broken.jpg": true}}

	orch := NewOrchestrator(cfg, adapter, store, store, store, pipe)
	run, err := orch.Run(context.Background(), models.SyncKindFull, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %s, want success (media failures are isolated)", run.Status)
	}
	if run.Counters.MediaDownloaded != 1 || run.Counters.MediaFailed != 1 {
		t.Fatalf("media counters = %+v", run.Counters)
	}
	if run.Counters.Added != 1 {
		t.Fatalf("added = %d, want 1", run.Counters.Added)
	}
}

func TestFetchFailureFailsRun(t *testing.T) {
	store := newFakeStore()
	cfg := testProviderConfig("test")
	cfg.IncludeMedia = false
	adapter := &fakeAdapter{id: "test", fetchErr: errors.New("connection reset")}

	orch := NewOrchestrator(cfg, adapter, store, store, store, nil)
	run, err := orch.Run(context.Background(), models.SyncKindFull, "test")
	if err == nil {
		t.Fatal("expected run-fatal error")
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}

	st, _ := store.GetProviderStatus(context.Background(), "test")
	if st.LastCompletedAt != nil {
		t.Fatal("failed run must not advance the watermark")
	}
}
