package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mls_syncd/config"
	"mls_syncd/media"
	"mls_syncd/models"
	"mls_syncd/provider"
)

// PropertyRepository is the listing persistence collaborator.
type PropertyRepository interface {
	GetListingByExternalID(ctx context.Context, externalID, providerID string) (*models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, id uuid.UUID, u models.ListingUpdate) error
	UpdateListingIncremental(ctx context.Context, id uuid.UUID, u models.IncrementalUpdate) error
}

// MediaRepository persists processed media variants.
type MediaRepository interface {
	CreateListingMedia(ctx context.Context, m *models.ListingMedia) error
	ListMediaByListing(ctx context.Context, listingID uuid.UUID) ([]models.ListingMedia, error)
}

// Ledger is the durable run history and provider health store. Both the
// Postgres store and the SQLite ops store satisfy it.
type Ledger interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	SealSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, id int64) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, providerID string, limit int) ([]models.SyncRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	GetProviderStatus(ctx context.Context, providerID string) (*models.ProviderSyncStatus, error)
	UpsertProviderStatus(ctx context.Context, st *models.ProviderSyncStatus) error
	SetSyncEnabled(ctx context.Context, providerID string, enabled bool) error
	SetSyncInterval(ctx context.Context, providerID string, hours int) error
	ListProviderStatuses(ctx context.Context) ([]models.ProviderSyncStatus, error)
	Log(ctx context.Context, runID *int64, level models.LogLevel, providerID, externalID, message string) error
	ListErrors(ctx context.Context, providerID string, limit int) ([]models.SyncLog, error)
	GetStatistics(ctx context.Context) (*models.SyncStatistics, error)
}

// MediaProcessor is the photo pipeline contract (satisfied by media.Pipeline).
type MediaProcessor interface {
	ProcessListingImage(ctx context.Context, sourceURL string) (*media.ProcessedImage, error)
}

// Orchestrator drives one sync run for one provider: fetch, transform-upsert
// each record, pipeline media for new listings, seal the ledger. One instance
// serves one run.
type Orchestrator struct {
	cfg       *config.ProviderConfig
	adapter   provider.Adapter
	props     PropertyRepository
	mediaRepo MediaRepository
	ledger    Ledger
	pipeline  MediaProcessor

	cancelled atomic.Bool
}

func NewOrchestrator(cfg *config.ProviderConfig, adapter provider.Adapter, props PropertyRepository, mediaRepo MediaRepository, ledger Ledger, pipeline MediaProcessor) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		adapter:   adapter,
		props:     props,
		mediaRepo: mediaRepo,
		ledger:    ledger,
		pipeline:  pipeline,
	}
}

// Cancel requests a cooperative stop. The record currently being processed
// finishes; no further records are taken. Tearing down the adapter aborts an
// in-flight fetch.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.cancelled.Store(true)
	if err := o.adapter.Disconnect(ctx); err != nil {
		log.Printf("[%s] cancel: disconnect: %v", o.cfg.ID, err)
	}
}

// Run executes one sync run and returns the sealed run record. The returned
// error is the run-fatal cause, nil for success/partial/cancelled outcomes.
func (o *Orchestrator) Run(ctx context.Context, kind models.SyncKind, actor string) (*models.SyncRun, error) {
	status, err := o.ledger.GetProviderStatus(ctx, o.cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("get provider status: %w", err)
	}
	if status == nil {
		status = &models.ProviderSyncStatus{
			ProviderID:    o.cfg.ID,
			SyncEnabled:   true,
			IntervalHours: o.cfg.SyncIntervalHours,
		}
	}

	// An incremental run with no completed run to diff against degrades to a
	// full sync, and the history row says so.
	var watermark *time.Time
	if kind == models.SyncKindIncremental {
		if status.LastCompletedAt == nil {
			kind = models.SyncKindFull
		} else {
			watermark = status.LastCompletedAt
		}
	}

	snapshot, _ := json.Marshal(o.cfg)
	run := &models.SyncRun{
		ProviderID:  o.cfg.ID,
		Kind:        kind,
		Status:      models.RunStatusRunning,
		StartedAt:   time.Now(),
		TriggeredBy: actor,
		ConfigSnap:  snapshot,
	}
	if err := o.ledger.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	status.LastRunID = &run.ID
	status.LastStartedAt = &run.StartedAt
	status.LastStatus = models.RunStatusRunning
	if err := o.ledger.UpsertProviderStatus(ctx, status); err != nil {
		log.Printf("[%s] update status at run start: %v", o.cfg.ID, err)
	}

	o.log(ctx, run.ID, models.LogLevelInfo, "", fmt.Sprintf("Starting %s sync (run %d, by %s)", kind, run.ID, actor))

	fatal := o.execute(ctx, run, watermark)
	o.finalize(ctx, run, status, fatal)

	if derr := o.adapter.Disconnect(ctx); derr != nil && !o.cancelled.Load() {
		log.Printf("[%s] disconnect: %v", o.cfg.ID, derr)
	}

	return run, fatal
}

// execute walks connect -> fetch -> per-record processing, accumulating run
// counters. It returns the run-fatal error, nil when the run reached the end
// of its record set (possibly with per-record errors).
func (o *Orchestrator) execute(ctx context.Context, run *models.SyncRun, watermark *time.Time) error {
	if err := o.adapter.Connect(ctx); err != nil {
		o.log(ctx, run.ID, models.LogLevelError, "", fmt.Sprintf("Connect failed: %v", err))
		return fmt.Errorf("connect: %w", err)
	}

	opts := provider.FetchOptions{
		Kind:          run.Kind,
		ModifiedSince: watermark,
		BatchSize:     o.cfg.BatchSize,
		MaxRecords:    o.cfg.MaxRecords,
		IncludeMedia:  o.cfg.IncludeMedia,
	}

	records, err := o.adapter.FetchProperties(ctx, opts)
	if err != nil {
		if o.cancelled.Load() {
			return nil
		}
		o.log(ctx, run.ID, models.LogLevelError, "", fmt.Sprintf("Fetch failed: %v", err))
		return fmt.Errorf("fetch: %w", err)
	}

	run.Counters.Fetched = len(records)
	o.log(ctx, run.ID, models.LogLevelInfo, "", fmt.Sprintf("Fetched %d records", len(records)))

	for i := range records {
		if o.cancelled.Load() {
			o.log(ctx, run.ID, models.LogLevelWarn, "", "Cancelled, stopping before next record")
			break
		}

		rec := &records[i]
		if err := o.processRecord(ctx, run, rec); err != nil {
			run.Counters.Errored++
			o.log(ctx, run.ID, models.LogLevelError, rec.ExternalID, fmt.Sprintf("Record error: %v", err))
		}
	}

	return nil
}

// processRecord upserts one transformed record by its natural key and, for
// newly created listings, pushes its photos through the media pipeline.
// Media failures count separately and never fail the record.
func (o *Orchestrator) processRecord(ctx context.Context, run *models.SyncRun, rec *models.ListingRecord) error {
	if rec.ExternalID == "" {
		return fmt.Errorf("missing external id")
	}

	existing, err := o.props.GetListingByExternalID(ctx, rec.ExternalID, o.cfg.ID)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	now := time.Now()

	if existing == nil {
		listing := recordToListing(rec, now)
		if err := o.props.CreateListing(ctx, listing); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		run.Counters.Added++

		if o.cfg.IncludeMedia && o.pipeline != nil {
			o.processMedia(ctx, run, listing.ID, rec)
		}
		return nil
	}

	// Incremental runs write the narrow field set: price, status and sync
	// metadata. No media reprocessing, no feature-bag refresh.
	if run.Kind == models.SyncKindIncremental {
		upd := models.IncrementalUpdate{
			Price:        rec.Price,
			Status:       rec.Status,
			RawData:      rec.Raw,
			ModifiedAt:   rec.ModifiedAt,
			LastSyncedAt: now,
		}
		if err := o.props.UpdateListingIncremental(ctx, existing.ID, upd); err != nil {
			return fmt.Errorf("incremental update: %w", err)
		}
	} else {
		upd := models.ListingUpdate{
			Price:         rec.Price,
			OriginalPrice: rec.OriginalPrice,
			Status:        rec.Status,
			Beds:          rec.Beds,
			Baths:         rec.Baths,
			SqFt:          rec.SqFt,
			LotSqFt:       rec.LotSqFt,
			YearBuilt:     rec.YearBuilt,
			Description:   rec.Description,
			Features:      marshalFeatures(rec.Features),
			RawData:       rec.Raw,
			ModifiedAt:    rec.ModifiedAt,
			LastSyncedAt:  now,
		}
		if err := o.props.UpdateListing(ctx, existing.ID, upd); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}

	run.Counters.Updated++
	return nil
}

func (o *Orchestrator) processMedia(ctx context.Context, run *models.SyncRun, listingID uuid.UUID, rec *models.ListingRecord) {
	for _, ref := range rec.Media {
		if ref.Kind != models.MediaKindImage {
			continue
		}

		processed, err := o.pipeline.ProcessListingImage(ctx, ref.URL)
		if err != nil {
			run.Counters.MediaFailed++
			o.log(ctx, run.ID, models.LogLevelWarn, rec.ExternalID, fmt.Sprintf("Media failed %s: %v", ref.URL, err))
			continue
		}

		assets := []media.Asset{processed.Original}
		for _, a := range processed.Variants {
			assets = append(assets, a)
		}
		for _, a := range assets {
			row := &models.ListingMedia{
				ID:         uuid.New(),
				ListingID:  listingID,
				SourceURL:  ref.URL,
				Kind:       ref.Kind,
				Variant:    a.Variant,
				Position:   ref.Order,
				Caption:    ref.Caption,
				StorageKey: a.Key,
				URL:        a.URL,
				CDNUrl:     a.CDNUrl,
				Width:      a.Width,
				Height:     a.Height,
				SizeBytes:  a.SizeBytes,
				CreatedAt:  time.Now(),
			}
			if err := o.mediaRepo.CreateListingMedia(ctx, row); err != nil {
				o.log(ctx, run.ID, models.LogLevelWarn, rec.ExternalID, fmt.Sprintf("Media row %s/%s: %v", ref.URL, a.Variant, err))
			}
		}

		run.Counters.MediaDownloaded++
	}
}

// finalize resolves the terminal status, seals the run and rewrites the
// provider's rolling health. History is never deleted, only appended.
func (o *Orchestrator) finalize(ctx context.Context, run *models.SyncRun, status *models.ProviderSyncStatus, fatal error) {
	now := time.Now()
	run.FinishedAt = &now

	switch {
	case o.cancelled.Load():
		run.Status = models.RunStatusCancelled
	case fatal != nil:
		run.Status = models.RunStatusFailed
		run.ErrorMessage = fatal.Error()
	case run.Counters.Errored > 0:
		run.Status = models.RunStatusPartial
	default:
		run.Status = models.RunStatusSuccess
	}

	if err := o.ledger.SealSyncRun(ctx, run); err != nil {
		log.Printf("[%s] seal run %d: %v", o.cfg.ID, run.ID, err)
	}

	durationSecs := int(now.Sub(run.StartedAt).Seconds())
	status.LastDurationSecs = &durationSecs
	status.LastStatus = run.Status
	status.LastError = run.ErrorMessage
	status.LastCounters = run.Counters
	status.TotalRuns++

	switch run.Status {
	case models.RunStatusSuccess, models.RunStatusPartial:
		status.LastCompletedAt = &now
		status.ConsecutiveFailures = 0
		status.TotalSuccesses++
	case models.RunStatusFailed:
		status.ConsecutiveFailures++
		status.TotalFailures++
	}

	if err := o.ledger.UpsertProviderStatus(ctx, status); err != nil {
		log.Printf("[%s] update status at run end: %v", o.cfg.ID, err)
	}

	o.log(ctx, run.ID, models.LogLevelInfo, "", fmt.Sprintf(
		"Run %d %s: %d fetched, %d added, %d updated, %d errored, %d media (%d failed)",
		run.ID, run.Status, run.Counters.Fetched, run.Counters.Added, run.Counters.Updated,
		run.Counters.Errored, run.Counters.MediaDownloaded, run.Counters.MediaFailed))
}

func (o *Orchestrator) log(ctx context.Context, runID int64, level models.LogLevel, externalID, message string) {
	log.Printf("[%s] %s: %s", level, o.cfg.ID, message)
	if err := o.ledger.Log(ctx, &runID, level, o.cfg.ID, externalID, message); err != nil {
		log.Printf("[%s] ledger log: %v", o.cfg.ID, err)
	}
}

func recordToListing(rec *models.ListingRecord, now time.Time) *models.Listing {
	return &models.Listing{
		ID:             uuid.New(),
		ExternalID:     rec.ExternalID,
		ProviderID:     rec.ProviderID,
		Street:         rec.Address.Street,
		City:           rec.Address.City,
		State:          rec.Address.State,
		PostalCode:     rec.Address.PostalCode,
		Country:        rec.Address.Country,
		PropertyType:   rec.PropertyType,
		PropertySub:    rec.PropertySub,
		Status:         rec.Status,
		Price:          rec.Price,
		OriginalPrice:  rec.OriginalPrice,
		Beds:           rec.Beds,
		Baths:          rec.Baths,
		SqFt:           rec.SqFt,
		LotSqFt:        rec.LotSqFt,
		YearBuilt:      rec.YearBuilt,
		Description:    rec.Description,
		Lat:            rec.Lat,
		Lng:            rec.Lng,
		DaysOnMarket:   rec.DaysOnMarket,
		ListedAt:       rec.ListedAt,
		SoldAt:         rec.SoldAt,
		AgentName:      rec.Agent.Name,
		AgentPhone:     rec.Agent.Phone,
		AgentEmail:     rec.Agent.Email,
		AgentBrokerage: rec.Agent.Brokerage,
		Features:       marshalFeatures(rec.Features),
		RawData:        rec.Raw,
		ModifiedAt:     rec.ModifiedAt,
		LastSyncedAt:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func marshalFeatures(f models.Features) json.RawMessage {
	data, _ := json.Marshal(f)
	return data
}
