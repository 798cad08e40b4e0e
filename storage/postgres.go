package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mls_syncd/config"
	"mls_syncd/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, external_id, provider_id, street, city, state, postal_code, country,
	property_type, property_subtype, status, price, original_price,
	beds, baths, sqft, lot_sqft, year_built, description, lat, lng, days_on_market,
	listed_at, sold_at, agent_name, agent_phone, agent_email, agent_brokerage,
	features, raw_data, modified_at, last_synced_at, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.ProviderID, &l.Street, &l.City, &l.State, &l.PostalCode, &l.Country,
		&l.PropertyType, &l.PropertySub, &l.Status, &l.Price, &l.OriginalPrice,
		&l.Beds, &l.Baths, &l.SqFt, &l.LotSqFt, &l.YearBuilt, &l.Description, &l.Lat, &l.Lng, &l.DaysOnMarket,
		&l.ListedAt, &l.SoldAt, &l.AgentName, &l.AgentPhone, &l.AgentEmail, &l.AgentBrokerage,
		&l.Features, &l.RawData, &l.ModifiedAt, &l.LastSyncedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetListingByExternalID looks a listing up by its natural key. A missing
// row is (nil, nil), not an error.
func (s *PostgresStore) GetListingByExternalID(ctx context.Context, externalID, providerID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE external_id = $1 AND provider_id = $2`
	return scanListing(s.pool.QueryRow(ctx, query, externalID, providerID))
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			raw_data = EXCLUDED.raw_data,
			modified_at = EXCLUDED.modified_at,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		l.ID, l.ExternalID, l.ProviderID, l.Street, l.City, l.State, l.PostalCode, l.Country,
		l.PropertyType, l.PropertySub, l.Status, l.Price, l.OriginalPrice,
		l.Beds, l.Baths, l.SqFt, l.LotSqFt, l.YearBuilt, l.Description, l.Lat, l.Lng, l.DaysOnMarket,
		l.ListedAt, l.SoldAt, l.AgentName, l.AgentPhone, l.AgentEmail, l.AgentBrokerage,
		l.Features, l.RawData, l.ModifiedAt, l.LastSyncedAt, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
}

// UpdateListing applies the full-sync mutable field set to an existing row.
func (s *PostgresStore) UpdateListing(ctx context.Context, id uuid.UUID, u models.ListingUpdate) error {
	query := `
		UPDATE listings SET
			price = $2,
			original_price = COALESCE($3, original_price),
			status = $4,
			beds = COALESCE($5, beds),
			baths = COALESCE($6, baths),
			sqft = COALESCE($7, sqft),
			lot_sqft = COALESCE($8, lot_sqft),
			year_built = COALESCE($9, year_built),
			description = COALESCE(NULLIF($10, ''), description),
			features = COALESCE($11, features),
			raw_data = $12,
			modified_at = $13,
			last_synced_at = $14,
			updated_at = NOW()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, id,
		u.Price, u.OriginalPrice, u.Status, u.Beds, u.Baths, u.SqFt, u.LotSqFt,
		u.YearBuilt, u.Description, u.Features, u.RawData, u.ModifiedAt, u.LastSyncedAt)
	return err
}

// UpdateListingIncremental applies the narrow incremental field set: price,
// status and sync metadata only.
func (s *PostgresStore) UpdateListingIncremental(ctx context.Context, id uuid.UUID, u models.IncrementalUpdate) error {
	query := `
		UPDATE listings SET
			price = $2,
			status = $3,
			raw_data = $4,
			modified_at = $5,
			last_synced_at = $6,
			updated_at = NOW()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, id, u.Price, u.Status, u.RawData, u.ModifiedAt, u.LastSyncedAt)
	return err
}

// =============================================================================
// Listing media
// =============================================================================

func (s *PostgresStore) CreateListingMedia(ctx context.Context, m *models.ListingMedia) error {
	query := `
		INSERT INTO listing_media (
			id, listing_id, source_url, kind, variant, position, caption,
			storage_key, url, cdn_url, width, height, size_bytes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (listing_id, source_url, variant) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			url = EXCLUDED.url,
			cdn_url = EXCLUDED.cdn_url,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			size_bytes = EXCLUDED.size_bytes`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.ListingID, m.SourceURL, m.Kind, m.Variant, m.Position, m.Caption,
		m.StorageKey, m.URL, m.CDNUrl, m.Width, m.Height, m.SizeBytes, m.CreatedAt)
	return err
}

func (s *PostgresStore) ListMediaByListing(ctx context.Context, listingID uuid.UUID) ([]models.ListingMedia, error) {
	query := `
		SELECT id, listing_id, source_url, kind, variant, position, caption,
			storage_key, url, cdn_url, width, height, size_bytes, created_at
		FROM listing_media WHERE listing_id = $1
		ORDER BY position, variant`

	rows, err := s.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ListingMedia
	for rows.Next() {
		var m models.ListingMedia
		if err := rows.Scan(
			&m.ID, &m.ListingID, &m.SourceURL, &m.Kind, &m.Variant, &m.Position, &m.Caption,
			&m.StorageKey, &m.URL, &m.CDNUrl, &m.Width, &m.Height, &m.SizeBytes, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// Sync runs
// =============================================================================

func (s *PostgresStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			provider_id, kind, status, started_at, triggered_by, config_snapshot
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.ProviderID, run.Kind, run.Status, run.StartedAt, run.TriggeredBy, run.ConfigSnap,
	).Scan(&run.ID)
}

// SealSyncRun writes the run's terminal state. A row already out of
// "running" is left alone, so a cancel racing a natural finish cannot
// overwrite the first outcome.
func (s *PostgresStore) SealSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs SET
			status = $2, finished_at = $3, error_message = $4,
			fetched = $5, added = $6, updated = $7, deleted = $8, errored = $9,
			media_downloaded = $10, media_failed = $11
		WHERE id = $1 AND status = 'running'`

	_, err := s.pool.Exec(ctx, query, run.ID,
		run.Status, run.FinishedAt, run.ErrorMessage,
		run.Counters.Fetched, run.Counters.Added, run.Counters.Updated,
		run.Counters.Deleted, run.Counters.Errored,
		run.Counters.MediaDownloaded, run.Counters.MediaFailed)
	return err
}

const syncRunColumns = `id, provider_id, kind, status, started_at, finished_at,
	fetched, added, updated, deleted, errored, media_downloaded, media_failed,
	error_message, triggered_by, config_snapshot`

func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var r models.SyncRun
	err := row.Scan(
		&r.ID, &r.ProviderID, &r.Kind, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.Counters.Fetched, &r.Counters.Added, &r.Counters.Updated,
		&r.Counters.Deleted, &r.Counters.Errored,
		&r.Counters.MediaDownloaded, &r.Counters.MediaFailed,
		&r.ErrorMessage, &r.TriggeredBy, &r.ConfigSnap,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetSyncRun(ctx context.Context, id int64) (*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = $1`
	return scanSyncRun(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, providerID string, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs
		WHERE provider_id = $1 ORDER BY started_at DESC LIMIT $2`
	return s.collectRuns(ctx, query, providerID, limit)
}

func (s *PostgresStore) ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs
		ORDER BY started_at DESC LIMIT $1`
	return s.collectRuns(ctx, query, limit)
}

func (s *PostgresStore) collectRuns(ctx context.Context, query string, args ...any) ([]models.SyncRun, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(
			&r.ID, &r.ProviderID, &r.Kind, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.Counters.Fetched, &r.Counters.Added, &r.Counters.Updated,
			&r.Counters.Deleted, &r.Counters.Errored,
			&r.Counters.MediaDownloaded, &r.Counters.MediaFailed,
			&r.ErrorMessage, &r.TriggeredBy, &r.ConfigSnap,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Provider sync status
// =============================================================================

const statusColumns = `provider_id, sync_enabled, interval_hours,
	last_run_id, last_started_at, last_completed_at, last_duration_secs,
	last_status, last_error,
	last_fetched, last_added, last_updated, last_deleted, last_errored,
	last_media_downloaded, last_media_failed,
	consecutive_failures, total_runs, total_successes, total_failures`

func (s *PostgresStore) GetProviderStatus(ctx context.Context, providerID string) (*models.ProviderSyncStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM provider_sync_status WHERE provider_id = $1`

	var st models.ProviderSyncStatus
	err := s.pool.QueryRow(ctx, query, providerID).Scan(
		&st.ProviderID, &st.SyncEnabled, &st.IntervalHours,
		&st.LastRunID, &st.LastStartedAt, &st.LastCompletedAt, &st.LastDurationSecs,
		&st.LastStatus, &st.LastError,
		&st.LastCounters.Fetched, &st.LastCounters.Added, &st.LastCounters.Updated,
		&st.LastCounters.Deleted, &st.LastCounters.Errored,
		&st.LastCounters.MediaDownloaded, &st.LastCounters.MediaFailed,
		&st.ConsecutiveFailures, &st.TotalRuns, &st.TotalSuccesses, &st.TotalFailures,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) UpsertProviderStatus(ctx context.Context, st *models.ProviderSyncStatus) error {
	query := `
		INSERT INTO provider_sync_status (` + statusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (provider_id) DO UPDATE SET
			sync_enabled = EXCLUDED.sync_enabled,
			interval_hours = EXCLUDED.interval_hours,
			last_run_id = EXCLUDED.last_run_id,
			last_started_at = EXCLUDED.last_started_at,
			last_completed_at = EXCLUDED.last_completed_at,
			last_duration_secs = EXCLUDED.last_duration_secs,
			last_status = EXCLUDED.last_status,
			last_error = EXCLUDED.last_error,
			last_fetched = EXCLUDED.last_fetched,
			last_added = EXCLUDED.last_added,
			last_updated = EXCLUDED.last_updated,
			last_deleted = EXCLUDED.last_deleted,
			last_errored = EXCLUDED.last_errored,
			last_media_downloaded = EXCLUDED.last_media_downloaded,
			last_media_failed = EXCLUDED.last_media_failed,
			consecutive_failures = EXCLUDED.consecutive_failures,
			total_runs = EXCLUDED.total_runs,
			total_successes = EXCLUDED.total_successes,
			total_failures = EXCLUDED.total_failures`

	_, err := s.pool.Exec(ctx, query,
		st.ProviderID, st.SyncEnabled, st.IntervalHours,
		st.LastRunID, st.LastStartedAt, st.LastCompletedAt, st.LastDurationSecs,
		st.LastStatus, st.LastError,
		st.LastCounters.Fetched, st.LastCounters.Added, st.LastCounters.Updated,
		st.LastCounters.Deleted, st.LastCounters.Errored,
		st.LastCounters.MediaDownloaded, st.LastCounters.MediaFailed,
		st.ConsecutiveFailures, st.TotalRuns, st.TotalSuccesses, st.TotalFailures)
	return err
}

func (s *PostgresStore) SetSyncEnabled(ctx context.Context, providerID string, enabled bool) error {
	query := `
		INSERT INTO provider_sync_status (provider_id, sync_enabled, interval_hours)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id) DO UPDATE SET sync_enabled = EXCLUDED.sync_enabled`
	_, err := s.pool.Exec(ctx, query, providerID, enabled, config.DefaultIntervalHours)
	return err
}

func (s *PostgresStore) SetSyncInterval(ctx context.Context, providerID string, hours int) error {
	query := `
		INSERT INTO provider_sync_status (provider_id, sync_enabled, interval_hours)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (provider_id) DO UPDATE SET interval_hours = EXCLUDED.interval_hours`
	_, err := s.pool.Exec(ctx, query, providerID, hours)
	return err
}

func (s *PostgresStore) ListProviderStatuses(ctx context.Context) ([]models.ProviderSyncStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM provider_sync_status ORDER BY provider_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProviderSyncStatus
	for rows.Next() {
		var st models.ProviderSyncStatus
		if err := rows.Scan(
			&st.ProviderID, &st.SyncEnabled, &st.IntervalHours,
			&st.LastRunID, &st.LastStartedAt, &st.LastCompletedAt, &st.LastDurationSecs,
			&st.LastStatus, &st.LastError,
			&st.LastCounters.Fetched, &st.LastCounters.Added, &st.LastCounters.Updated,
			&st.LastCounters.Deleted, &st.LastCounters.Errored,
			&st.LastCounters.MediaDownloaded, &st.LastCounters.MediaFailed,
			&st.ConsecutiveFailures, &st.TotalRuns, &st.TotalSuccesses, &st.TotalFailures,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// Sync logs
// =============================================================================

func (s *PostgresStore) Log(ctx context.Context, runID *int64, level models.LogLevel, providerID, externalID, message string) error {
	query := `
		INSERT INTO sync_logs (run_id, timestamp, level, message, provider_id, external_id)
		VALUES ($1, NOW(), $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, runID, level, message, providerID, externalID)
	return err
}

func (s *PostgresStore) ListErrors(ctx context.Context, providerID string, limit int) ([]models.SyncLog, error) {
	query := `
		SELECT id, run_id, timestamp, level, message, provider_id, external_id
		FROM sync_logs
		WHERE provider_id = $1 AND level = 'error'
		ORDER BY timestamp DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.ProviderID, &l.ExternalID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// Statistics
// =============================================================================

func (s *PostgresStore) GetStatistics(ctx context.Context) (*models.SyncStatistics, error) {
	var stats models.SyncStatistics

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE sync_enabled),
			COALESCE(SUM(total_runs), 0), COALESCE(SUM(total_successes), 0), COALESCE(SUM(total_failures), 0)
		FROM provider_sync_status`).Scan(
		&stats.Providers, &stats.Enabled,
		&stats.TotalRuns, &stats.TotalSuccesses, &stats.TotalFailures)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(added), 0), COALESCE(SUM(updated), 0),
			COALESCE(SUM(media_downloaded), 0), COALESCE(SUM(errored), 0)
		FROM sync_runs`).Scan(
		&stats.ListingsAdded, &stats.ListingsUpdated,
		&stats.MediaDownloaded, &stats.RecordErrors)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
