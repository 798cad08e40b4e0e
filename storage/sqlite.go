package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mls_syncd/config"
	"mls_syncd/models"
)

// SQLiteStore is the local ops database: the operator command queue plus a
// standalone copy of the sync ledger for deployments that run without
// Postgres. The ledger methods mirror PostgresStore signatures so either
// store can back the coordinator.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		provider_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		fetched INTEGER DEFAULT 0,
		added INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		errored INTEGER DEFAULT 0,
		media_downloaded INTEGER DEFAULT 0,
		media_failed INTEGER DEFAULT 0,
		error_message TEXT,
		triggered_by TEXT,
		config_snapshot JSON
	);

	CREATE TABLE IF NOT EXISTS provider_sync_status (
		provider_id TEXT PRIMARY KEY,
		sync_enabled BOOLEAN DEFAULT TRUE,
		interval_hours INTEGER DEFAULT 4,
		last_run_id INTEGER,
		last_started_at DATETIME,
		last_completed_at DATETIME,
		last_duration_secs INTEGER,
		last_status TEXT,
		last_error TEXT,
		last_fetched INTEGER DEFAULT 0,
		last_added INTEGER DEFAULT 0,
		last_updated INTEGER DEFAULT 0,
		last_deleted INTEGER DEFAULT 0,
		last_errored INTEGER DEFAULT 0,
		last_media_downloaded INTEGER DEFAULT 0,
		last_media_failed INTEGER DEFAULT 0,
		consecutive_failures INTEGER DEFAULT 0,
		total_runs INTEGER DEFAULT 0,
		total_successes INTEGER DEFAULT 0,
		total_failures INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		provider_id TEXT,
		external_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_provider ON sync_runs(provider_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON sync_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON sync_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_errors ON sync_logs(provider_id, level, timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Sync runs
// =============================================================================

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (provider_id, kind, status, started_at, triggered_by, config_snapshot)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ProviderID, run.Kind, run.Status, run.StartedAt, run.TriggeredBy, nullJSON(run.ConfigSnap))
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) SealSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, error_message = ?,
			fetched = ?, added = ?, updated = ?, deleted = ?, errored = ?,
			media_downloaded = ?, media_failed = ?
		WHERE id = ? AND status = 'running'`,
		run.Status, run.FinishedAt, run.ErrorMessage,
		run.Counters.Fetched, run.Counters.Added, run.Counters.Updated,
		run.Counters.Deleted, run.Counters.Errored,
		run.Counters.MediaDownloaded, run.Counters.MediaFailed,
		run.ID)
	return err
}

func (s *SQLiteStore) GetSyncRun(ctx context.Context, id int64) (*models.SyncRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider_id, kind, status, started_at, finished_at,
			fetched, added, updated, deleted, errored, media_downloaded, media_failed,
			error_message, triggered_by, config_snapshot
		FROM sync_runs WHERE id = ?`, id)

	run, err := scanSQLiteRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, providerID string, limit int) ([]models.SyncRun, error) {
	return s.queryRuns(ctx, `
		SELECT id, provider_id, kind, status, started_at, finished_at,
			fetched, added, updated, deleted, errored, media_downloaded, media_failed,
			error_message, triggered_by, config_snapshot
		FROM sync_runs WHERE provider_id = ? ORDER BY started_at DESC LIMIT ?`, providerID, limit)
}

func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return s.queryRuns(ctx, `
		SELECT id, provider_id, kind, status, started_at, finished_at,
			fetched, added, updated, deleted, errored, media_downloaded, media_failed,
			error_message, triggered_by, config_snapshot
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]models.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanSQLiteRun(scan func(...any) error) (*models.SyncRun, error) {
	var r models.SyncRun
	var errMsg, triggeredBy, snapshot sql.NullString
	err := scan(
		&r.ID, &r.ProviderID, &r.Kind, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.Counters.Fetched, &r.Counters.Added, &r.Counters.Updated,
		&r.Counters.Deleted, &r.Counters.Errored,
		&r.Counters.MediaDownloaded, &r.Counters.MediaFailed,
		&errMsg, &triggeredBy, &snapshot,
	)
	if err != nil {
		return nil, err
	}
	r.ErrorMessage = errMsg.String
	r.TriggeredBy = triggeredBy.String
	if snapshot.Valid {
		r.ConfigSnap = json.RawMessage(snapshot.String)
	}
	return &r, nil
}

// =============================================================================
// Provider sync status
// =============================================================================

func (s *SQLiteStore) GetProviderStatus(ctx context.Context, providerID string) (*models.ProviderSyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider_id, sync_enabled, interval_hours,
			last_run_id, last_started_at, last_completed_at, last_duration_secs,
			last_status, last_error,
			last_fetched, last_added, last_updated, last_deleted, last_errored,
			last_media_downloaded, last_media_failed,
			consecutive_failures, total_runs, total_successes, total_failures
		FROM provider_sync_status WHERE provider_id = ?`, providerID)

	st, err := scanSQLiteStatus(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) UpsertProviderStatus(ctx context.Context, st *models.ProviderSyncStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sync_status (provider_id, sync_enabled, interval_hours,
			last_run_id, last_started_at, last_completed_at, last_duration_secs,
			last_status, last_error,
			last_fetched, last_added, last_updated, last_deleted, last_errored,
			last_media_downloaded, last_media_failed,
			consecutive_failures, total_runs, total_successes, total_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			sync_enabled = excluded.sync_enabled,
			interval_hours = excluded.interval_hours,
			last_run_id = excluded.last_run_id,
			last_started_at = excluded.last_started_at,
			last_completed_at = excluded.last_completed_at,
			last_duration_secs = excluded.last_duration_secs,
			last_status = excluded.last_status,
			last_error = excluded.last_error,
			last_fetched = excluded.last_fetched,
			last_added = excluded.last_added,
			last_updated = excluded.last_updated,
			last_deleted = excluded.last_deleted,
			last_errored = excluded.last_errored,
			last_media_downloaded = excluded.last_media_downloaded,
			last_media_failed = excluded.last_media_failed,
			consecutive_failures = excluded.consecutive_failures,
			total_runs = excluded.total_runs,
			total_successes = excluded.total_successes,
			total_failures = excluded.total_failures`,
		st.ProviderID, st.SyncEnabled, st.IntervalHours,
		st.LastRunID, st.LastStartedAt, st.LastCompletedAt, st.LastDurationSecs,
		string(st.LastStatus), st.LastError,
		st.LastCounters.Fetched, st.LastCounters.Added, st.LastCounters.Updated,
		st.LastCounters.Deleted, st.LastCounters.Errored,
		st.LastCounters.MediaDownloaded, st.LastCounters.MediaFailed,
		st.ConsecutiveFailures, st.TotalRuns, st.TotalSuccesses, st.TotalFailures)
	return err
}

func (s *SQLiteStore) SetSyncEnabled(ctx context.Context, providerID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sync_status (provider_id, sync_enabled, interval_hours)
		VALUES (?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET sync_enabled = excluded.sync_enabled`,
		providerID, enabled, config.DefaultIntervalHours)
	return err
}

func (s *SQLiteStore) SetSyncInterval(ctx context.Context, providerID string, hours int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sync_status (provider_id, interval_hours)
		VALUES (?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET interval_hours = excluded.interval_hours`,
		providerID, hours)
	return err
}

func (s *SQLiteStore) ListProviderStatuses(ctx context.Context) ([]models.ProviderSyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, sync_enabled, interval_hours,
			last_run_id, last_started_at, last_completed_at, last_duration_secs,
			last_status, last_error,
			last_fetched, last_added, last_updated, last_deleted, last_errored,
			last_media_downloaded, last_media_failed,
			consecutive_failures, total_runs, total_successes, total_failures
		FROM provider_sync_status ORDER BY provider_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProviderSyncStatus
	for rows.Next() {
		st, err := scanSQLiteStatus(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanSQLiteStatus(scan func(...any) error) (*models.ProviderSyncStatus, error) {
	var st models.ProviderSyncStatus
	var lastStatus, lastError sql.NullString
	err := scan(
		&st.ProviderID, &st.SyncEnabled, &st.IntervalHours,
		&st.LastRunID, &st.LastStartedAt, &st.LastCompletedAt, &st.LastDurationSecs,
		&lastStatus, &lastError,
		&st.LastCounters.Fetched, &st.LastCounters.Added, &st.LastCounters.Updated,
		&st.LastCounters.Deleted, &st.LastCounters.Errored,
		&st.LastCounters.MediaDownloaded, &st.LastCounters.MediaFailed,
		&st.ConsecutiveFailures, &st.TotalRuns, &st.TotalSuccesses, &st.TotalFailures,
	)
	if err != nil {
		return nil, err
	}
	st.LastStatus = models.RunStatus(lastStatus.String)
	st.LastError = lastError.String
	return &st, nil
}

// =============================================================================
// Sync logs
// =============================================================================

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, providerID, externalID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (run_id, timestamp, level, message, provider_id, external_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, providerID, externalID)
	return err
}

func (s *SQLiteStore) ListErrors(ctx context.Context, providerID string, limit int) ([]models.SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, provider_id, external_id
		FROM sync_logs
		WHERE provider_id = ? AND level = 'error'
		ORDER BY timestamp DESC LIMIT ?`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		var externalID sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.ProviderID, &externalID); err != nil {
			return nil, err
		}
		l.ExternalID = externalID.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// Statistics
// =============================================================================

func (s *SQLiteStore) GetStatistics(ctx context.Context) (*models.SyncStatistics, error) {
	var stats models.SyncStatistics

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN sync_enabled THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_runs), 0), COALESCE(SUM(total_successes), 0), COALESCE(SUM(total_failures), 0)
		FROM provider_sync_status`).Scan(
		&stats.Providers, &stats.Enabled,
		&stats.TotalRuns, &stats.TotalSuccesses, &stats.TotalFailures)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
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

// =============================================================================
// Command queue
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw any
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
