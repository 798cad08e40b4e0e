package models

import (
	"encoding/json"
	"time"
)

type SyncKind string

const (
	SyncKindFull        SyncKind = "full"
	SyncKindIncremental SyncKind = "incremental"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunCounters are the per-run statistics accumulated by the orchestrator.
type RunCounters struct {
	Fetched         int `json:"fetched"`
	Added           int `json:"added"`
	Updated         int `json:"updated"`
	Deleted         int `json:"deleted"`
	Errored         int `json:"errored"`
	MediaDownloaded int `json:"media_downloaded"`
	MediaFailed     int `json:"media_failed"`
}

// SyncRun is one row of sync history. Created when a run starts, sealed once
// when it ends; only an explicit cancellation touches it after that.
type SyncRun struct {
	ID         int64      `json:"id" db:"id"`
	ProviderID string     `json:"provider_id" db:"provider_id"`
	Kind       SyncKind   `json:"kind" db:"kind"`
	Status     RunStatus  `json:"status" db:"status"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`

	Counters RunCounters `json:"counters" db:"counters"`

	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	TriggeredBy  string          `json:"triggered_by" db:"triggered_by"`
	ConfigSnap   json.RawMessage `json:"config_snapshot,omitempty" db:"config_snapshot"`
}

// Duration returns the wall-clock run time, zero while still running.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ProviderSyncStatus is the rolling health row for one provider, read by the
// scheduler's due-check and rewritten at the start and end of every run.
type ProviderSyncStatus struct {
	ProviderID    string        `json:"provider_id" db:"provider_id"`
	SyncEnabled   bool          `json:"sync_enabled" db:"sync_enabled"`
	IntervalHours int           `json:"interval_hours" db:"interval_hours"`

	LastRunID          *int64     `json:"last_run_id" db:"last_run_id"`
	LastStartedAt      *time.Time `json:"last_started_at" db:"last_started_at"`
	LastCompletedAt    *time.Time `json:"last_completed_at" db:"last_completed_at"`
	LastDurationSecs   *int       `json:"last_duration_secs" db:"last_duration_secs"`
	LastStatus         RunStatus  `json:"last_status" db:"last_status"`
	LastError          string     `json:"last_error,omitempty" db:"last_error"`
	LastCounters       RunCounters `json:"last_counters" db:"last_counters"`

	ConsecutiveFailures int `json:"consecutive_failures" db:"consecutive_failures"`
	TotalRuns           int `json:"total_runs" db:"total_runs"`
	TotalSuccesses      int `json:"total_successes" db:"total_successes"`
	TotalFailures       int `json:"total_failures" db:"total_failures"`
}

// SyncStatistics is the aggregate view across all providers.
type SyncStatistics struct {
	Providers       int `json:"providers"`
	Enabled         int `json:"enabled"`
	TotalRuns       int `json:"total_runs"`
	TotalSuccesses  int `json:"total_successes"`
	TotalFailures   int `json:"total_failures"`
	ListingsAdded   int `json:"listings_added"`
	ListingsUpdated int `json:"listings_updated"`
	MediaDownloaded int `json:"media_downloaded"`
	RecordErrors    int `json:"record_errors"`
}
