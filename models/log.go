package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog is one line of per-run logging kept in the ledger alongside the
// run's counters. Error lines carry the offending external id in ExternalID
// so the admin error listing can surface them.
type SyncLog struct {
	ID         int64     `json:"id" db:"id"`
	RunID      *int64    `json:"run_id" db:"run_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Level      LogLevel  `json:"level" db:"level"`
	Message    string    `json:"message" db:"message"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	ExternalID string    `json:"external_id,omitempty" db:"external_id"`
}
