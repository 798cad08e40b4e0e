package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncNow      CommandType = "sync_now"
	CmdSyncProvider CommandType = "sync_provider"
	CmdCancelSync   CommandType = "cancel_sync"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
)

// Command is an operator instruction queued in the ops store and picked up
// by the scheduler's poll loop.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Provider string `json:"provider,omitempty"`
	Kind     string `json:"kind,omitempty"`
}
