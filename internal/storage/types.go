package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit entry kinds.
const (
	AuditAlert    = "alert"    // regime flip alert posted
	AuditBriefing = "briefing" // scheduled briefing posted
	AuditScan     = "scan"     // scan cycle summary (incl. aborts)
	AuditHalt     = "halt"     // emergency stop
	AuditCommand  = "command"  // operator chat command
	AuditDispatch = "dispatch" // outbound send failure
	AuditTask     = "task"     // scheduled task start/failure
)

// AuditEntry records one notable event. Actor is "monitor", "scheduler",
// or "user:<id>" for operator-initiated actions. Keep it compact and
// schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Actor    string    `json:"actor,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Dest     string    `json:"dest,omitempty"`
	Action   string    `json:"action"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
