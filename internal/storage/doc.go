// Package storage provides the bot's persistence layer.
//
// It currently supports:
//   - Audit log appends and recent-tail reads (alerts, scans, halts,
//     operator commands)
//   - Dedup state with expiry (owner-escalation suppression), surviving
//     restarts
package storage
