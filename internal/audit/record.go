// Package audit persists one append-only AuditRecord per processed domain
// event. Redelivered events produce duplicate records; the log is never
// deduplicated or mutated.
package audit

import (
	"encoding/json"
	"time"
)

// Default values for fields the event does not carry.
const (
	SystemUser       = "system"
	DefaultSeverity  = "INFO"
	SeverityCritical = "CRITICAL"
)

// Record is one audit log entry. Payload is the inbound event, verbatim.
type Record struct {
	ID           string          `json:"id"`
	EntityID     string          `json:"entityId"`
	EntityType   string          `json:"entityType"`
	Action       string          `json:"action"`
	ResourceName string          `json:"resourceName,omitempty"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	Severity     string          `json:"severity"`
	Description  string          `json:"description,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
}
