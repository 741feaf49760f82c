package models

import "time"

// Operation names a lifecycle event recorded on the audit stream.
type Operation string

const (
	OpCreate         Operation = "create"
	OpUpdate         Operation = "update"
	OpDelete         Operation = "delete"
	OpMutation       Operation = "mutation"
	OpTransformation Operation = "transformation"
)

// AuditEntry is one immutable event on a per-item append-only stream.
// Entries are never mutated or reordered after being written.
type AuditEntry struct {
	ID             string                 `json:"id"`
	Domain         string                 `json:"domain"`
	App            string                 `json:"app"`
	Collection     string                 `json:"collection"`
	ItemID         string                 `json:"item_id"`
	Operation      Operation              `json:"operation"`
	Version        int                    `json:"version,omitempty"`
	Mutation       string                 `json:"mutation,omitempty"`
	Transformation string                 `json:"transformation,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Data           map[string]interface{} `json:"data,omitempty"`
}
