// Package models holds the wire/storage shapes shared by the store
// subsystems. Documents are dynamic per collection, so Data is a plain map;
// the per-collection capability table (pkg/repo) carries typed behavior.
package models

import "time"

// Item is one immutable version snapshot of a stored document. Version
// numbers for a given id are contiguous starting at 1. CreatedAt is fixed at
// version 1 and copied forward; UpdatedAt changes per version.
type Item struct {
	ID        string                 `json:"id"`
	Version   int                    `json:"version"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	// TTL is the snapshot time-to-live in seconds at write time; zero means
	// no expiry.
	TTL int64 `json:"ttl,omitempty"`
}

// MutationResult is one entry of a batch mutation run. Exactly one of
// Result/Error is set; a failing mutation never aborts the rest of the batch.
type MutationResult struct {
	Name   string      `json:"name"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// MaterializedMutation is a mutation result persisted at the mutation key
// for later retrieval without recomputation.
type MaterializedMutation struct {
	ID         string      `json:"id"`
	Mutation   string      `json:"mutation"`
	Result     interface{} `json:"result"`
	ExecutedAt time.Time   `json:"executed_at"`
}

// TransformationResult is a worker-computed result persisted at the
// transformation key.
type TransformationResult struct {
	ID             string      `json:"id"`
	Transformation string      `json:"transformation"`
	JobID          string      `json:"job_id"`
	Result         interface{} `json:"result"`
	CompletedAt    time.Time   `json:"completed_at"`
}
