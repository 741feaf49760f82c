// Package audit records the per-item append-only audit trail on the backing
// store's streams and provides the query surface over it.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
	"stratadb/pkg/utils"
)

// Details carries the optional fields of an audit entry; zero values are
// omitted from the stored record.
type Details struct {
	Version        int
	Mutation       string
	Transformation string
	Data           map[string]interface{}
}

// Options narrows an Entries query. Count <= 0 means unbounded; zero Since
// and Until leave the time range open on that side.
type Options struct {
	Count   int
	Reverse bool
	Since   time.Time
	Until   time.Time
}

// Stats summarizes one item's audit stream.
type Stats struct {
	Total        int                      `json:"total"`
	ByOperation  map[models.Operation]int `json:"by_operation"`
	FirstEntryAt time.Time                `json:"first_entry_at,omitempty"`
	LastEntryAt  time.Time                `json:"last_entry_at,omitempty"`
}

// Logger writes and reads audit streams. An audit write failure propagates
// to the caller; the trail is authoritative, not best-effort.
type Logger struct {
	kv *store.Store
}

// NewLogger returns an audit logger over kv.
func NewLogger(kv *store.Store) *Logger {
	return &Logger{kv: kv}
}

// Log appends one entry to the item's audit stream.
func (l *Logger) Log(c keys.Components, op models.Operation, d Details) error {
	key, err := keys.Audit(c)
	if err != nil {
		return err
	}
	entry := models.AuditEntry{
		ID:             utils.GenID(),
		Domain:         c.Domain,
		App:            c.App,
		Collection:     c.Collection,
		ItemID:         c.ID,
		Operation:      op,
		Version:        d.Version,
		Mutation:       d.Mutation,
		Transformation: d.Transformation,
		Timestamp:      time.Now().UTC(),
		Data:           d.Data,
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := l.kv.XAdd(key, b); err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}
	logger.Debug("audit_logged", "item", c.ID, "operation", string(op))
	return nil
}

func decode(raw []store.StreamEntry) ([]models.AuditEntry, error) {
	out := make([]models.AuditEntry, 0, len(raw))
	for _, e := range raw {
		var entry models.AuditEntry
		if err := json.Unmarshal(e.Data, &entry); err != nil {
			return nil, fmt.Errorf("corrupt audit entry %s: %w", e.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Entries reads the item's audit stream. A missing stream reads as empty.
// Time filtering happens after the read, so Count bounds the scan, not the
// filtered result.
func (l *Logger) Entries(c keys.Components, opts Options) ([]models.AuditEntry, error) {
	key, err := keys.Audit(c)
	if err != nil {
		return nil, err
	}
	var raw []store.StreamEntry
	if opts.Reverse {
		raw, err = l.kv.XRevRange(key, opts.Count)
	} else {
		raw, err = l.kv.XRange(key, opts.Count)
	}
	if err != nil {
		return nil, err
	}
	entries, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if opts.Since.IsZero() && opts.Until.IsZero() {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// Latest returns the most recent n entries, newest first.
func (l *Logger) Latest(c keys.Components, n int) ([]models.AuditEntry, error) {
	return l.Entries(c, Options{Count: n, Reverse: true})
}

// ByOperation returns the entries recording the given operation, in append
// order.
func (l *Logger) ByOperation(c keys.Components, op models.Operation) ([]models.AuditEntry, error) {
	all, err := l.Entries(c, Options{})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByTimeRange returns the entries whose timestamp falls in [since, until].
func (l *Logger) ByTimeRange(c keys.Components, since, until time.Time) ([]models.AuditEntry, error) {
	return l.Entries(c, Options{Since: since, Until: until})
}

// Search returns the entries whose JSON encoding contains term,
// case-insensitively. It is a linear scan over the stream.
func (l *Logger) Search(c keys.Components, term string) ([]models.AuditEntry, error) {
	all, err := l.Entries(c, Options{})
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	out := all[:0]
	for _, e := range all {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(string(b)), term) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Export returns the full trail as a JSON array, oldest first.
func (l *Logger) Export(c keys.Components) ([]byte, error) {
	all, err := l.Entries(c, Options{})
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []models.AuditEntry{}
	}
	return json.MarshalIndent(all, "", "  ")
}

// Trim drops the oldest entries beyond maxLen and returns how many were
// removed.
func (l *Logger) Trim(c keys.Components, maxLen int) (int, error) {
	key, err := keys.Audit(c)
	if err != nil {
		return 0, err
	}
	removed, err := l.kv.XTrim(key, maxLen)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logger.Info("audit_trimmed", "item", c.ID, "removed", removed, "max", maxLen)
	}
	return removed, nil
}

// GetStats summarizes the trail: totals per operation and the first/last
// entry timestamps.
func (l *Logger) GetStats(c keys.Components) (Stats, error) {
	all, err := l.Entries(c, Options{})
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Total: len(all), ByOperation: make(map[models.Operation]int)}
	for _, e := range all {
		s.ByOperation[e.Operation]++
	}
	if len(all) > 0 {
		s.FirstEntryAt = all[0].Timestamp
		s.LastEntryAt = all[len(all)-1].Timestamp
	}
	return s, nil
}
