// Package store persists opportunities, risk state and statistics in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a stored opportunity.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusSkipped   Status = "skipped"
)

var statuses = []Status{
	StatusDetected, StatusExecuting, StatusExecuted, StatusPartial,
	StatusFailed, StatusExpired, StatusSkipped,
}

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Repository wraps a migrated database.
type Repository struct {
	db              *sql.DB
	initialBankroll float64
	now             func() time.Time
}

// New returns a Repository over db. initialBankroll seeds the risk state the
// first time it is read.
func New(db *sql.DB, initialBankroll float64) *Repository {
	return &Repository{db: db, initialBankroll: initialBankroll, now: time.Now}
}

func (r *Repository) DB() *sql.DB { return r.db }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
