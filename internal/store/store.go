// Package store provides the data access layer for the jobulator control
// plane: the schema DDL, row types with scan helpers shared by the
// transactional engine, and the read-side queries behind the HTTP API.
//
// Multi-row mutations live in the pipeline package and run inside a
// single transaction; this package exposes the row-level vocabulary they
// share.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Transactional callers pass their open transaction; read paths pass the
// pool directly.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Store wraps the control-plane database for read queries and admin CRUD.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// NowMillis is the store timestamp convention: Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NullIfEmpty maps "" to NULL so partial unique indexes see true NULLs.
func NullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NullIfZero maps 0 to NULL for optional timestamps.
func NullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// MarshalJSON renders a map column, defaulting to the empty object.
func MarshalJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// MarshalList renders a string-list column, defaulting to the empty array.
func MarshalList(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// UnmarshalJSON parses a map column; malformed or empty text yields an
// empty map rather than an error, matching how dynamic payload columns
// are treated everywhere else.
func UnmarshalJSON(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

// UnmarshalList parses a string-list column.
func UnmarshalList(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
