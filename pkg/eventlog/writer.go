package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Entry is one decision to record.
type Entry struct {
	Type         string
	Source       string
	Node         string
	InvocationID string
	Payload      any // marshalled to JSON unless it is already a string
}

// Recorder persists log entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Writer appends entries to the events table.
type Writer struct {
	db *sql.DB
}

// NewWriter returns a Writer over db. The schema must already be applied.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Record inserts e.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	var payload sql.NullString
	switch p := e.Payload.(type) {
	case nil:
	case string:
		payload = sql.NullString{String: p, Valid: p != ""}
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO events (type, source, node, invocation_id, payload) VALUES (?, ?, ?, ?, ?)`,
		e.Type, e.Source, nullable(e.Node), nullable(e.InvocationID), payload)
	if err != nil {
		return fmt.Errorf("log event %s: %w", e.Type, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) error { return nil }
