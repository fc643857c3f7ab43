// Package remote abstracts the table-oriented remote store the sync core
// drains into. Table names and record shapes are opaque pass-through data;
// the core never validates schema.
package remote

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/Update/Delete when the remote table has no
// record with the requested id.
var ErrNotFound = errors.New("remote: record not found")

// Record is an opaque remote row keyed by "id".
type Record = map[string]any

// Query narrows a Select call.
type Query struct {
	Filter  map[string]any // equality match on top-level fields
	OrderBy string         // field name; empty means backend order
	Desc    bool
	Limit   int // 0 means no limit
}

// Backend is the record-oriented CRUD surface of the remote store. Every call
// honors ctx cancellation and deadlines.
type Backend interface {
	Get(ctx context.Context, table, id string) (Record, error)
	Select(ctx context.Context, table string, q Query) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table, id string, rec Record) error
	Delete(ctx context.Context, table, id string) error
}

// ID extracts the record id, or "" if absent.
func ID(rec Record) string {
	id, _ := rec["id"].(string)
	return id
}
