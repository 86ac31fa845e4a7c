// Package store is the storage adapter: every read/write the rest of the
// service needs against the JSONB-document schema, layered on the teacher's
// generic pgx connection-pool wrapper (internal/database).
package store

import (
	"github.com/serena-health/breath-engine/internal/database"
)

// Store groups every storage-facing query method used by the ingest,
// pipeline, paramset, and feedback components.
type Store struct {
	db *database.DB
}

// New wraps an already-connected database.DB.
func New(db *database.DB) *Store {
	return &Store{db: db}
}
