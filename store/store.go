// Package store provides the SQLite persistence layer for consumed
// documents and their entities (tags, correspondents, document types,
// storage paths, custom fields), plus the full-text search index over
// stored content.
//
// Every row carries a tenant_id and every query filters on it; the store
// never returns another tenant's data.
package store

import (
	"database/sql"
	"path/filepath"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/tenant"
)

// Store is the database handle plus the media directory that holds
// document artifacts (originals, archive renditions, thumbnails).
type Store struct {
	DB       *sql.DB
	MediaDir string
}

// Open opens (or creates) the SQLite database at path, applies pragmas
// and the schema, and binds the media directory.
func Open(path, mediaDir string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, MediaDir: mediaDir}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// DocumentDir returns the artifact directory for one document:
// <media>/<tenant>/<document id>.
func (s *Store) DocumentDir(tenantID tenant.ID, docID string) string {
	return filepath.Join(s.MediaDir, string(tenantID), docID)
}
