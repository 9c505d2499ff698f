package store

import (
	"context"
	"fmt"

	"github.com/docmill/docmill/tenant"
)

// SearchHit is one full-text match.
type SearchHit struct {
	DocumentID string
	Title      string
}

// Search runs an FTS5 query scoped to one tenant, best matches first.
func (s *Store) Search(ctx context.Context, tid tenant.ID, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.id, d.title
		FROM documents_fts f
		JOIN documents d ON d.id = f.doc_id
		WHERE documents_fts MATCH ? AND d.tenant_id = ?
		ORDER BY rank
		LIMIT ?`, query, string(tid), limit)
	if err != nil {
		return nil, fmt.Errorf("store: search %q: %w", query, err)
	}
	defer rows.Close()
	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.DocumentID, &h.Title); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Reindex rebuilds the search index from the documents table and returns
// the number of indexed documents.
func (s *Store) Reindex(ctx context.Context) (int64, error) {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM documents_fts`); err != nil {
		return 0, fmt.Errorf("store: reindex: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents_fts (doc_id, title, content)
		SELECT id, title, content FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("store: reindex: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reindex: %w", err)
	}
	return n, nil
}

// Optimize merges the FTS index segments. Safe to run while readers are
// active.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO documents_fts (documents_fts) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("store: optimize: %w", err)
	}
	return nil
}
