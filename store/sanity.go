package store

import (
	"context"
	"fmt"
	"os"

	"github.com/docmill/docmill/classify"
)

// Issue is one problem found by a sanity pass.
type Issue struct {
	DocumentID string
	Problem    string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.DocumentID, i.Problem)
}

// Sanity walks every stored document and verifies its artifacts: the
// original file must exist and hash to the stored checksum, and any
// recorded archive or thumbnail path must exist. It also reports search
// index rows without a backing document. Issues are collected rather
// than failing fast.
func (s *Store) Sanity(ctx context.Context) ([]Issue, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, checksum, original_path, archive_path, thumbnail_path
		 FROM documents ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("store: sanity: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var id, checksum, orig, archive, thumb string
		if err := rows.Scan(&id, &checksum, &orig, &archive, &thumb); err != nil {
			return nil, err
		}
		switch _, err := os.Stat(orig); {
		case err != nil:
			issues = append(issues, Issue{id, "original file missing: " + orig})
		default:
			sum, err := classify.ChecksumFile(orig)
			if err != nil {
				issues = append(issues, Issue{id, "original unreadable: " + err.Error()})
			} else if sum != checksum {
				issues = append(issues, Issue{id, "checksum mismatch on " + orig})
			}
		}
		if archive != "" {
			if _, err := os.Stat(archive); err != nil {
				issues = append(issues, Issue{id, "archive missing: " + archive})
			}
		}
		if thumb != "" {
			if _, err := os.Stat(thumb); err != nil {
				issues = append(issues, Issue{id, "thumbnail missing: " + thumb})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orphans, err := s.DB.QueryContext(ctx, `
		SELECT f.doc_id FROM documents_fts f
		LEFT JOIN documents d ON d.id = f.doc_id
		WHERE d.id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: sanity: %w", err)
	}
	defer orphans.Close()
	for orphans.Next() {
		var id string
		if err := orphans.Scan(&id); err != nil {
			return nil, err
		}
		issues = append(issues, Issue{id, "search index row without document"})
	}
	return issues, orphans.Err()
}
