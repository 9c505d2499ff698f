package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/tenant"
)

// Document is one stored document row. Artifact paths are absolute.
type Document struct {
	ID               string
	TenantID         tenant.ID
	Title            string
	Content          string
	MimeType         string
	Checksum         string
	OriginalFilename string
	OriginalPath     string
	ArchivePath      string
	ThumbnailPath    string
	CorrespondentID  *int64
	DocumentTypeID   *int64
	StoragePathID    *int64
	OwnerID          *int64
	ASN              *int64
	PageCount        int
	NeedsOCR         bool
	Source           string
	CreatedAt        *time.Time
	AddedAt          time.Time
}

// ErrConflict is returned when an insert violates a uniqueness rule,
// typically a duplicate checksum or archive serial number within a tenant.
var ErrConflict = errors.New("store: uniqueness conflict")

// CommitDocument inserts the document, its tag links, its custom field
// values and its search index row in a single transaction. On any error
// nothing is persisted.
func (s *Store) CommitDocument(ctx context.Context, d *Document, tagIDs []int64, fields map[int64]string) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var createdAt any
		if d.CreatedAt != nil {
			createdAt = d.CreatedAt.Unix()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (
				id, tenant_id, title, content, mime_type, checksum,
				original_filename, original_path, archive_path, thumbnail_path,
				correspondent_id, document_type_id, storage_path_id, owner_id,
				asn, page_count, needs_ocr, source, created_at, added_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			d.ID, string(d.TenantID), d.Title, d.Content, d.MimeType, d.Checksum,
			d.OriginalFilename, d.OriginalPath, d.ArchivePath, d.ThumbnailPath,
			d.CorrespondentID, d.DocumentTypeID, d.StoragePathID, d.OwnerID,
			d.ASN, d.PageCount, boolInt(d.NeedsOCR), d.Source, createdAt, d.AddedAt.Unix())
		if err != nil {
			return err
		}
		for _, tagID := range tagIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_tags (document_id, tag_id) VALUES (?, ?)
				 ON CONFLICT DO NOTHING`, d.ID, tagID); err != nil {
				return err
			}
		}
		for fieldID, value := range fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_custom_fields (document_id, field_id, value)
				 VALUES (?, ?, ?)
				 ON CONFLICT (document_id, field_id) DO UPDATE SET value = excluded.value`,
				d.ID, fieldID, value); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents_fts (doc_id, title, content) VALUES (?, ?, ?)`,
			d.ID, d.Title, d.Content)
		return err
	})
	if err != nil {
		if dbopen.IsConstraint(err) {
			return fmt.Errorf("store: commit document %s: %w", d.ID, ErrConflict)
		}
		return fmt.Errorf("store: commit document %s: %w", d.ID, err)
	}
	return nil
}

// DocumentByChecksum reports whether a document with the given content
// checksum already exists for the tenant, returning its id when it does.
func (s *Store) DocumentByChecksum(ctx context.Context, tid tenant.ID, checksum string) (string, bool, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE tenant_id = ? AND checksum = ?`,
		string(tid), checksum).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: lookup checksum: %w", err)
	}
	return id, true, nil
}

const documentColumns = `
	id, tenant_id, title, content, mime_type, checksum,
	original_filename, original_path, archive_path, thumbnail_path,
	correspondent_id, document_type_id, storage_path_id, owner_id,
	asn, page_count, needs_ocr, source, created_at, added_at`

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var tid string
	var needsOCR int
	var createdAt, addedAt sql.NullInt64
	err := row.Scan(
		&d.ID, &tid, &d.Title, &d.Content, &d.MimeType, &d.Checksum,
		&d.OriginalFilename, &d.OriginalPath, &d.ArchivePath, &d.ThumbnailPath,
		&d.CorrespondentID, &d.DocumentTypeID, &d.StoragePathID, &d.OwnerID,
		&d.ASN, &d.PageCount, &needsOCR, &d.Source, &createdAt, &addedAt)
	if err != nil {
		return nil, err
	}
	d.TenantID = tenant.ID(tid)
	d.NeedsOCR = needsOCR != 0
	if createdAt.Valid {
		t := time.Unix(createdAt.Int64, 0).UTC()
		d.CreatedAt = &t
	}
	if addedAt.Valid {
		d.AddedAt = time.Unix(addedAt.Int64, 0).UTC()
	}
	return &d, nil
}

// GetDocument loads one document by id. The caller is expected to check
// the returned TenantID when acting on behalf of a tenant.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.DB.QueryRowContext(ctx,
		`SELECT`+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %s: %w", id, ErrUnknownEntity)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document %s: %w", id, err)
	}
	return d, nil
}

// DocumentTags returns the tag ids linked to a document, ordered by id.
func (s *Store) DocumentTags(ctx context.Context, id string) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT tag_id FROM document_tags WHERE document_id = ? ORDER BY tag_id`, id)
	if err != nil {
		return nil, fmt.Errorf("store: document tags %s: %w", id, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var tagID int64
		if err := rows.Scan(&tagID); err != nil {
			return nil, err
		}
		out = append(out, tagID)
	}
	return out, rows.Err()
}

// UpdateExtraction replaces the extracted content and renditions of an
// existing document, keeping the search index in step. Used when a
// document is re-processed, for example after OCR.
func (s *Store) UpdateExtraction(ctx context.Context, id, content, archivePath, thumbnailPath string, pageCount int, needsOCR bool) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET content = ?, archive_path = ?, thumbnail_path = ?,
			    page_count = ?, needs_ocr = ?
			WHERE id = ?`,
			content, archivePath, thumbnailPath, pageCount, boolInt(needsOCR), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUnknownEntity
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents_fts WHERE doc_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents_fts (doc_id, title, content)
			 SELECT id, title, content FROM documents WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: update extraction %s: %w", id, err)
	}
	return nil
}

// AllDocumentIDs returns every document id, oldest first.
func (s *Store) AllDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM documents ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListNeedsOCR returns ids of documents flagged as needing OCR.
func (s *Store) ListNeedsOCR(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM documents WHERE needs_ocr = 1 ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list needs-ocr: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
