package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docmill/docmill/tenant"
)

// EntityKind names one of the referenceable entity tables.
type EntityKind string

const (
	KindTag           EntityKind = "tag"
	KindCorrespondent EntityKind = "correspondent"
	KindDocumentType  EntityKind = "document_type"
	KindStoragePath   EntityKind = "storage_path"
	KindCustomField   EntityKind = "custom_field"
)

var entityTables = map[EntityKind]string{
	KindTag:           "tags",
	KindCorrespondent: "correspondents",
	KindDocumentType:  "document_types",
	KindStoragePath:   "storage_paths",
	KindCustomField:   "custom_fields",
}

// ErrUnknownEntity is returned when an entity id does not exist.
var ErrUnknownEntity = errors.New("store: unknown entity")

func (s *Store) getOrCreate(ctx context.Context, table string, tid tenant.ID, name string) (int64, error) {
	var id int64
	// The no-op DO UPDATE makes RETURNING yield the existing row id on
	// conflict instead of returning nothing.
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (tenant_id, name) VALUES (?, ?)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET name = excluded.name
		 RETURNING id`, table), string(tid), name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: get or create %s %q: %w", table, name, err)
	}
	return id, nil
}

// GetOrCreateTag returns the id of the named tag, creating it if needed.
func (s *Store) GetOrCreateTag(ctx context.Context, tid tenant.ID, name string) (int64, error) {
	return s.getOrCreate(ctx, "tags", tid, name)
}

// GetOrCreateCorrespondent returns the id of the named correspondent,
// creating it if needed.
func (s *Store) GetOrCreateCorrespondent(ctx context.Context, tid tenant.ID, name string) (int64, error) {
	return s.getOrCreate(ctx, "correspondents", tid, name)
}

// GetOrCreateDocumentType returns the id of the named document type,
// creating it if needed.
func (s *Store) GetOrCreateDocumentType(ctx context.Context, tid tenant.ID, name string) (int64, error) {
	return s.getOrCreate(ctx, "document_types", tid, name)
}

// GetOrCreateStoragePath returns the id of the named storage path,
// creating it if needed.
func (s *Store) GetOrCreateStoragePath(ctx context.Context, tid tenant.ID, name string) (int64, error) {
	return s.getOrCreate(ctx, "storage_paths", tid, name)
}

// GetOrCreateCustomField returns the id of the named custom field,
// creating it if needed.
func (s *Store) GetOrCreateCustomField(ctx context.Context, tid tenant.ID, name string) (int64, error) {
	return s.getOrCreate(ctx, "custom_fields", tid, name)
}

// EntityTenant reports which tenant owns the given entity.
// Returns ErrUnknownEntity if the id does not exist.
func (s *Store) EntityTenant(ctx context.Context, kind EntityKind, id int64) (tenant.ID, error) {
	table, ok := entityTables[kind]
	if !ok {
		return "", fmt.Errorf("store: unknown entity kind %q", kind)
	}
	var tid string
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT tenant_id FROM %s WHERE id = ?`, table), id).Scan(&tid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: %s %d: %w", kind, id, ErrUnknownEntity)
	}
	if err != nil {
		return "", fmt.Errorf("store: entity tenant %s %d: %w", kind, id, err)
	}
	return tenant.ID(tid), nil
}

// EntityName returns the display name of an entity, scoped to its
// tenant. Returns ErrUnknownEntity when id does not exist for tid.
func (s *Store) EntityName(ctx context.Context, kind EntityKind, tid tenant.ID, id int64) (string, error) {
	table, ok := entityTables[kind]
	if !ok {
		return "", fmt.Errorf("store: unknown entity kind %q", kind)
	}
	var name string
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE id = ? AND tenant_id = ?`, table),
		id, string(tid)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: %s %d: %w", kind, id, ErrUnknownEntity)
	}
	if err != nil {
		return "", fmt.Errorf("store: entity name %s %d: %w", kind, id, err)
	}
	return name, nil
}
