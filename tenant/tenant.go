// Package tenant propagates the owning tenant through the consumption
// pipeline and enforces isolation at the boundaries.
//
// Every cache key, trigger query, and stored artifact is scoped by a tenant
// ID. Core operations never cross tenants: a reference to an entity owned by
// another tenant is rejected with a CrossTenantError, which is permanent and
// must not be retried.
package tenant

import (
	"context"
	"fmt"
	"strings"
)

// ID identifies one tenant. The empty ID is never valid for a core
// operation.
type ID string

// Valid reports whether the ID can be used for scoping.
func (id ID) Valid() bool { return id != "" }

type ctxKey struct{}

// WithTenant returns a context carrying the tenant ID.
func WithTenant(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the tenant ID carried by ctx, if any.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(ctxKey{}).(ID)
	return id, ok && id.Valid()
}

// Key builds a tenant-namespaced key: "t:<id>:<part>:<part>...".
// All cache keys in the system go through Key so that no two tenants can
// ever collide on a backend entry.
func Key(id ID, parts ...string) string {
	var sb strings.Builder
	sb.WriteString("t:")
	sb.WriteString(string(id))
	for _, p := range parts {
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	return sb.String()
}

// CrossTenantError is returned when an operation for one tenant references
// an entity owned by another. It is a permanent error: retrying cannot
// succeed.
type CrossTenantError struct {
	Kind  string // entity kind: "correspondent", "tag", "document_type", ...
	Ref   int64  // the referenced entity id
	Owner ID     // the tenant that owns the entity
	Want  ID     // the tenant the operation ran for
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("tenant: %s %d belongs to tenant %q, not %q", e.Kind, e.Ref, e.Owner, e.Want)
}
