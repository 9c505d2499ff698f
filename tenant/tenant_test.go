package tenant

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKeyNamespacing(t *testing.T) {
	a := Key("acme", "classify", "abc123")
	b := Key("globex", "classify", "abc123")
	if a == b {
		t.Fatalf("keys for different tenants collide: %q", a)
	}
	if a != "t:acme:classify:abc123" {
		t.Errorf("Key = %q, want %q", a, "t:acme:classify:abc123")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "acme")
	id, ok := FromContext(ctx)
	if !ok || id != "acme" {
		t.Fatalf("FromContext = %q, %v", id, ok)
	}

	// No tenant attached.
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("FromContext reported a tenant on a bare context")
	}

	// Empty tenant is not valid.
	if _, ok := FromContext(WithTenant(context.Background(), "")); ok {
		t.Fatal("empty tenant ID treated as valid")
	}
}

func TestCrossTenantError(t *testing.T) {
	err := fmt.Errorf("apply overrides: %w", &CrossTenantError{
		Kind: "correspondent", Ref: 7, Owner: "globex", Want: "acme",
	})

	var cte *CrossTenantError
	if !errors.As(err, &cte) {
		t.Fatal("errors.As failed to unwrap CrossTenantError")
	}
	if cte.Kind != "correspondent" || cte.Ref != 7 {
		t.Errorf("unexpected fields: %+v", cte)
	}
}
