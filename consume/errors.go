package consume

import (
	"context"
	"errors"
	"fmt"

	"github.com/docmill/docmill/parsers"
	"github.com/docmill/docmill/store"
	"github.com/docmill/docmill/tenant"
)

var (
	// ErrSkipImport means a parser decided the file must not be
	// imported, for example an empty text file. The source file is
	// removed and the task counts as handled, not failed.
	ErrSkipImport = parsers.ErrSkip

	// ErrDuplicate means the tenant already stores a document with the
	// same content checksum. Permanent.
	ErrDuplicate = errors.New("consume: duplicate document")

	errNoTenant = errors.New("consume: missing tenant")
)

// DuplicateError carries the id of the already-stored document.
type DuplicateError struct {
	ExistingID string
	Checksum   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("consume: checksum %s already stored as document %s", e.Checksum, e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// ExtractionError means the selected parser failed on the file. The
// source is retained so the task can be retried.
type ExtractionError struct {
	Parser string
	Path   string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("consume: parser %s failed on %s: %v", e.Parser, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CommitError means the final persistence step failed after media
// artifacts were already rolled back. The source is retained.
type CommitError struct {
	DocumentID string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("consume: commit of %s failed: %v", e.DocumentID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Permanent reports whether err can never succeed on retry: unsupported
// MIME types, cross-tenant references, duplicates and uniqueness
// conflicts. Everything else, including cancellation, is worth retrying.
func Permanent(err error) bool {
	var unsupported *parsers.UnsupportedMimeError
	var cross *tenant.CrossTenantError
	switch {
	case errors.As(err, &unsupported), errors.As(err, &cross):
		return true
	case errors.Is(err, ErrDuplicate), errors.Is(err, store.ErrConflict):
		return true
	case errors.Is(err, store.ErrUnknownEntity):
		// Malformed override data: the referenced entity does not exist.
		return true
	case errors.Is(err, errNoTenant):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return false
}
