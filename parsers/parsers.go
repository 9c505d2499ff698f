// Package parsers selects a content-extraction backend for a MIME type.
//
// Backends declare the MIME types they handle, a weight, and a factory that
// builds a stateful parser for exactly one document. Declarations are
// registered at startup and immutable afterwards; selection is a pure
// function over the registered list. The highest weight wins, ties go to
// the earliest registration, so selection is deterministic.
//
// Usage:
//
//	reg, _ := parsers.Builtin(parsers.Options{})
//	decl, err := reg.Select("application/pdf")
//	p := decl.New(parsers.Config{WorkDir: dir})
//	defer p.Cleanup()
//	ex, err := p.Parse(ctx, path, "application/pdf")
package parsers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrSkip signals that a file is intentionally not importable (for example
// an empty separator page). The pipeline cleans up the source file but
// creates no document and raises no alert.
var ErrSkip = errors.New("parsers: file intentionally not importable")

// UnsupportedMimeError is returned by Select when no declaration covers the
// given MIME type. It is permanent: the input will never become parseable
// by retrying.
type UnsupportedMimeError struct {
	MimeType string
}

func (e *UnsupportedMimeError) Error() string {
	return fmt.Sprintf("parsers: no backend for mime type %q", e.MimeType)
}

// Quality captures metrics about extraction fidelity, used to decide
// whether a document should be routed to OCR.
type Quality struct {
	PageCount      int     `json:"page_count"`
	CharsPerPage   float64 `json:"chars_per_page"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	HasImages      bool    `json:"has_images"`
}

// NeedsOCR reports whether the extracted text is likely unusable without
// running the document through an OCR engine.
func (q *Quality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImages) || q.PrintableRatio < 0.85
}

// Extraction is the result of parsing one document.
type Extraction struct {
	Title         string // content-derived title, may be empty
	Text          string // full extracted text
	ArchivePath   string // normalized searchable rendition, empty if none
	ThumbnailPath string // preview artifact
	PageCount     int
	Created       *time.Time // date found in content metadata, nil if unknown
	Quality       *Quality   // nil for formats without quality scoring
}

// Parser processes exactly one document and is discarded afterwards.
// Cleanup must be called on every exit path, success or not.
type Parser interface {
	Parse(ctx context.Context, path, mimeType string) (*Extraction, error)
	Thumbnail(ctx context.Context, path, mimeType string) (string, error)
	Cleanup()
}

// Config is handed to a parser factory for one document run. WorkDir is a
// scratch directory owned exclusively by that run; artifacts the parser
// produces must be written under it.
type Config struct {
	WorkDir     string
	OCRLanguage string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Declaration registers one backend: the MIME types it accepts (mapped to
// their default file extension), a selection weight, and a factory.
type Declaration struct {
	Name      string
	Weight    int
	MimeTypes map[string]string
	New       func(cfg Config) Parser
}

// Registry holds parser declarations. Register at startup only; Select is
// safe for concurrent use once registration is complete.
type Registry struct {
	decls []*Declaration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a declaration. Not safe to call concurrently with
// Select; wire the full registry before starting the pipeline.
func (r *Registry) Register(d *Declaration) error {
	if d.Name == "" {
		return fmt.Errorf("parsers: declaration without name")
	}
	if d.New == nil {
		return fmt.Errorf("parsers: declaration %q has no factory", d.Name)
	}
	if len(d.MimeTypes) == 0 {
		return fmt.Errorf("parsers: declaration %q accepts no mime types", d.Name)
	}
	r.decls = append(r.decls, d)
	return nil
}

// Select returns the declaration with the highest weight among those whose
// MimeTypes include mimeType. Ties are broken by registration order (first
// registered wins). Returns *UnsupportedMimeError if none matches.
func (r *Registry) Select(mimeType string) (*Declaration, error) {
	var best *Declaration
	for _, d := range r.decls {
		if _, ok := d.MimeTypes[mimeType]; !ok {
			continue
		}
		if best == nil || d.Weight > best.Weight {
			best = d
		}
	}
	if best == nil {
		return nil, &UnsupportedMimeError{MimeType: mimeType}
	}
	return best, nil
}

// DefaultExtension returns the declared extension for mimeType, searching
// declarations in selection order.
func (r *Registry) DefaultExtension(mimeType string) string {
	d, err := r.Select(mimeType)
	if err != nil {
		return ""
	}
	return d.MimeTypes[mimeType]
}

// Supported returns the sorted union of all registered MIME types.
func (r *Registry) Supported() []string {
	seen := make(map[string]bool)
	for _, d := range r.decls {
		for m := range d.MimeTypes {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
