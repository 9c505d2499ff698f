// Package workflow evaluates trigger conditions against a document and
// returns the actions to fire.
//
// Triggers are configuration: they are added once at startup, validated
// eagerly (bad regex or template is a configuration error, not a runtime
// one), and evaluated read-only by the pipeline. Evaluation happens twice
// per document: at the PRE stage, before extraction, where only
// ingestion-time fields are known, and at the POST stage where the full
// document is visible. All matching triggers fire, in the order they were
// added.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/docmill/docmill/tenant"
)

// Stage selects which triggers a pipeline evaluation considers.
type Stage string

const (
	// StagePre runs before extraction. Only fields known at ingestion
	// (source, original filename, declared overrides, MIME type) are
	// populated on the document view; created/added are zero. That
	// information boundary is deliberate.
	StagePre Stage = "pre"
	// StagePost runs after extraction and classification, with every
	// field resolved.
	StagePost Stage = "post"
)

// TagMatch selects the combinator for tag filters.
type TagMatch string

const (
	// MatchAll requires every listed tag on the document.
	MatchAll TagMatch = "all"
	// MatchAny requires at least one listed tag.
	MatchAny TagMatch = "any"
)

// ActionType enumerates the operations a matched trigger performs.
type ActionType string

const (
	ActionAssignTags          ActionType = "assign_tags"
	ActionAssignCorrespondent ActionType = "assign_correspondent"
	ActionAssignDocumentType  ActionType = "assign_document_type"
	ActionAssignStoragePath   ActionType = "assign_storage_path"
	ActionSetTitle            ActionType = "set_title"
)

// Action is one operation fired by a matched trigger. Applying the same
// action twice to a document must be a no-op, never a duplicate.
type Action struct {
	Type     ActionType `json:"type" yaml:"type"`
	TagIDs   []int64    `json:"tag_ids,omitempty" yaml:"tag_ids,omitempty"`
	EntityID int64      `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	// Title is a template for ActionSetTitle, rendered with the
	// placeholder tokens of this package.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Filters is the match criteria of one trigger. Zero-valued fields do not
// constrain the match.
type Filters struct {
	TagIDs          []int64  `json:"tag_ids,omitempty" yaml:"tag_ids,omitempty"`
	TagMatch        TagMatch `json:"tag_match,omitempty" yaml:"tag_match,omitempty"`
	CorrespondentID int64    `json:"correspondent_id,omitempty" yaml:"correspondent_id,omitempty"`
	DocumentTypeID  int64    `json:"document_type_id,omitempty" yaml:"document_type_id,omitempty"`
	// CustomFields maps field name to required value; an empty value
	// only requires the field to be present.
	CustomFields map[string]string `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
	// ContentRegex and FilenameRegex are matched with a bounded-time
	// regex evaluation; a timeout counts as non-match.
	ContentRegex  string `json:"content_regex,omitempty" yaml:"content_regex,omitempty"`
	FilenameRegex string `json:"filename_regex,omitempty" yaml:"filename_regex,omitempty"`
}

// Trigger is one workflow rule: match criteria plus the actions to fire.
type Trigger struct {
	ID       string    `json:"id" yaml:"id"`
	TenantID tenant.ID `json:"tenant_id" yaml:"tenant_id"`
	Name     string    `json:"name" yaml:"name"`
	Stage    Stage     `json:"stage" yaml:"stage"`
	Filters  Filters   `json:"filters" yaml:"filters"`
	Actions  []Action  `json:"actions" yaml:"actions"`

	contentRe  *regexp.Regexp
	filenameRe *regexp.Regexp
}

// Document is the read-only view the engine matches against.
type Document struct {
	TenantID         tenant.ID
	Title            string
	Content          string
	OriginalFilename string
	MimeType         string
	Source           string
	TagIDs           []int64
	CorrespondentID  int64
	DocumentTypeID   int64
	CustomFields     map[string]string
}

// Config tunes the engine.
type Config struct {
	// RegexTimeout bounds every single regex match attempt. On timeout
	// the filter counts as non-matching and a warning is logged; it
	// never fails the pipeline. Default: 1s.
	RegexTimeout time.Duration

	// Logger for degraded-match warnings.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RegexTimeout <= 0 {
		c.RegexTimeout = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine holds the trigger set. Add at startup only; Evaluate is safe for
// concurrent use once the set is complete.
type Engine struct {
	cfg      Config
	triggers []*Trigger
}

// NewEngine creates an empty engine.
func NewEngine(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Add validates and registers a trigger. Regex patterns that do not
// compile and title templates with unknown or stage-unavailable tokens are
// rejected here, at configuration time.
func (e *Engine) Add(t *Trigger) error {
	if !t.TenantID.Valid() {
		return fmt.Errorf("workflow: trigger %q has no tenant", t.Name)
	}
	if t.Stage != StagePre && t.Stage != StagePost {
		return fmt.Errorf("workflow: trigger %q has invalid stage %q", t.Name, t.Stage)
	}
	switch t.Filters.TagMatch {
	case "", MatchAll, MatchAny:
	default:
		return fmt.Errorf("workflow: trigger %q has invalid tag match %q", t.Name, t.Filters.TagMatch)
	}

	var err error
	if t.Filters.ContentRegex != "" {
		if t.contentRe, err = regexp.Compile(t.Filters.ContentRegex); err != nil {
			return fmt.Errorf("workflow: trigger %q content regex: %w", t.Name, err)
		}
	}
	if t.Filters.FilenameRegex != "" {
		if t.filenameRe, err = regexp.Compile(t.Filters.FilenameRegex); err != nil {
			return fmt.Errorf("workflow: trigger %q filename regex: %w", t.Name, err)
		}
	}

	for _, a := range t.Actions {
		if a.Type == ActionSetTitle {
			if err := Validate(a.Title, t.Stage); err != nil {
				return fmt.Errorf("workflow: trigger %q title template: %w", t.Name, err)
			}
		}
	}

	e.triggers = append(e.triggers, t)
	return nil
}

// Evaluate returns the actions of every trigger matching doc at the given
// stage, in trigger-addition order. Triggers of other tenants are never
// considered.
func (e *Engine) Evaluate(ctx context.Context, doc *Document, stage Stage) []Action {
	var actions []Action
	for _, t := range e.triggers {
		if t.Stage != stage || t.TenantID != doc.TenantID {
			continue
		}
		if e.matches(ctx, t, doc) {
			actions = append(actions, t.Actions...)
		}
	}
	return actions
}
