// Package consume runs the document consumption pipeline: admit a file,
// deduplicate it, pick a parser, fire workflow triggers, classify, and
// commit the document with its artifacts in one atomic step.
//
// A Pipeline is safe for concurrent use; consumption of the same source
// path is serialized. Errors split into permanent ones (unsupported
// type, duplicate, cross-tenant reference) that must not be retried, and
// transient ones that leave the source file in place for a retry.
package consume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docmill/docmill/classify"
	"github.com/docmill/docmill/fpcache"
	"github.com/docmill/docmill/idgen"
	"github.com/docmill/docmill/parsers"
	"github.com/docmill/docmill/store"
	"github.com/docmill/docmill/tenant"
	"github.com/docmill/docmill/workflow"
)

// Config tunes a Pipeline.
type Config struct {
	// ParserTimeout bounds one extraction run. Default: 5m.
	ParserTimeout time.Duration

	// WorkRoot is where per-run scratch directories are created.
	// Default: the system temp directory.
	WorkRoot string

	// OCRLanguage is passed to parsers that perform OCR.
	OCRLanguage string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ParserTimeout <= 0 {
		c.ParserTimeout = 5 * time.Minute
	}
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Consumed    int64
	Skipped     int64
	Duplicates  int64
	Failed      int64
	CacheHits   int64
	CacheMisses int64
}

// Pipeline wires the collaborators of the consumption flow. Classifier
// and Cache may be nil, in which case documents commit without
// suggestions.
type Pipeline struct {
	registry   *parsers.Registry
	engine     *workflow.Engine
	classifier classify.Classifier
	cache      *fpcache.Cache
	store      *store.Store
	cfg        Config
	log        *slog.Logger
	locks      *pathLocks
	newID      idgen.Generator

	consumed    atomic.Int64
	skipped     atomic.Int64
	duplicates  atomic.Int64
	failed      atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New builds a Pipeline. registry and st are required; engine,
// classifier and cache are optional.
func New(registry *parsers.Registry, engine *workflow.Engine, classifier classify.Classifier, cache *fpcache.Cache, st *store.Store, cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		registry:   registry,
		engine:     engine,
		classifier: classifier,
		cache:      cache,
		store:      st,
		cfg:        cfg,
		log:        cfg.Logger,
		locks:      newPathLocks(),
		newID:      idgen.Prefixed("doc_", idgen.Default),
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Consumed:    p.consumed.Load(),
		Skipped:     p.skipped.Load(),
		Duplicates:  p.duplicates.Load(),
		Failed:      p.failed.Load(),
		CacheHits:   p.cacheHits.Load(),
		CacheMisses: p.cacheMisses.Load(),
	}
}

// Consume runs the full pipeline on one document and returns the stored
// document id. On ErrSkipImport the source file has been removed and no
// document exists. On any other error the source file is untouched.
func (p *Pipeline) Consume(ctx context.Context, doc *Document, ov *Overrides) (string, error) {
	release := p.locks.acquire(doc.Path)
	defer release()

	id, err := p.consume(ctx, doc, ov)
	switch {
	case err == nil:
		p.consumed.Add(1)
	case errors.Is(err, ErrSkipImport):
		p.skipped.Add(1)
	case errors.Is(err, ErrDuplicate):
		p.duplicates.Add(1)
	default:
		p.failed.Add(1)
	}
	return id, err
}

func (p *Pipeline) consume(ctx context.Context, doc *Document, ov *Overrides) (string, error) {
	log := p.log.With("tenant", doc.TenantID, "file", doc.OriginalFilename, "source", doc.Source)
	state := StateReceived
	advance := func(next State) {
		if !state.CanTransition(next) {
			// Transition table bug; loud but non-fatal.
			log.Error("illegal state transition", "from", state, "to", next)
		}
		state = next
		log.Debug("state", "state", state)
	}

	if !doc.TenantID.Valid() {
		return "", errNoTenant
	}
	if err := p.checkOverrides(ctx, doc.TenantID, ov); err != nil {
		return "", err
	}

	if id, ok, err := p.store.DocumentByChecksum(ctx, doc.TenantID, doc.Checksum); err != nil {
		return "", err
	} else if ok {
		return "", &DuplicateError{ExistingID: id, Checksum: doc.Checksum}
	}
	advance(StateDeduped)

	decl, err := p.registry.Select(doc.MimeType)
	if err != nil {
		return "", err
	}
	advance(StateSelected)

	st := newDocState()
	st.applyOverrides(ov)
	p.runTriggers(ctx, doc, st, workflow.StagePre, ownerName(ov), "", nil)

	workDir, err := os.MkdirTemp(p.cfg.WorkRoot, "consume-*")
	if err != nil {
		return "", fmt.Errorf("consume: workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	parser := decl.New(parsers.Config{
		WorkDir:     workDir,
		OCRLanguage: p.cfg.OCRLanguage,
		Logger:      log.With("parser", decl.Name),
	})
	defer parser.Cleanup()

	parseCtx, cancel := context.WithTimeout(ctx, p.cfg.ParserTimeout)
	extraction, err := parser.Parse(parseCtx, doc.Path, doc.MimeType)
	cancel()
	if err != nil {
		if errors.Is(err, parsers.ErrSkip) {
			advance(StateSkipped)
			if rmErr := os.Remove(doc.Path); rmErr != nil {
				log.Warn("could not remove skipped file", "error", rmErr)
			}
			log.Info("file skipped on parser decision")
			return "", fmt.Errorf("%s: %w", doc.OriginalFilename, ErrSkipImport)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("consume: %s: %w", doc.OriginalFilename, ctxErr)
		}
		return "", &ExtractionError{Parser: decl.Name, Path: doc.Path, Err: err}
	}
	advance(StateExtracted)

	if st.title == "" && !st.pinnedTitle {
		st.title = titleFromFilename(doc.OriginalFilename)
	}
	if st.title == "" && !st.pinnedTitle {
		st.title = extraction.Title
	}

	sug := p.suggest(ctx, doc.TenantID, doc.Checksum, extraction.Text)
	if sug != nil {
		st.applySuggestions(sug.TagIDs, sug.CorrespondentID, sug.DocumentTypeID, sug.StoragePathID)
	}
	advance(StateClassified)

	p.runTriggers(ctx, doc, st, workflow.StagePost, ownerName(ov), extraction.Text, extractionCreated(ov, extraction))

	id, err := p.commit(ctx, doc, ov, st, extraction)
	if err != nil {
		return "", err
	}
	advance(StateCommitted)

	if err := os.Remove(doc.Path); err != nil {
		log.Warn("document stored but source not removed", "error", err)
	}
	log.Info("document consumed", "id", id, "title", st.title, "pages", extraction.PageCount)
	return id, nil
}

// checkOverrides rejects any override that references an entity owned by
// a different tenant, before any work happens.
func (p *Pipeline) checkOverrides(ctx context.Context, tid tenant.ID, ov *Overrides) error {
	if ov == nil {
		return nil
	}
	check := func(kind store.EntityKind, id int64) error {
		owner, err := p.store.EntityTenant(ctx, kind, id)
		if err != nil {
			return err
		}
		if owner != tid {
			return &tenant.CrossTenantError{Kind: string(kind), Ref: id, Owner: owner, Want: tid}
		}
		return nil
	}
	if ov.CorrespondentID != nil {
		if err := check(store.KindCorrespondent, *ov.CorrespondentID); err != nil {
			return err
		}
	}
	if ov.DocumentTypeID != nil {
		if err := check(store.KindDocumentType, *ov.DocumentTypeID); err != nil {
			return err
		}
	}
	if ov.StoragePathID != nil {
		if err := check(store.KindStoragePath, *ov.StoragePathID); err != nil {
			return err
		}
	}
	for _, tagID := range ov.TagIDs {
		if err := check(store.KindTag, tagID); err != nil {
			return err
		}
	}
	for fieldID := range ov.CustomFields {
		if err := check(store.KindCustomField, fieldID); err != nil {
			return err
		}
	}
	return nil
}

// runTriggers evaluates one stage and folds the fired actions into st.
// At the pre stage the trigger sees admission metadata and the tags the
// caller declared in overrides; content, title and resolved entities
// stay hidden until post.
func (p *Pipeline) runTriggers(ctx context.Context, doc *Document, st *docState, stage workflow.Stage, owner, content string, created *time.Time) {
	if p.engine == nil {
		return
	}
	view := &workflow.Document{
		TenantID:         doc.TenantID,
		OriginalFilename: doc.OriginalFilename,
		MimeType:         doc.MimeType,
		Source:           string(doc.Source),
		TagIDs:           append([]int64(nil), st.tagOrder...),
	}
	tc := workflow.TemplateContext{
		OriginalFilename: doc.OriginalFilename,
		OwnerUsername:    owner,
		Added:            doc.Received,
	}
	if stage == workflow.StagePost {
		view.Title = st.title
		view.Content = content
		view.CorrespondentID = st.correspondentID
		view.DocumentTypeID = st.documentTypeID
		view.CustomFields = p.fieldNames(ctx, doc.TenantID, st.customFields)
		if created != nil {
			tc.Created = *created
		}
		tc.Correspondent = p.entityName(ctx, store.KindCorrespondent, doc.TenantID, st.correspondentID)
		tc.DocumentType = p.entityName(ctx, store.KindDocumentType, doc.TenantID, st.documentTypeID)
	}
	for _, action := range p.engine.Evaluate(ctx, view, stage) {
		st.applyAction(action, tc)
	}
}

func (p *Pipeline) entityName(ctx context.Context, kind store.EntityKind, tid tenant.ID, id int64) string {
	if id == 0 {
		return ""
	}
	name, err := p.store.EntityName(ctx, kind, tid, id)
	if err != nil {
		p.log.Warn("entity name lookup failed", "kind", kind, "id", id, "error", err)
		return ""
	}
	return name
}

func (p *Pipeline) fieldNames(ctx context.Context, tid tenant.ID, fields map[int64]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for id, v := range fields {
		name, err := p.store.EntityName(ctx, store.KindCustomField, tid, id)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}

// suggest returns cached or fresh classifier suggestions. Classification
// is advisory: a classifier error logs a warning and yields nil rather
// than failing the document.
func (p *Pipeline) suggest(ctx context.Context, tid tenant.ID, checksum, text string) *classify.Suggestions {
	if p.classifier == nil {
		return nil
	}
	key := tenant.Key(tid, "fp", classify.Fingerprint(checksum, p.classifier.Version()))
	if p.cache != nil {
		if raw, ok := p.cache.Get(key); ok {
			var sug classify.Suggestions
			if err := json.Unmarshal(raw, &sug); err == nil {
				p.cacheHits.Add(1)
				return &sug
			}
		}
		p.cacheMisses.Add(1)
	}
	sug, err := p.classifier.Classify(ctx, text)
	if err != nil {
		p.log.Warn("classification failed, continuing without suggestions", "tenant", tid, "error", err)
		return nil
	}
	if p.cache != nil && sug != nil {
		if raw, err := json.Marshal(sug); err == nil {
			p.cache.Set(key, raw)
		}
	}
	return sug
}

// commit moves the artifacts into the media directory and persists the
// row. On any failure the media directory for the new document is
// removed again so no partial document remains.
func (p *Pipeline) commit(ctx context.Context, doc *Document, ov *Overrides, st *docState, ex *parsers.Extraction) (string, error) {
	id := p.newID()
	dir := p.store.DocumentDir(doc.TenantID, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &CommitError{DocumentID: id, Err: err}
	}
	rollback := func() { os.RemoveAll(dir) }

	origDst := filepath.Join(dir, "original"+p.registry.DefaultExtension(doc.MimeType))
	if err := copyFile(doc.Path, origDst); err != nil {
		rollback()
		return "", &CommitError{DocumentID: id, Err: err}
	}
	archiveDst, err := claimArtifact(ex.ArchivePath, dir, "archive")
	if err != nil {
		rollback()
		return "", &CommitError{DocumentID: id, Err: err}
	}
	thumbDst, err := claimArtifact(ex.ThumbnailPath, dir, "thumbnail")
	if err != nil {
		rollback()
		return "", &CommitError{DocumentID: id, Err: err}
	}

	rec := &store.Document{
		ID:               id,
		TenantID:         doc.TenantID,
		Title:            st.title,
		Content:          ex.Text,
		MimeType:         doc.MimeType,
		Checksum:         doc.Checksum,
		OriginalFilename: doc.OriginalFilename,
		OriginalPath:     origDst,
		ArchivePath:      archiveDst,
		ThumbnailPath:    thumbDst,
		CorrespondentID:  optID(st.correspondentID),
		DocumentTypeID:   optID(st.documentTypeID),
		StoragePathID:    optID(st.storagePathID),
		PageCount:        ex.PageCount,
		NeedsOCR:         ex.Quality != nil && ex.Quality.NeedsOCR(),
		Source:           string(doc.Source),
		CreatedAt:        extractionCreated(ov, ex),
		AddedAt:          doc.Received,
	}
	if ov != nil {
		rec.ASN = ov.ASN
		rec.OwnerID = ov.OwnerID
	}
	if err := p.store.CommitDocument(ctx, rec, st.tagOrder, st.customFields); err != nil {
		rollback()
		if errors.Is(err, store.ErrConflict) {
			return "", err
		}
		return "", &CommitError{DocumentID: id, Err: err}
	}
	return id, nil
}

// Reprocess re-extracts an already stored document from its original
// file and refreshes content, renditions and the search index. Used
// after an OCR backend becomes available.
func (p *Pipeline) Reprocess(ctx context.Context, docID string) error {
	rec, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	decl, err := p.registry.Select(rec.MimeType)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(p.cfg.WorkRoot, "reprocess-*")
	if err != nil {
		return fmt.Errorf("consume: workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	parser := decl.New(parsers.Config{
		WorkDir:     workDir,
		OCRLanguage: p.cfg.OCRLanguage,
		Logger:      p.log.With("parser", decl.Name, "document", docID),
	})
	defer parser.Cleanup()

	parseCtx, cancel := context.WithTimeout(ctx, p.cfg.ParserTimeout)
	ex, err := parser.Parse(parseCtx, rec.OriginalPath, rec.MimeType)
	cancel()
	if err != nil {
		if errors.Is(err, parsers.ErrSkip) {
			return fmt.Errorf("%s: %w", rec.OriginalFilename, ErrSkipImport)
		}
		return &ExtractionError{Parser: decl.Name, Path: rec.OriginalPath, Err: err}
	}

	// New renditions stage under temp names; the old artifacts are
	// replaced only after the row update commits, so a failed update
	// leaves the stored document and its files consistent.
	dir := p.store.DocumentDir(rec.TenantID, rec.ID)
	archiveTmp, err := claimArtifact(ex.ArchivePath, dir, "archive.new")
	if err != nil {
		return &CommitError{DocumentID: rec.ID, Err: err}
	}
	thumbTmp, err := claimArtifact(ex.ThumbnailPath, dir, "thumbnail.new")
	if err != nil {
		removeStaged(archiveTmp)
		return &CommitError{DocumentID: rec.ID, Err: err}
	}

	archiveDst := rec.ArchivePath
	if archiveTmp != "" {
		archiveDst = filepath.Join(dir, "archive"+filepath.Ext(ex.ArchivePath))
	}
	thumbDst := rec.ThumbnailPath
	if thumbTmp != "" {
		thumbDst = filepath.Join(dir, "thumbnail"+filepath.Ext(ex.ThumbnailPath))
	}

	needsOCR := ex.Quality != nil && ex.Quality.NeedsOCR()
	if err := p.store.UpdateExtraction(ctx, rec.ID, ex.Text, archiveDst, thumbDst, ex.PageCount, needsOCR); err != nil {
		removeStaged(archiveTmp)
		removeStaged(thumbTmp)
		return err
	}
	p.swapStaged(archiveTmp, archiveDst)
	p.swapStaged(thumbTmp, thumbDst)
	// Refresh suggestions for the new content; the fingerprint is over
	// the original file so an unchanged classifier hits the cache.
	p.suggest(ctx, rec.TenantID, rec.Checksum, ex.Text)
	return nil
}

// RebuildSuggestionIndex re-runs the classifier over every stored
// document, warming the suggestion cache, then snapshots the cache to
// its backend. Returns the number of documents processed.
func (p *Pipeline) RebuildSuggestionIndex(ctx context.Context) (int, error) {
	if p.classifier == nil {
		return 0, errors.New("consume: no classifier configured")
	}
	ids, err := p.store.AllDocumentIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := p.store.GetDocument(ctx, id)
		if err != nil {
			return n, err
		}
		p.suggest(ctx, rec.TenantID, rec.Checksum, rec.Content)
		n++
	}
	if p.cache != nil {
		if err := p.cache.Save(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

func ownerName(ov *Overrides) string {
	if ov == nil {
		return ""
	}
	return ov.OwnerUsername
}

func extractionCreated(ov *Overrides, ex *parsers.Extraction) *time.Time {
	if ov != nil && ov.Created != nil {
		return ov.Created
	}
	return ex.Created
}

func titleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

// claimArtifact moves a parser-produced artifact from the scratch dir
// into the document dir, keeping the source extension. Empty src means
// the parser produced no such artifact.
func claimArtifact(src, dir, name string) (string, error) {
	if src == "" {
		return "", nil
	}
	dst := filepath.Join(dir, name+filepath.Ext(src))
	if err := os.Rename(src, dst); err != nil {
		// Scratch and media may sit on different filesystems.
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
		os.Remove(src)
	}
	return dst, nil
}

func removeStaged(tmp string) {
	if tmp != "" {
		os.Remove(tmp)
	}
}

// swapStaged moves a staged rendition over its final name. The row
// already committed, so a rename failure only logs; Sanity reports the
// stray file.
func (p *Pipeline) swapStaged(tmp, final string) {
	if tmp == "" {
		return
	}
	if err := os.Rename(tmp, final); err != nil {
		p.log.Warn("staged rendition not swapped in", "from", tmp, "to", final, "error", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
