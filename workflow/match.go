package workflow

import (
	"context"
	"regexp"
	"time"
)

func (e *Engine) matches(ctx context.Context, t *Trigger, doc *Document) bool {
	f := &t.Filters

	if len(f.TagIDs) > 0 && !matchTags(f.TagIDs, f.TagMatch, doc.TagIDs) {
		return false
	}
	if f.CorrespondentID != 0 && f.CorrespondentID != doc.CorrespondentID {
		return false
	}
	if f.DocumentTypeID != 0 && f.DocumentTypeID != doc.DocumentTypeID {
		return false
	}
	for name, want := range f.CustomFields {
		got, ok := doc.CustomFields[name]
		if !ok {
			return false
		}
		if want != "" && got != want {
			return false
		}
	}
	if f.ContentRegex != "" && !e.boundedMatch(ctx, t, t.contentRe, doc.Content, "content") {
		return false
	}
	if f.FilenameRegex != "" && !e.boundedMatch(ctx, t, t.filenameRe, doc.OriginalFilename, "filename") {
		return false
	}
	return true
}

func matchTags(want []int64, mode TagMatch, have []int64) bool {
	set := make(map[int64]bool, len(have))
	for _, id := range have {
		set[id] = true
	}
	switch mode {
	case MatchAny:
		for _, id := range want {
			if set[id] {
				return true
			}
		}
		return false
	default: // MatchAll
		for _, id := range want {
			if !set[id] {
				return false
			}
		}
		return true
	}
}

// boundedMatch runs one regex match under the configured timeout. A nil
// compiled pattern (possible only when a trigger bypassed Add) and a
// timed-out match both count as non-matching: the filter degrades, the
// pipeline continues.
func (e *Engine) boundedMatch(ctx context.Context, t *Trigger, re *regexp.Regexp, input, what string) bool {
	if re == nil {
		e.cfg.Logger.Warn("workflow: regex filter not compiled, treating as non-match",
			"trigger", t.Name, "filter", what)
		return false
	}

	done := make(chan bool, 1)
	go func() { done <- re.MatchString(input) }()

	timer := time.NewTimer(e.cfg.RegexTimeout)
	defer timer.Stop()

	select {
	case m := <-done:
		return m
	case <-timer.C:
		e.cfg.Logger.Warn("workflow: regex match timed out, treating as non-match",
			"trigger", t.Name, "filter", what, "timeout", e.cfg.RegexTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}
