package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TemplateContext carries the resolved field values a title template may
// reference. There is no attribute or method access: substitution works
// off this fixed allow-list by construction.
type TemplateContext struct {
	Correspondent    string
	DocumentType     string
	OwnerUsername    string
	OriginalFilename string
	Added            time.Time
	Created          time.Time
}

// TemplateError reports an unusable token in a title template. It is
// raised at configuration time, never during consumption.
type TemplateError struct {
	Token  string
	Reason string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("workflow: template token {%s}: %s", e.Token, e.Reason)
}

var tokenRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// templateTokens is the full allow-list of placeholder names.
var templateTokens = map[string]bool{
	"correspondent":     true,
	"document_type":     true,
	"owner_username":    true,
	"original_filename": true,
	"added":             true,
	"added_year":        true,
	"added_month":       true,
	"added_day":         true,
	"created":           true,
	"created_year":      true,
	"created_month":     true,
	"created_day":       true,
}

// Validate checks every {token} in tmpl against the allow-list. The
// created_* tokens are available only after the created date has been
// resolved, so a PRE-stage template may not use them.
func Validate(tmpl string, stage Stage) error {
	for _, m := range tokenRe.FindAllStringSubmatch(tmpl, -1) {
		token := m[1]
		if !templateTokens[token] {
			return &TemplateError{Token: token, Reason: "unknown token"}
		}
		if stage == StagePre && strings.HasPrefix(token, "created") {
			return &TemplateError{Token: token, Reason: "not available before the created date is resolved"}
		}
	}
	return nil
}

// Render substitutes every token in tmpl from tc. Templates reaching
// Render have passed Validate, so unknown tokens cannot occur; zero time
// values render as empty strings.
func Render(tmpl string, tc TemplateContext) string {
	return tokenRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		token := m[1 : len(m)-1]
		switch token {
		case "correspondent":
			return tc.Correspondent
		case "document_type":
			return tc.DocumentType
		case "owner_username":
			return tc.OwnerUsername
		case "original_filename":
			return tc.OriginalFilename
		case "added":
			return dateToken(tc.Added, "2006-01-02")
		case "added_year":
			return dateToken(tc.Added, "2006")
		case "added_month":
			return dateToken(tc.Added, "01")
		case "added_day":
			return dateToken(tc.Added, "02")
		case "created":
			return dateToken(tc.Created, "2006-01-02")
		case "created_year":
			return dateToken(tc.Created, "2006")
		case "created_month":
			return dateToken(tc.Created, "01")
		case "created_day":
			return dateToken(tc.Created, "02")
		}
		return m
	})
}

func dateToken(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}
