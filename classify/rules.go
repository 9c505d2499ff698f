package classify

import (
	"context"
	"strings"
	"sync"
)

// Rule assigns entities when any of its keywords appears in the document
// text. Matching is case-insensitive substring search.
type Rule struct {
	Keywords        []string `yaml:"keywords" json:"keywords"`
	TagIDs          []int64  `yaml:"tag_ids,omitempty" json:"tag_ids,omitempty"`
	CorrespondentID int64    `yaml:"correspondent_id,omitempty" json:"correspondent_id,omitempty"`
	DocumentTypeID  int64    `yaml:"document_type_id,omitempty" json:"document_type_id,omitempty"`
	StoragePathID   int64    `yaml:"storage_path_id,omitempty" json:"storage_path_id,omitempty"`
}

// RuleClassifier is a deterministic keyword classifier. It stands in where
// no trained model is configured and doubles as the reference
// implementation for tests. Safe for concurrent use.
type RuleClassifier struct {
	mu      sync.RWMutex
	rules   []Rule
	version string
}

// NewRuleClassifier builds a classifier from a fixed rule set. The version
// string must change when the rules change, or stale cached suggestions
// will be served.
func NewRuleClassifier(version string, rules []Rule) *RuleClassifier {
	return &RuleClassifier{rules: rules, version: version}
}

// Version implements Classifier.
func (c *RuleClassifier) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Classify implements Classifier. Later rules win on conflicting scalar
// suggestions; tag suggestions accumulate.
func (c *RuleClassifier) Classify(ctx context.Context, text string) (*Suggestions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	lower := strings.ToLower(text)
	s := &Suggestions{}
	seen := make(map[int64]bool)

	for _, r := range c.rules {
		if !r.matches(lower) {
			continue
		}
		for _, id := range r.TagIDs {
			if !seen[id] {
				seen[id] = true
				s.TagIDs = append(s.TagIDs, id)
			}
		}
		if r.CorrespondentID != 0 {
			s.CorrespondentID = r.CorrespondentID
		}
		if r.DocumentTypeID != 0 {
			s.DocumentTypeID = r.DocumentTypeID
		}
		if r.StoragePathID != 0 {
			s.StoragePathID = r.StoragePathID
		}
	}
	return s, nil
}

func (r *Rule) matches(lowerText string) bool {
	for _, kw := range r.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
