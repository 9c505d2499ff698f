package parsers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniff derives the MIME type of a file from its content. It is called
// once, when a consumable document is constructed; the result is immutable
// for the rest of the pipeline run.
//
// Content sniffing cannot tell markdown or CSV from plain text, so the
// file extension refines those two cases.
func Sniff(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("parsers: sniff %s: %w", path, err)
	}

	m := mt.String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}

	if m == "text/plain" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown":
			return "text/markdown", nil
		case ".csv":
			return "text/csv", nil
		}
	}
	return m, nil
}
