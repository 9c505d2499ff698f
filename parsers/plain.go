package parsers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// plainParser handles text/plain, text/markdown and text/csv. Content is
// passed through with whitespace normalization; the first non-empty line
// becomes the title.
type plainParser struct {
	cfg Config
}

func newPlain(cfg Config) Parser {
	cfg.defaults()
	return &plainParser{cfg: cfg}
}

func (p *plainParser) Parse(ctx context.Context, path, mimeType string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	text := normalizeText(string(data))
	if text == "" {
		// An empty text file carries nothing worth importing.
		return nil, ErrSkip
	}

	thumb, err := p.Thumbnail(ctx, path, mimeType)
	if err != nil {
		return nil, err
	}

	return &Extraction{
		Title:         firstLine(text),
		Text:          text,
		ThumbnailPath: thumb,
		PageCount:     1,
	}, nil
}

// Thumbnail writes a short excerpt of the file as the preview artifact.
func (p *plainParser) Thumbnail(ctx context.Context, path, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	excerpt := []rune(normalizeText(string(data)))
	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}

	out := filepath.Join(p.cfg.WorkDir, "thumbnail.txt")
	if err := os.WriteFile(out, []byte(string(excerpt)), 0o644); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return out, nil
}

func (p *plainParser) Cleanup() {}

// normalizeText normalizes line endings, strips trailing spaces, and
// collapses runs of blank lines. Unlike a flat whitespace collapse it
// preserves line structure so titles and paragraphs survive.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 128 {
			line = string(r[:128])
		}
		return line
	}
	return ""
}
