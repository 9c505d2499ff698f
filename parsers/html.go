package parsers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlParser converts HTML to normalized markdown text. Input is sanitized
// before conversion so script/style payloads never reach the stored
// content.
type htmlParser struct {
	cfg    Config
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newHTML(cfg Config) Parser {
	cfg.defaults()
	return &htmlParser{
		cfg:    cfg,
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (p *htmlParser) Parse(ctx context.Context, path, mimeType string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	title := htmlTitle(data)

	clean := p.policy.SanitizeBytes(data)
	md, err := p.conv.ConvertString(string(clean))
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}

	text := normalizeText(md)
	if text == "" {
		return nil, ErrSkip
	}
	if title == "" {
		title = firstLine(text)
	}

	thumb, err := p.writeExcerpt(text)
	if err != nil {
		return nil, err
	}

	return &Extraction{
		Title:         title,
		Text:          text,
		ThumbnailPath: thumb,
		PageCount:     1,
	}, nil
}

func (p *htmlParser) Thumbnail(ctx context.Context, path, mimeType string) (string, error) {
	ex, err := p.Parse(ctx, path, mimeType)
	if err != nil {
		return "", err
	}
	return ex.ThumbnailPath, nil
}

func (p *htmlParser) Cleanup() {}

func (p *htmlParser) writeExcerpt(text string) (string, error) {
	excerpt := []rune(text)
	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}
	out := filepath.Join(p.cfg.WorkDir, "thumbnail.txt")
	if err := os.WriteFile(out, []byte(string(excerpt)), 0o644); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return out, nil
}

// htmlTitle extracts the <title> text, if the document parses at all.
func htmlTitle(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
