package parsers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pdfParser extracts text from PDF content streams via pdfcpu, produces a
// normalized archive rendition (optimized PDF) and a first-page thumbnail.
// A scanned PDF with no text layer is not an error: the extraction comes
// back with empty text and quality metrics that report NeedsOCR.
type pdfParser struct {
	cfg  Config
	conf *model.Configuration
}

func newPDF(cfg Config) Parser {
	cfg.defaults()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &pdfParser{cfg: cfg, conf: conf}
}

func (p *pdfParser) Parse(ctx context.Context, path, mimeType string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title, text, quality, err := p.extract(path)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Archive rendition: optimized copy, object streams rebuilt and
	// unused objects dropped.
	archive := filepath.Join(p.cfg.WorkDir, "archive.pdf")
	if err := api.OptimizeFile(path, archive, p.conf); err != nil {
		return nil, fmt.Errorf("optimize %s: %w", path, err)
	}

	thumb, err := p.Thumbnail(ctx, path, mimeType)
	if err != nil {
		return nil, err
	}

	return &Extraction{
		Title:         title,
		Text:          text,
		ArchivePath:   archive,
		ThumbnailPath: thumb,
		PageCount:     quality.PageCount,
		Quality:       quality,
	}, nil
}

// Thumbnail trims the document down to its first page.
func (p *pdfParser) Thumbnail(ctx context.Context, path, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := filepath.Join(p.cfg.WorkDir, "thumbnail.pdf")
	if err := api.TrimFile(path, out, []string{"1"}, p.conf); err != nil {
		return "", fmt.Errorf("trim first page of %s: %w", path, err)
	}
	return out, nil
}

func (p *pdfParser) Cleanup() {}

func (p *pdfParser) extract(path string) (string, string, *Quality, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", nil, err
	}
	defer f.Close()

	pctx, err := api.ReadValidateAndOptimize(f, p.conf)
	if err != nil {
		return "", "", nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	var sb strings.Builder
	totalChars := 0
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		pageText := pageText(pctx, pageNr)
		if pageText == "" {
			continue
		}
		totalChars += len([]rune(pageText))
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}

	text := sb.String()
	var charsPerPage float64
	if pctx.PageCount > 0 {
		charsPerPage = float64(totalChars) / float64(pctx.PageCount)
	}
	quality := &Quality{
		PageCount:      pctx.PageCount,
		CharsPerPage:   charsPerPage,
		PrintableRatio: printableRatio(text),
		WordlikeRatio:  wordlikeRatio(text),
		HasImages:      hasImageStreams(pctx),
	}

	return firstLine(text), text, quality, nil
}

// pageText extracts the text shown by one page's content stream.
func pageText(pctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return scanContentStream(data)
}

// hasImageStreams checks whether the PDF contains image XObjects.
func hasImageStreams(pctx *model.Context) bool {
	if pctx.Optimize != nil {
		for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(pctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range pctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// pdfLiteralRe matches PDF string literals in parentheses.
var pdfLiteralRe = regexp.MustCompile(`\(([^)]*)\)`)

// scanContentStream walks the text-showing operators (Tj, TJ, ') of a
// content stream and joins their string literals.
func scanContentStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfLiteralRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodeLiteral(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfLiteralRe.FindAllSubmatch(line, -1) {
				if t := decodeLiteral(m[1]); t != "" {
					sb.WriteByte('\n')
					sb.WriteString(t)
				}
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return tidyPDFText(sb.String())
}

// decodeLiteral resolves PDF string escapes, including octal sequences.
func decodeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// tidyPDFText collapses whitespace runs and drops unprintable runes.
func tidyPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
