package parsers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// RemoteOptions configures the remote OCR backend. The endpoint receives a
// multipart POST with the file and the OCR language and answers JSON:
//
//	{"text": "...", "pages": 3}
type RemoteOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration // per-request bound. Default: 2m.
	Language string
}

func (o *RemoteOptions) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
}

// remoteParser delegates text extraction to an external OCR service.
// The request is bound to the caller's context, so a pipeline timeout or
// shutdown cancels the in-flight call.
type remoteParser struct {
	cfg    Config
	opts   RemoteOptions
	client *http.Client
}

func newRemote(cfg Config, opts RemoteOptions) Parser {
	cfg.defaults()
	opts.defaults()
	return &remoteParser{
		cfg:    cfg,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

type remoteResult struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

func (p *remoteParser) Parse(ctx context.Context, path, mimeType string) (*Extraction, error) {
	res, err := p.ocr(ctx, path, mimeType)
	if err != nil {
		return nil, err
	}

	text := normalizeText(res.Text)
	if text == "" {
		return nil, ErrSkip
	}

	thumb, err := p.Thumbnail(ctx, path, mimeType)
	if err != nil {
		return nil, err
	}

	pages := res.Pages
	if pages <= 0 {
		pages = 1
	}

	return &Extraction{
		Title:         firstLine(text),
		Text:          text,
		ThumbnailPath: thumb,
		PageCount:     pages,
	}, nil
}

// Thumbnail copies the original into the work dir; for the image types
// this backend serves, the source file is its own preview.
func (p *remoteParser) Thumbnail(ctx context.Context, path, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := filepath.Join(p.cfg.WorkDir, "thumbnail"+filepath.Ext(path))
	if err := copyFile(path, out); err != nil {
		return "", fmt.Errorf("copy thumbnail: %w", err)
	}
	return out, nil
}

func (p *remoteParser) Cleanup() {
	p.client.CloseIdleConnections()
}

func (p *remoteParser) ocr(ctx context.Context, path, mimeType string) (*remoteResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	lang := p.opts.Language
	if lang == "" {
		lang = p.cfg.OCRLanguage
	}
	if lang != "" {
		mw.WriteField("language", lang)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote ocr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote ocr: status %d: %s", resp.StatusCode, b)
	}

	var res remoteResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("remote ocr: decode response: %w", err)
	}
	return &res, nil
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
