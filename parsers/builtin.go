package parsers

import "log/slog"

// Options configures the built-in parser set.
type Options struct {
	// OCRLanguage is passed to backends that perform OCR.
	OCRLanguage string

	// Remote enables the remote OCR backend. When set it outranks the
	// local PDF backend, so scanned PDFs and images route to the service.
	Remote *RemoteOptions

	// Logger for parser diagnostics.
	Logger *slog.Logger
}

// Builtin returns a registry populated with the built-in backends. The
// caller owns the registry and may register further declarations before
// handing it to the pipeline; registration is explicit, nothing registers
// itself at import time.
func Builtin(opts Options) (*Registry, error) {
	r := NewRegistry()

	decls := []*Declaration{
		{
			Name:   "plain",
			Weight: 0,
			MimeTypes: map[string]string{
				"text/plain":    ".txt",
				"text/markdown": ".md",
				"text/csv":      ".csv",
			},
			New: func(cfg Config) Parser {
				cfg.Logger = opts.Logger
				return newPlain(cfg)
			},
		},
		{
			Name:   "html",
			Weight: 0,
			MimeTypes: map[string]string{
				"text/html": ".html",
			},
			New: func(cfg Config) Parser {
				cfg.Logger = opts.Logger
				return newHTML(cfg)
			},
		},
		{
			Name:   "pdf",
			Weight: 10,
			MimeTypes: map[string]string{
				"application/pdf": ".pdf",
			},
			New: func(cfg Config) Parser {
				cfg.Logger = opts.Logger
				return newPDF(cfg)
			},
		},
	}

	if opts.Remote != nil {
		remote := *opts.Remote
		remote.Language = opts.OCRLanguage
		decls = append(decls, &Declaration{
			Name:   "remote-ocr",
			Weight: 20,
			MimeTypes: map[string]string{
				"application/pdf": ".pdf",
				"image/png":       ".png",
				"image/jpeg":      ".jpg",
				"image/tiff":      ".tif",
				"image/webp":      ".webp",
			},
			New: func(cfg Config) Parser {
				cfg.Logger = opts.Logger
				cfg.OCRLanguage = opts.OCRLanguage
				return newRemote(cfg, remote)
			},
		})
	}

	for _, d := range decls {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
