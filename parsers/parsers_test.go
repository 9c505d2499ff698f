package parsers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type nopParser struct{}

func (nopParser) Parse(ctx context.Context, path, mimeType string) (*Extraction, error) {
	return &Extraction{Text: "x"}, nil
}
func (nopParser) Thumbnail(ctx context.Context, path, mimeType string) (string, error) {
	return "", nil
}
func (nopParser) Cleanup() {}

func decl(name string, weight int, mimes ...string) *Declaration {
	mt := make(map[string]string, len(mimes))
	for _, m := range mimes {
		mt[m] = ".bin"
	}
	return &Declaration{
		Name:      name,
		Weight:    weight,
		MimeTypes: mt,
		New:       func(Config) Parser { return nopParser{} },
	}
}

func TestSelectHighestWeight(t *testing.T) {
	r := NewRegistry()
	for _, d := range []*Declaration{
		decl("low", 0, "application/pdf"),
		decl("high", 10, "application/pdf"),
		decl("mid", 5, "application/pdf"),
	} {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Select("application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "high" {
		t.Fatalf("Select = %q, want high", got.Name)
	}
}

func TestSelectTieBreaksByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(decl("first", 5, "text/plain"))
	r.Register(decl("second", 5, "text/plain"))

	got, err := r.Select("text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "first" {
		t.Fatalf("Select = %q, want first (registration order)", got.Name)
	}
}

func TestSelectUnsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(decl("pdf", 1, "application/pdf"))

	_, err := r.Select("application/x-unknown")
	var ume *UnsupportedMimeError
	if !errors.As(err, &ume) {
		t.Fatalf("error = %v, want UnsupportedMimeError", err)
	}
	if ume.MimeType != "application/x-unknown" {
		t.Errorf("MimeType = %q", ume.MimeType)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Declaration{Name: "x", New: func(Config) Parser { return nopParser{} }}); err == nil {
		t.Error("expected error for declaration without mime types")
	}
	if err := r.Register(&Declaration{Name: "x", MimeTypes: map[string]string{"a/b": ""}}); err == nil {
		t.Error("expected error for declaration without factory")
	}
}

func TestSupported(t *testing.T) {
	r := NewRegistry()
	r.Register(decl("a", 0, "text/plain", "text/html"))
	r.Register(decl("b", 0, "text/plain", "application/pdf"))

	got := r.Supported()
	want := []string{"application/pdf", "text/html", "text/plain"}
	if len(got) != len(want) {
		t.Fatalf("Supported = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Supported = %v, want %v", got, want)
		}
	}
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"note.txt", "just some text\n", "text/plain"},
		{"readme.md", "# Heading\n\nbody\n", "text/markdown"},
		{"page.html", "<!DOCTYPE html><html><head><title>t</title></head><body>hi</body></html>", "text/html"},
		{"data.pdf", "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n", "application/pdf"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.name)
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := Sniff(path)
		if err != nil {
			t.Errorf("Sniff(%s): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Sniff(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSniffResultIgnoresDeclaredExtensionLie(t *testing.T) {
	dir := t.TempDir()
	// A PDF named .txt must still sniff as PDF: the declared name never
	// overrides content.
	path := filepath.Join(dir, "lie.txt")
	os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0o644)

	got, err := Sniff(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "application/pdf" {
		t.Fatalf("Sniff = %q, want application/pdf", got)
	}
}

func TestPlainParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	os.WriteFile(path, []byte("Quarterly Report\r\n\r\n\r\nNumbers went up.   \n"), 0o644)

	p := newPlain(Config{WorkDir: dir})
	defer p.Cleanup()

	ex, err := p.Parse(context.Background(), path, "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if ex.Title != "Quarterly Report" {
		t.Errorf("Title = %q", ex.Title)
	}
	if !strings.Contains(ex.Text, "Numbers went up.") {
		t.Errorf("Text = %q", ex.Text)
	}
	if strings.Contains(ex.Text, "\r") {
		t.Error("carriage returns survived normalization")
	}
	if _, err := os.Stat(ex.ThumbnailPath); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}
}

func TestPlainParseEmptyFileSkips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	os.WriteFile(path, []byte("   \n\n  \n"), 0o644)

	p := newPlain(Config{WorkDir: dir})
	defer p.Cleanup()

	_, err := p.Parse(context.Background(), path, "text/plain")
	if !errors.Is(err, ErrSkip) {
		t.Fatalf("error = %v, want ErrSkip", err)
	}
}

func TestHTMLParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	content := `<!DOCTYPE html>
<html><head><title>Invoice 42</title><script>evil()</script></head>
<body><h1>Invoice 42</h1><p>Total: 99 EUR</p></body></html>`
	os.WriteFile(path, []byte(content), 0o644)

	p := newHTML(Config{WorkDir: dir})
	defer p.Cleanup()

	ex, err := p.Parse(context.Background(), path, "text/html")
	if err != nil {
		t.Fatal(err)
	}
	if ex.Title != "Invoice 42" {
		t.Errorf("Title = %q", ex.Title)
	}
	if !strings.Contains(ex.Text, "Total: 99 EUR") {
		t.Errorf("Text = %q", ex.Text)
	}
	if strings.Contains(ex.Text, "evil()") {
		t.Error("script content survived sanitization")
	}
}

func TestQualityNeedsOCR(t *testing.T) {
	tests := []struct {
		q    Quality
		want bool
	}{
		{Quality{CharsPerPage: 1200, PrintableRatio: 0.99, HasImages: false}, false},
		{Quality{CharsPerPage: 10, PrintableRatio: 0.99, HasImages: true}, true},
		{Quality{CharsPerPage: 800, PrintableRatio: 0.40, HasImages: false}, true},
		{Quality{CharsPerPage: 10, PrintableRatio: 0.99, HasImages: false}, false},
	}
	for i, tt := range tests {
		if got := tt.q.NeedsOCR(); got != tt.want {
			t.Errorf("case %d: NeedsOCR = %v, want %v", i, got, tt.want)
		}
	}
}

func TestPrintableRatio(t *testing.T) {
	if r := printableRatio("clean text only"); r != 1.0 {
		t.Errorf("clean text ratio = %f", r)
	}
	garbled := strings.Repeat(string(rune(0xE000)), 80) + "ok"
	if r := printableRatio(garbled); r > 0.5 {
		t.Errorf("garbled ratio = %f, want low", r)
	}
}

func TestWordlikeRatio(t *testing.T) {
	if r := wordlikeRatio("normal words in a sentence"); r < 0.5 {
		t.Errorf("ratio = %f, want high", r)
	}
	if r := wordlikeRatio("x y z q w"); r != 0 {
		t.Errorf("single-char ratio = %f, want 0", r)
	}
}
