package parsers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRemoteParse(t *testing.T) {
	var gotAuth, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLang = r.FormValue("language")
		json.NewEncoder(w).Encode(map[string]any{"text": "OCR RESULT\nline two", "pages": 2})
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	os.WriteFile(path, []byte("\x89PNG fake"), 0o644)

	p := newRemote(Config{WorkDir: dir, OCRLanguage: "eng"}, RemoteOptions{
		Endpoint: srv.URL,
		APIKey:   "secret",
	})
	defer p.Cleanup()

	ex, err := p.Parse(context.Background(), path, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "OCR RESULT\nline two" {
		t.Errorf("Text = %q", ex.Text)
	}
	if ex.PageCount != 2 {
		t.Errorf("PageCount = %d", ex.PageCount)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotLang != "eng" {
		t.Errorf("language = %q", gotLang)
	}
	if _, err := os.Stat(ex.ThumbnailPath); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}
}

func TestRemoteParseCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	os.WriteFile(path, []byte("data"), 0o644)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := newRemote(Config{WorkDir: dir}, RemoteOptions{Endpoint: srv.URL})
	defer p.Cleanup()

	if _, err := p.Parse(ctx, path, "image/png"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestRemoteParseServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	os.WriteFile(path, []byte("data"), 0o644)

	p := newRemote(Config{WorkDir: dir}, RemoteOptions{Endpoint: srv.URL})
	defer p.Cleanup()

	if _, err := p.Parse(context.Background(), path, "image/png"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestBuiltinRemoteOutranksPDF(t *testing.T) {
	reg, err := Builtin(Options{Remote: &RemoteOptions{Endpoint: "http://ocr.local"}})
	if err != nil {
		t.Fatal(err)
	}
	d, err := reg.Select("application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "remote-ocr" {
		t.Fatalf("Select = %q, want remote-ocr", d.Name)
	}

	// Without the remote backend, the local PDF parser serves.
	reg, err = Builtin(Options{})
	if err != nil {
		t.Fatal(err)
	}
	d, err = reg.Select("application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "pdf" {
		t.Fatalf("Select = %q, want pdf", d.Name)
	}
}
