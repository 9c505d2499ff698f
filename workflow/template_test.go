package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	tc := TemplateContext{
		Correspondent:    "Acme",
		DocumentType:     "Invoice",
		OwnerUsername:    "pat",
		OriginalFilename: "scan_001.pdf",
		Added:            time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Created:          time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		tmpl, want string
	}{
		{"{correspondent}/{added_year}", "Acme/2024"},
		{"{document_type} {created}", "Invoice 2023-12-24"},
		{"{owner_username}-{original_filename}", "pat-scan_001.pdf"},
		{"{added_year}-{added_month}-{added_day}", "2024-03-05"},
		{"{created_year}/{created_month}", "2023/12"},
		{"no tokens at all", "no tokens at all"},
	}
	for _, tt := range tests {
		if got := Render(tt.tmpl, tc); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRenderZeroDatesEmpty(t *testing.T) {
	if got := Render("{created_year}", TemplateContext{}); got != "" {
		t.Errorf("zero created date rendered %q, want empty", got)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	err := Validate("{corespondent}", StagePost)
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TemplateError", err)
	}
	if te.Token != "corespondent" {
		t.Errorf("Token = %q", te.Token)
	}
}

func TestValidateCreatedTokensBlockedAtPreStage(t *testing.T) {
	// Before extraction the created date is unresolved; a PRE template
	// referencing it must fail validation, not render time.
	if err := Validate("{created_year}", StagePre); err == nil {
		t.Fatal("created_year accepted at PRE stage")
	}
	if err := Validate("{created_year}", StagePost); err != nil {
		t.Fatalf("created_year rejected at POST stage: %v", err)
	}
	if err := Validate("{added_year}", StagePre); err != nil {
		t.Fatalf("added_year rejected at PRE stage: %v", err)
	}
}

func TestEngineRejectsBadTitleTemplateAtAdd(t *testing.T) {
	e := NewEngine(Config{})
	err := e.Add(&Trigger{
		Name: "bad-template", TenantID: "acme", Stage: StagePre,
		Actions: []Action{{Type: ActionSetTitle, Title: "{created_year}/{correspondent}"}},
	})
	if err == nil {
		t.Fatal("PRE trigger with created_* title template accepted")
	}
}
