package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestChecksumFileStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	os.WriteFile(a, []byte("same bytes"), 0o644)
	os.WriteFile(b, []byte("same bytes"), 0o644)

	ca, err := ChecksumFile(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := ChecksumFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Fatalf("identical content, different checksums: %s vs %s", ca, cb)
	}
	if len(ca) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(ca))
	}

	os.WriteFile(b, []byte("other bytes"), 0o644)
	cb2, _ := ChecksumFile(b)
	if cb2 == ca {
		t.Fatal("different content produced the same checksum")
	}
}

func TestFingerprintVersionRollsKey(t *testing.T) {
	if Fingerprint("abc", "v1") == Fingerprint("abc", "v2") {
		t.Fatal("model version change did not change the fingerprint")
	}
}

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier("v1", []Rule{
		{Keywords: []string{"invoice"}, TagIDs: []int64{1}, DocumentTypeID: 10},
		{Keywords: []string{"acme corp"}, TagIDs: []int64{2}, CorrespondentID: 20},
	})

	s, err := c.Classify(context.Background(), "INVOICE from Acme Corp, total 99 EUR")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.TagIDs) != 2 {
		t.Errorf("TagIDs = %v", s.TagIDs)
	}
	if s.CorrespondentID != 20 || s.DocumentTypeID != 10 {
		t.Errorf("suggestions = %+v", s)
	}

	// No keywords hit.
	s, err = c.Classify(context.Background(), "unrelated text")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.TagIDs) != 0 || s.CorrespondentID != 0 {
		t.Errorf("expected empty suggestions, got %+v", s)
	}
}

func TestRuleClassifierCancelled(t *testing.T) {
	c := NewRuleClassifier("v1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, "text"); err == nil {
		t.Fatal("expected context error")
	}
}
