package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirBackend_ReadsSecretDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `{"SALESFORCE_ORG_ID":"00Dxx0000001","CALL_CENTER_API_NAME":"acme_cc"}`
	if err := os.WriteFile(filepath.Join(dir, "tenant-acme.json"), []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewDirBackend(dir)
	values, err := b.GetSecret(context.Background(), "tenant-acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if values["SALESFORCE_ORG_ID"] != "00Dxx0000001" {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestDirBackend_MissingSecretIsNotFound(t *testing.T) {
	b := NewDirBackend(t.TempDir())
	_, err := b.GetSecret(context.Background(), "tenant-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirBackend_BadJSONIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tenant-bad.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewDirBackend(dir)
	_, err := b.GetSecret(context.Background(), "tenant-bad")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDirBackend_RejectsPathLikeNames(t *testing.T) {
	b := NewDirBackend(t.TempDir())
	if _, err := b.GetSecret(context.Background(), "../etc/passwd"); err == nil {
		t.Fatalf("expected error for path-like name")
	}
}
