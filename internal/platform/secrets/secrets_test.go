package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "secrets.yml"), filepath.Join(dir, "secrets.key"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("github", "whsec_abc123"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("github")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "whsec_abc123" {
		t.Errorf("Expected whsec_abc123, got %s", got)
	}

	if err := s.Delete("github"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("github"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestValuesNotStoredInPlaintext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yml")
	s, err := Open(path, filepath.Join(dir, "secrets.key"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Put("stripe", "sk_live_supersecret"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(raw), "sk_live_supersecret") {
		t.Error("Secret stored in plaintext")
	}
}

func TestKeyPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yml")
	keyPath := filepath.Join(dir, "secrets.key")

	s1, err := Open(path, keyPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s1.Put("linear", "lin_api_key"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	s2, err := Open(path, keyPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := s2.Get("linear")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != "lin_api_key" {
		t.Errorf("Expected lin_api_key, got %s", got)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected key file mode 0600, got %v", info.Mode().Perm())
	}
}
