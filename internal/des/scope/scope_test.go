package scope

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMatcherGlobStar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "des", "x.go"))

	m := NewMatcher(root, []string{"src/des/**"})

	ok, err := m.Matches(filepath.Join(root, "src", "des", "x.go"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected match under src/des/**")
	}
}

func TestMatcherRejectsOutOfScope(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"))

	m := NewMatcher(root, []string{"src/des/**"})

	ok, err := m.Matches(filepath.Join(root, "README.md"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected README.md to be out of scope")
	}
}

func TestEmptyAllowListPermitsNothing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "anything.go"))

	m := NewMatcher(root, nil)

	ok, err := m.Matches(filepath.Join(root, "anything.go"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected empty allow-list to permit nothing")
	}
}

func TestViolationsPartitions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "des", "x.go"))
	writeFile(t, filepath.Join(root, "README.md"))

	m := NewMatcher(root, []string{"src/des/**"})

	violations, err := m.Violations([]string{
		filepath.Join(root, "src", "des", "x.go"),
		filepath.Join(root, "README.md"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(violations) != 1 || filepath.Base(violations[0]) != "README.md" {
		t.Fatalf("expected exactly README.md to violate scope, got %v", violations)
	}
}

func TestBareDirectoryPatternMatchesNestedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "nested", "deep", "file.go"))

	m := NewMatcher(root, []string{"src/nested"})

	ok, err := m.Matches(filepath.Join(root, "src", "nested", "deep", "file.go"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected bare directory pattern to match nested files")
	}
}
