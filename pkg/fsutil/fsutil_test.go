package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "manifest.json")

	if err := WriteJSONAtomic(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got["a"] != 1 {
		t.Errorf("got %v, want a=1", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestIsWithin(t *testing.T) {
	tmp := t.TempDir()
	foo := filepath.Join(tmp, "foo")
	bar := filepath.Join(tmp, "foo", "bar")
	barbaz := filepath.Join(tmp, "foo", "barbaz")
	for _, d := range []string{bar, barbaz} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		checked, dir string
		want         bool
	}{
		{bar, barbaz, false},
		{bar, foo, true},
		{barbaz, foo, true},
		{foo, foo, true},
	}
	for _, tt := range tests {
		got, err := IsWithin(tt.checked, tt.dir)
		if err != nil {
			t.Fatalf("IsWithin(%s, %s) error = %v", tt.checked, tt.dir, err)
		}
		if got != tt.want {
			t.Errorf("IsWithin(%s, %s) = %v, want %v", tt.checked, tt.dir, got, tt.want)
		}
	}

	if _, err := IsWithin(filepath.Join(tmp, "missing"), foo); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "a", "marker.json")
	if err := os.WriteFile(want, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := FindUp("marker.json", deep)
	if !ok || got != want {
		t.Errorf("FindUp() = %q, %v; want %q", got, ok, want)
	}
	if _, ok := FindUp("nope.json", deep); ok {
		t.Error("FindUp() found a file that does not exist")
	}
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	if err := WriteFile(filepath.Join(src, "sub", "A.sol"), []byte("contract A {}")); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "out")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir() error = %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dst, "sub", "A.sol"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "contract A {}" {
		t.Errorf("copied content = %q", b)
	}
}
