package scanner

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFindsRegularFilesRecursively(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.log"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.log"), "b")
	writeFile(t, filepath.Join(root, ".hidden.log"), "nope")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored by regex")

	s := New(root, regexp.MustCompile(`\.log$`))
	res, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(res.Present)
	want := []string{
		filepath.Join(root, "a.log"),
		filepath.Join(root, "sub", "b.log"),
	}
	sort.Strings(want)
	if len(res.Present) != len(want) {
		t.Fatalf("got %v, want %v", res.Present, want)
	}
	for i := range want {
		if res.Present[i] != want[i] {
			t.Fatalf("got %v, want %v", res.Present, want)
		}
	}
}

func TestScanReportsAddedAndRemovedAcrossCalls(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.log"), "x")
	writeFile(t, filepath.Join(root, "gone.log"), "y")

	s := New(root, regexp.MustCompile(`.*`))
	first, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Added) != 2 || len(first.Removed) != 0 {
		t.Fatalf("first scan: got added=%v removed=%v", first.Added, first.Removed)
	}

	if err := os.Remove(filepath.Join(root, "gone.log")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "new.log"), "z")

	second, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Added) != 1 || filepath.Base(second.Added[0]) != "new.log" {
		t.Fatalf("second scan added: got %v", second.Added)
	}
	if len(second.Removed) != 1 || filepath.Base(second.Removed[0]) != "gone.log" {
		t.Fatalf("second scan removed: got %v", second.Removed)
	}
}

func TestScanSkipsDotfiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "config"), "x")
	writeFile(t, filepath.Join(root, "visible.log"), "y")

	s := New(root, nil)
	res, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Present) != 1 || filepath.Base(res.Present[0]) != "visible.log" {
		t.Fatalf("got %v", res.Present)
	}
}
