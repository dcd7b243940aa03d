package filetrack

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustAppend(t *testing.T, path, more string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(more); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshDiscoversFilesWithFullHash(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.log"), "hello")

	tr := New(root, regexp.MustCompile(`\.log$`), true)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}

	rec, ok := tr.Get("a.log")
	if !ok {
		t.Fatal("expected a.log to be tracked")
	}
	if rec.ReadCursor != int64(len("hello")) {
		t.Fatalf("ReadCursor = %d, want %d", rec.ReadCursor, len("hello"))
	}
	if rec.HashHex == "" {
		t.Fatal("expected non-empty hash with checksums enabled")
	}
}

func TestScanNewDataAdvancesCursorAndHash(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.log")
	mustWrite(t, path, "line1\n")

	tr := New(root, nil, true)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	rec, _ := tr.Get("a.log")
	rec.Subscribers[SessionID(1)] = struct{}{}

	mustAppend(t, path, "line2\n")
	rec.Size = int64(len("line1\nline2\n")) // as ProcessStatQueue would set it

	before := rec.HashHex
	appends := tr.ScanNewData(time.Now(), nil)
	if len(appends) != 1 {
		t.Fatalf("got %d appends, want 1", len(appends))
	}
	if string(appends[0].Data) != "line2\n" {
		t.Fatalf("got data %q", appends[0].Data)
	}
	if rec.ReadCursor != int64(len("line1\nline2\n")) {
		t.Fatalf("ReadCursor = %d", rec.ReadCursor)
	}
	if rec.HashHex == before {
		t.Fatal("expected hash to advance")
	}
}

func TestProcessStatQueueDetectsTruncation(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.log")
	mustWrite(t, path, "0123456789")

	tr := New(root, nil, false)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	rec, _ := tr.Get("a.log")
	rec.Subscribers[SessionID(1)] = struct{}{}
	rec.ReadCursor = 10

	if err := os.Truncate(path, 3); err != nil {
		t.Fatal(err)
	}
	tr.ProcessStatQueue()

	if rec.ReadCursor != 0 {
		t.Fatalf("ReadCursor after truncation = %d, want 0", rec.ReadCursor)
	}
	if len(rec.Subscribers) != 0 {
		t.Fatal("expected subscribers to be cancelled on truncation")
	}
	if rec.Size != 3 {
		t.Fatalf("Size after truncation = %d, want 3", rec.Size)
	}
}

func TestProcessStatQueueDetectsDeletion(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.log")
	mustWrite(t, path, "bye")

	tr := New(root, nil, false)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	tr.ProcessStatQueue()

	if _, ok := tr.Get("a.log"); ok {
		t.Fatal("expected record to be removed after unlink")
	}
	if !tr.HasPendingTombstones() {
		t.Fatal("expected a pending tombstone after deletion")
	}
}

func TestGenerateListClearsDirty(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.log"), "x")

	tr := New(root, nil, false)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}

	full := tr.GenerateList(false)
	if _, ok := full["a.log"]; !ok {
		t.Fatalf("got %v", full)
	}

	deltaAfterClean := tr.GenerateList(true)
	if len(deltaAfterClean) != 0 {
		t.Fatalf("expected no dirty entries after a clean GenerateList, got %v", deltaAfterClean)
	}
}

func TestRefreshSkipsRescanWhileTombstonesPending(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.log")
	mustWrite(t, path, "x")

	tr := New(root, nil, false)
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	tr.ProcessStatQueue()
	if !tr.HasPendingTombstones() {
		t.Fatal("expected pending tombstone")
	}

	mustWrite(t, filepath.Join(root, "b.log"), "new")
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Get("b.log"); ok {
		t.Fatal("expected rescan to be skipped while a tombstone is pending delivery")
	}

	tr.GenerateList(false) // drains the tombstone
	if err := tr.Refresh(); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Get("b.log"); !ok {
		t.Fatal("expected b.log to be discovered once the tombstone was delivered")
	}
}
