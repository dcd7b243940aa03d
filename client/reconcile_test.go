package client

import (
	"os"
	"testing"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/proto"
	"github.com/edwiny/rstream/resume"
)

// memStore is a resume.Store good enough for reconcile tests: no disk, no
// locking, since every call here comes from a single test goroutine.
type memStore struct{ m map[string]int64 }

func newMemStore() *memStore { return &memStore{m: make(map[string]int64)} }

func memKey(source, relPath string) string { return source + "\x00" + relPath }

func (s *memStore) Get(source, relPath string) (int64, bool, error) {
	v, ok := s.m[memKey(source, relPath)]
	return v, ok, nil
}

func (s *memStore) Set(source, relPath string, offset int64) error {
	s.m[memKey(source, relPath)] = offset
	return nil
}

func (s *memStore) Tombstone(source, relPath string) error {
	return s.Set(source, relPath, resume.Tombstone)
}

func (s *memStore) Close() error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	return &Engine{
		Cfg:    &cmn.Config{Dir: root},
		Resume: newMemStore(),
		mirror: make(map[string]map[string]*MirrorEntry),
	}
}

func TestReconcileFullCreatesAndDeletes(t *testing.T) {
	e := newTestEngine(t)
	host := "src1"

	e.reconcileFull(host, map[string]proto.ListEntry{"a.log": {Size: 0}})

	if _, ok := e.mirror[host]["a.log"]; !ok {
		t.Fatal("expected a.log to be tracked after first reconcile")
	}
	if _, err := os.Stat(e.localPath(host, "a.log")); err != nil {
		t.Fatalf("expected local file to exist: %v", err)
	}

	e.reconcileFull(host, map[string]proto.ListEntry{})

	if _, ok := e.mirror[host]["a.log"]; ok {
		t.Fatal("expected a.log to be dropped when omitted from a full list")
	}
	if _, err := os.Stat(e.localPath(host, "a.log")); !os.IsNotExist(err) {
		t.Fatalf("expected local file removed, stat err = %v", err)
	}
}

func TestReconcileDeltaNeverInfersDeletion(t *testing.T) {
	e := newTestEngine(t)
	host := "src1"

	e.reconcileFull(host, map[string]proto.ListEntry{
		"a.log": {Size: 0},
		"b.log": {Size: 0},
	})

	e.reconcileDelta(host, map[string]proto.ListEntry{"a.log": {Size: 0}})

	if _, ok := e.mirror[host]["b.log"]; !ok {
		t.Fatal("reconcileDelta must never delete a path by omission")
	}
	if _, err := os.Stat(e.localPath(host, "b.log")); err != nil {
		t.Fatalf("expected b.log local file to survive: %v", err)
	}
}

func TestReconcileOneTombstoneDeletes(t *testing.T) {
	e := newTestEngine(t)
	host := "src1"

	e.reconcileFull(host, map[string]proto.ListEntry{"a.log": {Size: 0}})
	e.reconcileOne(host, "a.log", proto.ListEntry{Size: proto.TombstoneSize})

	if _, ok := e.mirror[host]["a.log"]; ok {
		t.Fatal("tombstone entry should remove the mirror entry")
	}
	if off, found, _ := e.Resume.Get(host, "a.log"); !found || off != resume.Tombstone {
		t.Fatalf("expected resume store tombstone, got off=%d found=%v", off, found)
	}
}

func TestReconcileOneTruncatesOnShrink(t *testing.T) {
	e := newTestEngine(t)
	host := "src1"

	e.reconcileFull(host, map[string]proto.ListEntry{"a.log": {Size: 0}})
	path := e.localPath(host, "a.log")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	e.mirror[host]["a.log"].Size = 20000

	// Remote reports a size far enough below the local size (beyond
	// NetworkBlock slack) to be unambiguously a truncation, not an
	// in-flight partial read.
	e.reconcileOne(host, "a.log", proto.ListEntry{Size: 1})

	entry := e.mirror[host]["a.log"]
	if entry.Size != 0 || entry.StreamState != NotRequested {
		t.Fatalf("expected reset entry after truncation, got %+v", entry)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected local file truncated to 0 bytes, got %d", len(data))
	}
}

func TestReconcileOneReplacesOnHashMismatch(t *testing.T) {
	e := newTestEngine(t)
	host := "src1"

	e.reconcileFull(host, map[string]proto.ListEntry{"a.log": {Size: 5, Hash: "aaaa"}})
	entry := e.mirror[host]["a.log"]
	entry.Size = 5
	entry.Hash = "aaaa"
	if err := os.WriteFile(e.localPath(host, "a.log"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	e.reconcileOne(host, "a.log", proto.ListEntry{Size: 5, Hash: "bbbb"})

	entry = e.mirror[host]["a.log"]
	if entry.Hash != "bbbb" || entry.Size != 0 || entry.StreamState != NotRequested {
		t.Fatalf("expected replacement reset, got %+v", entry)
	}
}
