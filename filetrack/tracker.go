package filetrack

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/edwiny/rstream/proto"
	"github.com/edwiny/rstream/scanner"
)

// BlockSize caps a single append-poll read, per spec.md §4.4/§5.
const BlockSize = 8 * 1024

// StatBatch is the per-tick cap on fstat calls, per spec.md §5.
const StatBatch = 50

// Tracker owns every Record beneath one shared root. It is not
// goroutine-safe - exactly one event loop (server.Engine) is expected to
// drive it, per spec.md §5's single-threaded cooperative model.
type Tracker struct {
	Root      string
	Checksums bool

	scanner *scanner.Scanner
	records map[string]*Record // absolute path -> record

	statQueue  []string
	tombstones []string // relative paths pending a -1 list entry
}

func New(root string, include *regexp.Regexp, checksums bool) *Tracker {
	return &Tracker{
		Root:      root,
		Checksums: checksums,
		scanner:   scanner.New(root, include),
		records:   make(map[string]*Record),
	}
}

// RelPath converts an absolute watched path to the wire-format relative
// path (spec.md §4.2 field "f").
func (t *Tracker) RelPath(abs string) string {
	rel, err := filepath.Rel(t.Root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Get looks up a record by its wire-relative path.
func (t *Tracker) Get(relPath string) (*Record, bool) {
	abs := filepath.Join(t.Root, filepath.FromSlash(relPath))
	r, ok := t.records[abs]
	return r, ok
}

// Refresh implements spec.md §4.4 Refresh: if no tombstones are still
// pending delivery, rescan the tree and create records for newly
// discovered files; then queue every currently watched path for the next
// round of stat polling.
func (t *Tracker) Refresh() error {
	if len(t.tombstones) == 0 {
		res, err := t.scanner.Scan()
		if err != nil {
			return fmt.Errorf("filetrack: scan %s: %w", t.Root, err)
		}
		for _, path := range res.Added {
			if err := t.addRecord(path); err != nil {
				glog.Errorf("filetrack: open %s: %v", path, err)
			}
		}
	}

	t.statQueue = t.statQueue[:0]
	for path := range t.records {
		t.statQueue = append(t.statQueue, path)
	}
	return nil
}

func (t *Tracker) addRecord(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	t.records[path] = newRecord(path, f, fi.Size(), fi.ModTime(), t.Checksums)
	t.records[path].Dirty = true
	return nil
}

// ProcessStatQueue pops up to StatBatch queued paths and fstats each,
// applying spec.md §4.4's four-way classification.
func (t *Tracker) ProcessStatQueue() {
	n := StatBatch
	if n > len(t.statQueue) {
		n = len(t.statQueue)
	}
	batch := t.statQueue[:n]
	t.statQueue = t.statQueue[n:]

	for _, path := range batch {
		r, ok := t.records[path]
		if !ok {
			continue // removed earlier in this same batch's processing
		}
		t.processOne(r)
	}
}

func (t *Tracker) processOne(r *Record) {
	fi, err := r.Handle.Stat()
	if err != nil {
		glog.Errorf("filetrack: fstat %s: %v", r.Path, err)
		return
	}

	if nlink(fi) == 0 {
		t.removeRecord(r)
		return
	}

	switch {
	case fi.Size() < r.Size:
		r.Size = fi.Size()
		r.Mtime = fi.ModTime()
		r.cancelSubscribers()
		if r.ChecksumsOn {
			r.resetHashEmpty()
		}
		glog.Infof("filetrack: %s truncated to %d bytes", r.Path, r.Size)

	case fi.ModTime().After(r.Mtime):
		if len(r.Subscribers) > 0 && fi.Size() > r.Size {
			// Growth with active subscribers: let ScanNewData pick up
			// the new bytes on its own schedule; just record the new
			// size/mtime so the deferral condition resolves next tick.
			r.Size = fi.Size()
			r.Mtime = fi.ModTime()
			return
		}
		replaced := true
		if r.ChecksumsOn {
			old := r.HashHex
			r.Size = fi.Size()
			if err := r.resetHashFromScratch(); err != nil {
				glog.Errorf("filetrack: rehash %s: %v", r.Path, err)
			}
			replaced = r.HashHex != old
		}
		r.Mtime = fi.ModTime()
		if !r.ChecksumsOn {
			r.Size = fi.Size()
		}
		if replaced {
			r.cancelSubscribers()
			glog.Infof("filetrack: %s replaced (mtime bump)", r.Path)
		} else {
			r.Dirty = true
		}

	default:
		r.Size = fi.Size()
		r.Mtime = fi.ModTime()
	}
}

func (t *Tracker) removeRecord(r *Record) {
	r.Handle.Close()
	delete(t.records, r.Path)
	t.tombstones = append(t.tombstones, t.RelPath(r.Path))
	glog.Infof("filetrack: %s deleted", r.Path)
}

// ScanNewData implements spec.md §4.4 ScanNewData: for every record that
// has subscribers and is due, read up to one block past its cursor and
// report the bytes so the caller (server.Engine) can fan them out.
//
// hasRoom is consulted before reading at all: it must report whether
// every one of the record's current subscribers has enough write-buffer
// space for a full block. §3's invariant ("while subscribers is
// non-empty, read_cursor advances only by sending the intervening bytes
// to every member") only holds if a record with any slow subscriber is
// skipped wholesale this round rather than advancing the cursor while
// quietly dropping that subscriber's bytes - so unlike the per-subscriber
// enqueue-or-skip §4.5 describes for block fan-out, admission into this
// round is all-or-nothing per record.
func (t *Tracker) ScanNewData(now time.Time, hasRoom func(subscribers map[SessionID]struct{}) bool) []Append {
	var out []Append
	for _, r := range t.records {
		if len(r.Subscribers) == 0 || now.Before(r.NextScanAt) {
			continue
		}
		if hasRoom != nil && !hasRoom(r.Subscribers) {
			continue
		}
		buf := make([]byte, BlockSize)
		n, err := r.Handle.ReadAt(buf, r.ReadCursor)
		if err != nil && n == 0 {
			r.NextScanAt = now.Add(backoff(0))
			continue
		}
		if n == 0 {
			r.NextScanAt = now.Add(backoff(0))
			continue
		}
		data := buf[:n]

		if r.ChecksumsOn {
			// Guard against the prefix having changed under us between
			// this poll and the last: recompute over [0, ReadCursor) and
			// compare to the stored digest before trusting it to extend.
			ok, err := r.verifyPrefix(r.ReadCursor)
			if err != nil {
				glog.Errorf("filetrack: verify-prefix %s: %v", r.Path, err)
				continue
			}
			if !ok {
				glog.Infof("filetrack: %s prefix changed under us, cancelling subscribers", r.Path)
				r.cancelSubscribers()
				continue
			}
			r.extendHash(data)
		}

		r.ReadCursor += int64(n)
		r.NextScanAt = now.Add(backoff(n))
		if glog.V(4) {
			glog.Infof("filetrack: %s +%d bytes, cursor now %d", r.Path, n, r.ReadCursor)
		}
		out = append(out, Append{Record: r, Data: data})
	}
	return out
}

func backoff(bytesRead int) time.Duration {
	if bytesRead > 0 {
		return 0
	}
	return 200 * time.Millisecond
}

// verifyPrefix recomputes SHA-1 over [0, upto) and reports whether it
// still matches the record's stored digest, without mutating the
// record's running hash state - used by ScanNewData to detect a prefix
// that changed out from under an in-progress append poll.
func (r *Record) verifyPrefix(upto int64) (bool, error) {
	h := sha1.New()
	buf := make([]byte, 64*1024)
	var total int64
	for total < upto {
		want := upto - total
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := r.Handle.ReadAt(buf[:want], total)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)) == r.HashHex, nil
}

// RemoveSubscriber drops a single session id from every record's
// subscriber set - used on session teardown (disconnect), which per
// spec.md §9 must be a one-pass sweep by stable id rather than anything
// keyed on a pointer into a table the tracker doesn't own.
func (t *Tracker) RemoveSubscriber(id SessionID) {
	for _, r := range t.records {
		delete(r.Subscribers, id)
	}
}

// CancelSubscribers drops every subscriber of the file at relPath. Session
// teardown does not use it: it calls RemoveSubscriber, which drops only
// that session's id.
func (t *Tracker) CancelSubscribers(relPath string) {
	if r, ok := t.Get(relPath); ok {
		r.cancelSubscribers()
	}
}

// GenerateList implements spec.md §4.4 GenerateList: return either every
// tracked file or only the dirty ones, plus tombstones for every path
// removed since the last call, clearing both as it goes.
func (t *Tracker) GenerateList(onlyDirty bool) map[string]proto.ListEntry {
	out := make(map[string]proto.ListEntry, len(t.records)+len(t.tombstones))
	for _, r := range t.records {
		if onlyDirty && !r.Dirty {
			continue
		}
		out[t.RelPath(r.Path)] = proto.ListEntry{Size: r.Size, Hash: r.HashHex}
		r.Dirty = false
	}
	for _, rel := range t.tombstones {
		out[rel] = proto.ListEntry{Size: proto.TombstoneSize}
	}
	t.tombstones = t.tombstones[:0]
	return out
}

// AnyDirty reports whether GenerateList(true) would currently return any
// entries, without consuming dirty bits or tombstones - used by the
// server engine to decide whether a push-on-change "lp" broadcast is due
// (spec.md §4.5).
func (t *Tracker) AnyDirty() bool {
	if len(t.tombstones) > 0 {
		return true
	}
	for _, r := range t.records {
		if r.Dirty {
			return true
		}
	}
	return false
}

// HasPendingTombstones reports whether a deletion is awaiting delivery in
// a list update - Refresh skips rescanning while true (spec.md §4.4).
func (t *Tracker) HasPendingTombstones() bool { return len(t.tombstones) > 0 }

// AllPaths returns every currently tracked relative path, sorted, mostly
// useful for tests and diagnostics.
func (t *Tracker) AllPaths() []string {
	out := make([]string, 0, len(t.records))
	for p := range t.records {
		out = append(out, t.RelPath(p))
	}
	sort.Strings(out)
	return out
}

func nlink(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 1
	}
	return uint64(st.Nlink)
}
