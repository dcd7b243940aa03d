// Package filetrack implements the server-side per-file state machine of
// spec.md §3/§4.4: discovery, stat polling, append detection, optional
// content hashing, per-file subscriber fan-out, and the download-to-tail
// transition.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package filetrack

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"os"
	"time"

	"github.com/edwiny/rstream/cmn"
)

// SessionID identifies a peer session. Subscriber sets and downloads key
// on this stable integer rather than holding a session pointer, so
// session teardown is a one-pass sweep removing the id everywhere
// (spec.md §9).
type SessionID = cmn.SessionID

// Record is one watched file (spec.md §3). It owns the one read handle
// opened for it at discovery for the whole of its lifetime; downloads
// share that handle by seeking to an offset before each read, which is
// safe only because the engine's loop is single-threaded.
type Record struct {
	Path       string // absolute, canonical; map key in Tracker
	Handle     *os.File
	Size       int64
	Mtime      time.Time
	ReadCursor int64

	ChecksumsOn bool
	hashState   hash.Hash // running SHA-1 over [0, ReadCursor); nil if ChecksumsOn is false
	HashHex     string    // == hex(hashState) whenever quiescent; "" if ChecksumsOn is false

	Subscribers map[SessionID]struct{}

	NextScanAt time.Time
	Dirty      bool
}

func newRecord(path string, f *os.File, size int64, mtime time.Time, checksums bool) *Record {
	r := &Record{
		Path:        path,
		Handle:      f,
		Size:        size,
		Mtime:       mtime,
		ChecksumsOn: checksums,
		Subscribers: make(map[SessionID]struct{}),
	}
	if checksums {
		// No subscriber has ever been owed bytes yet, so the cursor can
		// jump straight to the file's current content: hash it once now,
		// and keep the live hasher around to extend incrementally from
		// here. ScanNewData still re-hashes [0, ReadCursor) through
		// verifyPrefix on every poll that finds new bytes, to check the
		// prefix before extending.
		h := sha1.New()
		buf := make([]byte, 64*1024)
		var total int64
		for {
			n, err := f.ReadAt(buf, total)
			if n > 0 {
				h.Write(buf[:n])
				total += int64(n)
			}
			if err != nil {
				break
			}
		}
		r.hashState = h
		r.HashHex = hex.EncodeToString(h.Sum(nil))
		r.ReadCursor = total
	}
	return r
}

// extendHash feeds newly-read bytes into the running hasher and updates
// HashHex. Only valid when ChecksumsOn.
func (r *Record) extendHash(b []byte) {
	r.hashState.Write(b)
	r.HashHex = hex.EncodeToString(r.hashState.Sum(nil))
}

// resetHashFromScratch recomputes the running hash from scratch over
// [0, r.Size) read through the handle, replacing the running hasher. It is
// used where spec.md §4.4 step 3 calls for it (mtime changed, no
// subscribers to have been incrementally hashing along the way).
func (r *Record) resetHashFromScratch() error {
	h := sha1.New()
	buf := make([]byte, 64*1024)
	var total int64
	for total < r.Size {
		n, err := r.Handle.ReadAt(buf, total)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err != nil {
			break
		}
	}
	r.hashState = h
	r.HashHex = hex.EncodeToString(h.Sum(nil))
	return nil
}

// resetHashEmpty resets the running hash to the empty-prefix digest, used
// after a truncation (ReadCursor resets to 0 too).
func (r *Record) resetHashEmpty() {
	r.hashState = sha1.New()
	r.HashHex = hex.EncodeToString(r.hashState.Sum(nil))
}

// Append is one ScanNewData result: newly available bytes for a record,
// read but not yet sent to its subscribers.
type Append struct {
	Record *Record
	Data   []byte
}

// cancelSubscribers implements spec.md §4.4 CancelSubscribers: drop every
// subscriber, rewind the cursor to 0, and mark the record dirty so the
// next list update reflects the change.
func (r *Record) cancelSubscribers() {
	r.Subscribers = make(map[SessionID]struct{})
	r.ReadCursor = 0
	r.Dirty = true
}
