package server

import (
	"github.com/golang/glog"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/filetrack"
	"github.com/edwiny/rstream/proto"
	"github.com/edwiny/rstream/session"
)

const downloadWriteHeadroom = 2 * filetrack.BlockSize

// pumpDownloads implements spec.md §4.5's download-feeding paragraph:
// each tick, read up to one block from cursor for every download whose
// session has write-buffer headroom, frame it, and on reaching EOF
// promote the session into the file's subscriber set.
func (e *Engine) pumpDownloads() {
	if len(e.downloads) == 0 {
		return
	}
	kept := e.downloads[:0]
	for _, d := range e.downloads {
		s, ok := e.sessions[d.Session]
		if !ok {
			continue // session already torn down this tick
		}
		if s.WriteSpace() < downloadWriteHeadroom {
			kept = append(kept, d)
			continue
		}
		r, ok := e.Tracker.Get(d.RelPath)
		if !ok {
			st := proto.StFail
			s.SendFrame(proto.Header{P: proto.PktStatus, F: d.RelPath, St: &st}, nil)
			continue
		}

		if d.Cursor >= r.Size {
			e.completeDownload(s, r, d)
			continue
		}

		buf := make([]byte, filetrack.BlockSize)
		n, err := r.Handle.ReadAt(buf, d.Cursor)
		if n == 0 {
			if err != nil {
				glog.Errorf("server: download read %s: %v", d.RelPath, err)
			}
			kept = append(kept, d)
			continue
		}
		e.sendBlock(s, d.RelPath, d.Cursor, buf[:n])
		d.Cursor += int64(n)
		kept = append(kept, d)
	}
	e.downloads = kept
}

// completeDownload implements the catch-up-to-EOF transition of §3/§4.5,
// including the Open Question resolved in SPEC_FULL.md §13: promoting
// into a non-empty subscriber set asserts the new cursor matches the
// existing one rather than silently trusting it.
func (e *Engine) completeDownload(s *session.Session, r *filetrack.Record, d *Download) {
	id := d.Session
	if len(r.Subscribers) == 0 {
		r.ReadCursor = d.Cursor
	} else {
		cmn.AssertMsg(r.ReadCursor == d.Cursor,
			"download promotion cursor mismatch for %s: existing=%d new=%d", r.Path, r.ReadCursor, d.Cursor)
	}
	r.Subscribers[id] = struct{}{}
	st := proto.StComplete
	s.SendFrame(proto.Header{P: proto.PktStatus, F: d.RelPath, St: &st}, nil)
	glog.Infof("server: session %d caught up on %s, promoted to subscriber", d.Session, d.RelPath)
}

func (e *Engine) sendBlock(s *session.Session, relPath string, offset int64, data []byte) {
	payload := data
	gzipped := false
	if e.Cfg.Gzip {
		compressed, err := proto.Compress(data)
		if err != nil {
			glog.Errorf("server: compress block for %s: %v", relPath, err)
			return
		}
		payload = compressed
		gzipped = true
	}
	hdr := proto.Header{
		P: proto.PktBlock,
		F: relPath,
		O: proto.WithOffset(offset),
		S: proto.WithOffset(int64(len(payload))),
		Z: gzipped,
	}
	s.SendFrame(hdr, payload)
}
