package client

import (
	"os"

	"github.com/golang/glog"

	"github.com/edwiny/rstream/proto"
)

// dispatch implements spec.md §4.6 Response dispatch: demultiplex a
// decoded frame by its packet kind.
func (e *Engine) dispatch(sc *SourceConn, hdr proto.Header, payload []byte) {
	switch hdr.P {
	case proto.PktFullList, proto.PktPartialList:
		list, err := proto.DecodeList(payload)
		if err != nil {
			glog.Errorf("client: %s: bad list payload: %v", sc.Host, err)
			return
		}
		if hdr.P == proto.PktFullList {
			e.reconcileFull(sc.Host, list)
			sc.ListReceivedOnce = true
		} else {
			e.reconcileDelta(sc.Host, list)
		}
	case proto.PktBlock:
		e.applyBlock(sc, hdr, payload)
	case proto.PktStatus:
		e.applyStatus(sc, hdr)
	default:
		glog.Warningf("client: %s: unrecognized packet kind %q", sc.Host, hdr.P)
	}
}

// applyBlock implements spec.md §4.6 Block append.
func (e *Engine) applyBlock(sc *SourceConn, hdr proto.Header, payload []byte) {
	entries := e.mirror[sc.Host]
	entry, ok := entries[hdr.F]
	if !ok {
		glog.Warningf("client: %s: block for untracked path %s, dropped", sc.Host, hdr.F)
		return
	}

	data := payload
	if hdr.Z {
		decompressed, err := proto.Decompress(payload)
		if err != nil {
			glog.Errorf("client: %s: decompress block for %s: %v", sc.Host, hdr.F, err)
			return
		}
		data = decompressed
	}

	path := e.localPath(sc.Host, hdr.F)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		glog.Errorf("client: %s: open %s for append: %v", sc.Host, hdr.F, err)
		return // mirror size left unchanged so the next update retries, per §7
	}
	n, err := f.Write(data)
	f.Close()
	if err != nil {
		glog.Errorf("client: %s: write %s: %v", sc.Host, hdr.F, err)
		return
	}

	entry.Size += int64(n)
	if err := e.Resume.Set(sc.Host, hdr.F, entry.Size); err != nil {
		glog.Errorf("client: %s: persist resume offset for %s: %v", sc.Host, hdr.F, err)
	}
	if e.Cfg.StdoutEcho {
		os.Stdout.Write(data)
	}
}

// applyStatus implements spec.md §4.6 stream-status dispatch.
func (e *Engine) applyStatus(sc *SourceConn, hdr proto.Header) {
	entries := e.mirror[sc.Host]
	entry, ok := entries[hdr.F]
	if !ok {
		return
	}
	switch hdr.State() {
	case proto.StInProgress:
		entry.StreamState = InProgress
	case proto.StComplete:
		entry.StreamState = Complete
		e.downloadsInFlight--
	case proto.StFail:
		entry.StreamState = Fail
		e.downloadsInFlight--
		glog.Warningf("client: %s: STREAM failed for %s", sc.Host, hdr.F)
	}
}
