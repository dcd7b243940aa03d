package server

import (
	"time"

	"github.com/golang/glog"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/filetrack"
	"github.com/edwiny/rstream/proto"
)

const blockWriteHeadroom = filetrack.BlockSize + 256

// pushOnChange implements spec.md §4.5's "push on change": whenever any
// record became dirty or a file was deleted since the last push, every
// connected session gets an unsolicited partial-list ("lp") packet.
func (e *Engine) pushOnChange() {
	if !e.Tracker.AnyDirty() {
		return
	}
	list := e.Tracker.GenerateList(true)
	payload := proto.EncodeList(list)
	st := proto.StComplete
	hdr := proto.Header{P: proto.PktPartialList, St: &st, S: proto.WithOffset(int64(len(payload)))}
	for _, s := range e.sessions {
		s.SendFrame(hdr, payload)
	}
}

// fanOutAppends implements spec.md §4.4 ScanNewData plus §4.5's block
// fan-out framing: pull newly available bytes for every due, subscribed
// record, and enqueue a block packet to each subscriber.
func (e *Engine) fanOutAppends(now time.Time) {
	appends := e.Tracker.ScanNewData(now, func(subs map[cmn.SessionID]struct{}) bool {
		for id := range subs {
			s, ok := e.sessions[id]
			if !ok || s.WriteSpace() < blockWriteHeadroom {
				return false
			}
		}
		return true
	})
	for _, a := range appends {
		for id := range a.Record.Subscribers {
			s, ok := e.sessions[id]
			if !ok {
				continue
			}
			if s.WriteSpace() < blockWriteHeadroom {
				glog.Warningf("server: session %d lacks room for %s, skipped this round", id, a.Record.Path)
				continue
			}
			e.sendBlock(s, e.Tracker.RelPath(a.Record.Path), a.Record.ReadCursor-int64(len(a.Data)), a.Data)
		}
	}
}
