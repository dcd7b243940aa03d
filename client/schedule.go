package client

import (
	"github.com/edwiny/rstream/proto"
)

// scheduleDownloads implements spec.md §4.6 Request scheduling: a global
// semaphore (MaxConcurrentDownloads) limits outstanding STREAM requests
// across every source; eligible sources are those that have received at
// least one list and whose read buffer has headroom.
func (e *Engine) scheduleDownloads() {
	for _, sc := range e.sources {
		if e.downloadsInFlight >= MaxConcurrentDownloads {
			return
		}
		if sc.Session == nil || !sc.ListReceivedOnce {
			continue
		}
		if sc.Session.ReadSpace() < 10*NetworkBlock {
			continue
		}
		for relPath, entry := range e.mirror[sc.Host] {
			if entry.StreamState != NotRequested {
				continue
			}
			sc.Session.SendFrame(proto.Header{
				Cmd: proto.CmdStream,
				F:   relPath,
				O:   proto.WithOffset(entry.Size),
			}, nil)
			entry.StreamState = Requested
			e.downloadsInFlight++
			break
		}
	}
}
