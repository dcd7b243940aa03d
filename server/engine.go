// Package server implements the source-side event loop of spec.md §4.5
// and §5: accept connections, drive the file tracker, handle LIST/STREAM
// requests, feed downloads, and fan out appends to subscribers.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/filetrack"
	"github.com/edwiny/rstream/housekeep"
	"github.com/edwiny/rstream/proto"
	"github.com/edwiny/rstream/session"
)

// TickInterval is the loop's readiness-wait period, per spec.md §5.
const TickInterval = 100 * time.Millisecond

// RefreshInterval governs how often the engine rescans the directory
// tree for new/removed files; append detection (ProcessStatQueue/
// ScanNewData) still runs every tick - only the full Refresh is throttled,
// since a directory walk is the one operation here whose cost scales with
// tree size rather than watched-file count.
const RefreshInterval = 1 * time.Second

// Download is a one-shot catch-up transfer, per spec.md §3.
type Download struct {
	Session cmn.SessionID
	RelPath string
	Cursor  int64
}

// Engine owns every piece of mutable server state - the redesign target
// of spec.md §9 ("gather them into an Engine value... no hidden
// globals"). Exactly one goroutine (Run's loop) ever mutates it.
type Engine struct {
	Cfg      *cmn.Config
	Tracker  *filetrack.Tracker
	Listener net.Listener
	Stop     *cmn.StopCh

	sessions  map[cmn.SessionID]*session.Session
	downloads []*Download

	nextRefreshAt time.Time

	// Stat counters only the loop goroutine writes; the housekeeper
	// goroutine reads them for the periodic diagnostic dump
	// (SPEC_FULL.md §12), so they must be atomics rather than fields
	// read directly off e.sessions/e.Tracker from a foreign goroutine.
	statFilesWatched  atomic.Int64
	statSessionCount  atomic.Int64
	statBytesInFlight atomic.Int64
}

func New(cfg *cmn.Config) (*Engine, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("server: listen :%d: %w", cfg.Port, err)
	}
	e := &Engine{
		Cfg:      cfg,
		Tracker:  filetrack.New(cfg.Dir, cfg.Include, cfg.Checksums),
		Listener: ln,
		Stop:     cmn.NewStopCh(),
		sessions: make(map[cmn.SessionID]*session.Session),
	}
	if cfg.Verbosity >= 2 {
		housekeep.Reg("server-stats", e.dumpStats, 5*time.Second)
	}
	return e, nil
}

// refreshStats updates the atomics dumpStats reads; called once per Tick
// from the loop goroutine, so every write here is safely ordered with
// respect to the engine's own state.
func (e *Engine) refreshStats() {
	e.statFilesWatched.Store(int64(len(e.Tracker.AllPaths())))
	e.statSessionCount.Store(int64(len(e.sessions)))
	var bytesInFlight int64
	for _, s := range e.sessions {
		bytesInFlight += int64(s.Write.Len())
	}
	e.statBytesInFlight.Store(bytesInFlight)
}

// dumpStats runs on the housekeeper's own goroutine - it may only read
// the atomics above, never e.sessions/e.Tracker directly.
func (e *Engine) dumpStats() time.Duration {
	glog.Infof("server stats: files=%d sessions=%d bytes_in_flight=%s",
		e.statFilesWatched.Load(), e.statSessionCount.Load(), cmn.B2S(e.statBytesInFlight.Load(), 1))
	return 5 * time.Second
}

// Run drives the cooperative loop until Stop is closed.
func (e *Engine) Run() error {
	defer e.Listener.Close()
	defer housekeep.Unreg("server-stats")

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.Stop.Listen():
			glog.Infof("server: shutdown requested")
			return nil
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Tick runs exactly one iteration of the loop, in the order spec.md §4.5
// implies: accept, refresh/stat, service existing connections, feed
// downloads, push list changes, fan out appends.
func (e *Engine) Tick(now time.Time) {
	e.acceptNew()

	if now.After(e.nextRefreshAt) {
		if err := e.Tracker.Refresh(); err != nil {
			glog.Errorf("server: refresh: %v", err)
		}
		e.nextRefreshAt = now.Add(RefreshInterval)
	}
	e.Tracker.ProcessStatQueue()

	e.serviceSessions()
	e.pumpDownloads()
	e.pushOnChange()
	e.fanOutAppends(now)
	e.refreshStats()
}

func (e *Engine) acceptNew() {
	if err := e.Listener.(*net.TCPListener).SetDeadline(time.Now().Add(1 * time.Millisecond)); err != nil {
		glog.Warningf("server: set accept deadline: %v", err)
		return
	}
	conn, err := e.Listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		glog.Warningf("server: accept: %v", err)
		return
	}
	id := session.NewID()
	s := session.New(id, conn)
	e.sessions[id] = s
	glog.Infof("server: session %d connected from %s", id, conn.RemoteAddr())
}

func (e *Engine) serviceSessions() {
	for id, s := range e.sessions {
		s.Conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
		if s.ReadSpace() >= 10*filetrack.BlockSize {
			n, err := s.Drain()
			if err != nil && !isTimeout(err) && n == 0 {
				e.dropSession(id, err)
				continue
			}
		}
		for {
			hdr, payload, ok, err := s.NextFrame()
			if err != nil {
				glog.Errorf("server: session %d: %v", id, err)
				e.dropSession(id, err)
				break
			}
			if !ok {
				break
			}
			if glog.V(4) {
				glog.Infof("server: session %d: %s %s", id, hdr.Cmd, hdr.F)
			}
			e.handleRequest(s, hdr, payload)
		}
		if _, err := s.Flush(); err != nil && !isTimeout(err) {
			e.dropSession(id, err)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (e *Engine) dropSession(id cmn.SessionID, err error) {
	s, ok := e.sessions[id]
	if !ok {
		return
	}
	glog.Infof("server: session %d disconnected: %v", id, err)
	s.Close()
	delete(e.sessions, id)
	e.Tracker.RemoveSubscriber(id)
	kept := e.downloads[:0]
	for _, d := range e.downloads {
		if d.Session != id {
			kept = append(kept, d)
		}
	}
	e.downloads = kept
}

// handleRequest implements spec.md §4.5's verb dispatch.
func (e *Engine) handleRequest(s *session.Session, hdr proto.Header, _ []byte) {
	switch hdr.Cmd {
	case proto.CmdList:
		e.replyList(s)
	case proto.CmdStream:
		e.handleStream(s, hdr)
	case proto.CmdBlock:
		// Reserved and unimplemented (spec.md §4.5); SPEC_FULL.md §13
		// resolves the Open Question as a consistent synchronous failure
		// rather than a silent drop.
		st := proto.StFail
		s.SendFrame(proto.Header{P: proto.PktStatus, St: &st}, nil)
	default:
		st := proto.StFail
		msg := []byte("unknown command")
		s.SendFrame(proto.Header{P: proto.PktStatus, St: &st, S: proto.WithOffset(int64(len(msg)))}, msg)
	}
}

func (e *Engine) replyList(s *session.Session) {
	list := e.Tracker.GenerateList(false)
	payload := proto.EncodeList(list)
	st := proto.StComplete
	hdr := proto.Header{P: proto.PktFullList, St: &st, S: proto.WithOffset(int64(len(payload)))}
	s.SendFrame(hdr, payload)
}

func (e *Engine) handleStream(s *session.Session, hdr proto.Header) {
	if hdr.F == "" {
		st := proto.StFail
		s.SendFrame(proto.Header{P: proto.PktStatus, St: &st}, nil)
		return
	}
	if _, ok := e.Tracker.Get(hdr.F); !ok {
		st := proto.StFail
		s.SendFrame(proto.Header{P: proto.PktStatus, F: hdr.F, St: &st}, nil)
		return
	}
	e.downloads = append(e.downloads, &Download{Session: s.ID, RelPath: hdr.F, Cursor: hdr.Offset()})
	st := proto.StInProgress
	s.SendFrame(proto.Header{P: proto.PktStatus, F: hdr.F, St: &st}, nil)
}
