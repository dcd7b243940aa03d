package client

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/filetrack"
	"github.com/edwiny/rstream/housekeep"
	"github.com/edwiny/rstream/proto"
	"github.com/edwiny/rstream/resume"
	"github.com/edwiny/rstream/session"
)

// TickInterval matches the server's readiness-wait period (spec.md §5).
const TickInterval = 100 * time.Millisecond

// ReconnectBackoff is the fixed reconnect delay of spec.md §5.
const ReconnectBackoff = 5 * time.Second

// MaxConcurrentDownloads is the design constant of spec.md §4.6/§5: at
// most one outstanding STREAM request across every source at a time.
const MaxConcurrentDownloads = 1

// NetworkBlock sizes the read-buffer headroom check before issuing new
// STREAM requests (§4.6: "read-buffer space >= 10x network-block").
const NetworkBlock = filetrack.BlockSize

// SourceConn is the per-source connection state of spec.md §4.6.
type SourceConn struct {
	Host             string
	Session          *session.Session
	NextReconnectAt  time.Time
	ListReceivedOnce bool
}

// Engine owns every piece of client-side mutable state - sources,
// mirror, and the resume store - per spec.md §9's "no hidden globals"
// redesign target. One goroutine (Run's loop) ever touches it.
type Engine struct {
	Cfg    *cmn.Config
	Resume resume.Store
	Stop   *cmn.StopCh

	sources map[string]*SourceConn             // keyed strictly by source name, per §9's bug fix
	mirror  map[string]map[string]*MirrorEntry // source -> relative path -> entry

	downloadsInFlight int

	// Read by the housekeeper goroutine's dumpStats; written only from
	// the loop goroutine, so these are atomics rather than plain fields
	// (see the matching note in server.Engine). len(e.sources) itself is
	// safe to read from either goroutine since the map's key set is
	// fixed at construction and never mutated afterward.
	statConnected        atomic.Int64
	statDownloadsInFlight atomic.Int64
}

func New(cfg *cmn.Config, store resume.Store) (*Engine, error) {
	e := &Engine{
		Cfg:     cfg,
		Resume:  store,
		Stop:    cmn.NewStopCh(),
		sources: make(map[string]*SourceConn),
		mirror:  make(map[string]map[string]*MirrorEntry),
	}
	for _, host := range cfg.Sources {
		e.sources[host] = &SourceConn{Host: host}
		if err := e.loadLocalMirror(host); err != nil {
			return nil, fmt.Errorf("client: scan mirror for %s: %w", host, err)
		}
	}
	if cfg.Verbosity >= 2 {
		housekeep.Reg("client-stats", e.dumpStats, 5*time.Second)
	}
	return e, nil
}

// loadLocalMirror implements spec.md §4.6 Startup: enumerate a source's
// cached subdirectory and seed the mirror from what's already on disk,
// deferring hashes to the next list update.
func (e *Engine) loadLocalMirror(host string) error {
	root := filepath.Join(e.Cfg.Dir, host)
	entries := make(map[string]*MirrorEntry)
	e.mirror[host] = entries

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			glog.Warningf("client: %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		entries[rel] = &MirrorEntry{Size: info.Size(), StreamState: NotRequested}
		return nil
	})
}

// refreshStats snapshots loop-owned state into the atomics dumpStats
// reads; called once per Tick from the loop goroutine.
func (e *Engine) refreshStats() {
	var connected int64
	for _, sc := range e.sources {
		if sc.Session != nil {
			connected++
		}
	}
	e.statConnected.Store(connected)
	e.statDownloadsInFlight.Store(int64(e.downloadsInFlight))
}

// dumpStats runs on the housekeeper's own goroutine - it may only read
// the atomics above and the immutable e.sources key set, never
// sc.Session or e.downloadsInFlight directly. e.Resume is safe to call
// from here too: bbolt serializes its own transactions internally, so
// this doesn't need the loop goroutine's cooperation.
func (e *Engine) dumpStats() time.Duration {
	glog.Infof("client stats: sources=%d connected=%d in_flight_downloads=%d",
		len(e.sources), e.statConnected.Load(), e.statDownloadsInFlight.Load())
	if e.Cfg.Verbosity >= 3 {
		if b, err := e.dumpResumeJSON(); err != nil {
			glog.Warningf("client: dump resume store: %v", err)
		} else {
			glog.Infof("client resume store: %s", b)
		}
	}
	return 5 * time.Second
}

// dumpResumeJSON type-asserts down to BoltStore's diagnostic dump, since
// the Store interface itself only commits to the reconciliation-facing
// methods (SPEC_FULL.md §12's diagnostic tier, reached at -v 3).
func (e *Engine) dumpResumeJSON() ([]byte, error) {
	bs, ok := e.Resume.(*resume.BoltStore)
	if !ok {
		return nil, fmt.Errorf("client: resume store does not support JSON dump")
	}
	return bs.DumpJSON()
}

func (e *Engine) Run() error {
	defer housekeep.Unreg("client-stats")

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.Stop.Listen():
			glog.Infof("client: shutdown requested")
			for _, sc := range e.sources {
				if sc.Session != nil {
					sc.Session.Close()
				}
			}
			return nil
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Tick runs one iteration: maintain connections, service existing
// sessions (reading/dispatching/flushing), then schedule new STREAM
// requests within the global concurrency limit.
func (e *Engine) Tick(now time.Time) {
	e.maintainConnections(now)
	e.serviceSessions()
	e.scheduleDownloads()
	e.refreshStats()
}

func (e *Engine) maintainConnections(now time.Time) {
	for _, sc := range e.sources {
		if sc.Session != nil || now.Before(sc.NextReconnectAt) {
			continue
		}
		addr := fmt.Sprintf("%s:%d", sc.Host, e.Cfg.Port)
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			glog.Infof("client: connect %s: %v", addr, err)
			sc.NextReconnectAt = now.Add(ReconnectBackoff)
			continue
		}
		id := session.NewID()
		sc.Session = session.New(id, conn)
		sc.Session.Source = sc.Host
		sc.ListReceivedOnce = false
		sc.Session.SendFrame(proto.Header{Cmd: proto.CmdList}, nil)
		glog.Infof("client: connected to %s", addr)
	}
}

func (e *Engine) serviceSessions() {
	for _, sc := range e.sources {
		s := sc.Session
		if s == nil {
			continue
		}
		s.Conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
		if s.ReadSpace() >= 10*NetworkBlock {
			n, err := s.Drain()
			if err != nil && !isTimeout(err) && n == 0 {
				e.disconnect(sc, err)
				continue
			}
		}
		for {
			hdr, payload, ok, err := s.NextFrame()
			if err != nil {
				e.disconnect(sc, err)
				break
			}
			if !ok {
				break
			}
			if glog.V(4) {
				glog.Infof("client: %s: packet %q for %s", sc.Host, hdr.P, hdr.F)
			}
			e.dispatch(sc, hdr, payload)
		}
		if sc.Session == nil {
			continue
		}
		if _, err := s.Flush(); err != nil && !isTimeout(err) {
			e.disconnect(sc, err)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// disconnect implements spec.md §4.6 Disconnect, keyed strictly by source
// name per the §9 bug fix (never by socket or any derived key).
func (e *Engine) disconnect(sc *SourceConn, err error) {
	glog.Infof("client: %s disconnected: %v", sc.Host, err)
	sc.Session.Close()
	sc.Session = nil
	sc.ListReceivedOnce = false
	for _, entry := range e.mirror[sc.Host] {
		if entry.StreamState == Requested || entry.StreamState == InProgress {
			entry.StreamState = NotRequested
			e.downloadsInFlight--
		}
	}
	sc.NextReconnectAt = time.Now().Add(ReconnectBackoff)
}
