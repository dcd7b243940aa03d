package cmn

import "sync"

// StopCh is a close-once broadcast signal: Listen() returns a channel that
// closes exactly once, the first time Close() is called. Safe to call
// Close() multiple times or from multiple goroutines.
type StopCh struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *StopCh) IsClosed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
