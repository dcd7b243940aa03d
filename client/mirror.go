// Package client implements the target-side convergence engine of
// spec.md §4.6: reconnect/backoff per source, LIST/STREAM scheduling,
// list reconciliation, block append, and resumable cross-restart offsets.
package client

// StreamState mirrors spec.md §3's mirror-entry lifecycle. It is distinct
// from proto's wire-level stream-state codes (which only ever carry
// IN_PROGRESS/COMPLETE/FAIL) because the mirror also needs a
// not-yet-requested resting state that never appears on the wire.
type StreamState int

const (
	NotRequested StreamState = iota
	Requested
	InProgress
	Complete
	Fail
)

func (s StreamState) String() string {
	switch s {
	case NotRequested:
		return "NOT_REQUESTED"
	case Requested:
		return "REQUESTED"
	case InProgress:
		return "IN_PROGRESS"
	case Complete:
		return "COMPLETE"
	case Fail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MirrorEntry is the target-side record for one (source, relative_path)
// pair, per spec.md §3.
type MirrorEntry struct {
	Size        int64
	StreamState StreamState
	Hash        string // advisory, compared against the server's digest
}
