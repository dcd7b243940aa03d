package cmn

// SessionID is a stable per-connection identifier shared across the
// session, filetrack, server, and client packages so that subscriber
// sets and downloads can key on an integer rather than holding a
// pointer into a table one of them doesn't own.
type SessionID int64
