// Package cmn provides small low-level types and utilities shared by every
// rstream package: assertions, a stop-channel primitive, and byte-size
// formatting.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics if cond is false. Reserved for invariant violations that
// indicate a programming error (e.g. read_cursor advancing past size) -
// never for recoverable I/O or protocol errors, which are returned as
// plain `error` values instead.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is Assert with a formatted explanation attached to the panic.
func AssertMsg(cond bool, format string, args ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// AssertNoErr panics if err is non-nil. Used only where the caller has
// already established (via its own logic, not via I/O) that err must be
// nil - e.g. closing a buffer this package owns exclusively.
func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %v", err))
	}
}
