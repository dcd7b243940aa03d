// Package housekeep runs named callbacks on a self-renewing schedule: each
// callback returns the delay until it should run again, so a callback can
// slow itself down when idle and speed back up when busy.
//
// Adapted from a registered-cleanup-callbacks-on-an-adaptive-interval
// housekeeper. Its one user here is the `-v`-gated periodic engine-stats
// dump (SPEC_FULL.md §12); the server's adaptive append-poll backoff
// (`next_scan_at`) is computed inline by `filetrack` and registers
// nothing here.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package housekeep

import (
	"container/heap"
	"sync"
	"time"

	"github.com/edwiny/rstream/cmn"
)

// Func is a housekeeping callback. Its return value is the delay before it
// runs again.
type Func func() time.Duration

type item struct {
	name string
	f    Func
	due  time.Time
	idx  int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx = i; h[j].idx = j }
func (h *itemHeap) Push(x interface{}) { it := x.(*item); it.idx = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.idx = -1
	*h = old[:n-1]
	return it
}

type cleaner struct {
	mu      sync.Mutex
	h       itemHeap
	byName  map[string]*item
	wake    chan struct{}
	stopped *cmn.StopCh
}

var (
	gmu sync.Mutex
	gc  *cleaner
)

func init() { initCleaner() }

// initCleaner (re)starts the global housekeeper. Called from init and
// again by tests, which need a fresh scheduler per example.
func initCleaner() {
	gmu.Lock()
	defer gmu.Unlock()
	if gc != nil {
		gc.stopped.Close()
	}
	c := &cleaner{
		byName:  make(map[string]*item, 16),
		wake:    make(chan struct{}, 1),
		stopped: cmn.NewStopCh(),
	}
	gc = c
	go c.run()
}

func (c *cleaner) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *cleaner) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		c.mu.Lock()
		var delay time.Duration
		if len(c.h) == 0 {
			delay = time.Hour
		} else {
			delay = time.Until(c.h[0].due)
			if delay < 0 {
				delay = 0
			}
		}
		c.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case <-c.stopped.Listen():
			return
		case <-c.wake:
			continue
		case <-timer.C:
			c.fireDue()
		}
	}
}

func (c *cleaner) fireDue() {
	now := time.Now()
	for {
		c.mu.Lock()
		if len(c.h) == 0 || c.h[0].due.After(now) {
			c.mu.Unlock()
			return
		}
		it := heap.Pop(&c.h).(*item)
		c.mu.Unlock()

		dur := it.f()

		c.mu.Lock()
		if cur, live := c.byName[it.name]; live && cur == it {
			it.due = now.Add(dur)
			heap.Push(&c.h, it)
			c.byName[it.name] = it
		}
		c.mu.Unlock()
	}
}

// Reg registers name to run f immediately (or after initial[0] if given),
// and thereafter after whatever delay f itself last returned. Re-registering
// an existing name replaces it.
func Reg(name string, f Func, initial ...time.Duration) {
	gmu.Lock()
	c := gc
	gmu.Unlock()

	due := time.Now()
	if len(initial) > 0 {
		due = due.Add(initial[0])
	}
	it := &item{name: name, f: f, due: due}

	c.mu.Lock()
	if old, ok := c.byName[name]; ok && old.idx >= 0 {
		heap.Remove(&c.h, old.idx)
	}
	heap.Push(&c.h, it)
	c.byName[name] = it
	c.mu.Unlock()
	c.notify()
}

// Unreg removes name; its callback will not fire again.
func Unreg(name string) {
	gmu.Lock()
	c := gc
	gmu.Unlock()

	c.mu.Lock()
	if it, ok := c.byName[name]; ok {
		delete(c.byName, name)
		if it.idx >= 0 {
			heap.Remove(&c.h, it.idx)
		}
	}
	c.mu.Unlock()
	c.notify()
}
