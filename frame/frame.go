/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan 19 10:02:37 2018 mstenber
 * Last modified: Fri Feb 15 08:44:12 2019 mstenber
 * Edit time:     58 min
 *
 */

// frame package keeps track of which user page each frame of the
// user pool holds, and picks eviction victims in the order frames
// were claimed (FIFO).
package frame

import (
	"log"

	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
)

// Pager writes out the content of an evicted frame, and updates the
// owner's bookkeeping so that the page faults back in later.
type Pager interface {
	PageOut(owner pagedir.Tid, upage uintptr, frame palloc.Frame)
}

type entry struct {
	inUse bool
	owner pagedir.Tid
	upage uintptr
}

type Stats struct {
	Claimed, Evictions int64
}

type Table struct {
	pool    *palloc.Pool
	entries []entry

	// queue has claimed frames in claim order
	queue []palloc.Frame

	lock      util.MutexLocked
	evictions util.AtomicInt
}

// New creates table for at most limit frames of the pool.
func New(pool *palloc.Pool, limit int) *Table {
	n := pool.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	mlog.Printf2("frame/frame", "New %d entries", n)
	return &Table{pool: pool, entries: make([]entry, n)}
}

// SetEntry records that owner's upage is in the frame. Returns false
// if the frame is already claimed, or out of range, or upage is not
// page aligned.
func (self *Table) SetEntry(owner pagedir.Tid, upage uintptr, frame palloc.Frame) bool {
	if pagedir.PgOfs(upage) != 0 {
		mlog.Printf2("frame/frame", "SetEntry unaligned upage %x", upage)
		return false
	}
	defer self.lock.Locked()()
	if int(frame) >= len(self.entries) {
		return false
	}
	e := &self.entries[frame]
	if e.inUse {
		return false
	}
	mlog.Printf2("frame/frame", "SetEntry %d <- %d:%x", frame, owner, upage)
	*e = entry{inUse: true, owner: owner, upage: upage}
	self.queue = append(self.queue, frame)
	return true
}

// Evict frees the oldest claimed frame, after the pager has written
// its content out. If nothing is claimed, a frame is taken from the
// pool instead.
func (self *Table) Evict(pager Pager) palloc.Frame {
	self.lock.Lock()
	if len(self.queue) == 0 {
		self.lock.Unlock()
		f, ok := self.pool.GetFrame(false)
		if !ok {
			log.Panicf("frame: nothing to evict and pool empty")
		}
		return f
	}
	f := self.queue[0]
	self.queue = self.queue[1:]
	e := self.entries[f]
	self.entries[f].inUse = false
	self.lock.Unlock()

	mlog.Printf2("frame/frame", "Evict %d from %d:%x", f, e.owner, e.upage)
	pager.PageOut(e.owner, e.upage, f)
	self.evictions.Inc()
	return f
}

// TryObtain returns a free frame within the limit, without evicting
// anything.
func (self *Table) TryObtain(zero bool) (palloc.Frame, bool) {
	f, ok := self.pool.GetFrame(zero)
	if !ok {
		return palloc.InvalidFrame, false
	}
	if int(f) >= len(self.entries) {
		self.pool.FreeFrame(f)
		return palloc.InvalidFrame, false
	}
	return f, true
}

// Obtain returns a free frame, or failing that, evicts one.
func (self *Table) Obtain(pager Pager, zero bool) palloc.Frame {
	if f, ok := self.TryObtain(zero); ok {
		return f
	}
	f := self.Evict(pager)
	if zero {
		b := self.pool.Bytes(f)
		for i := range b {
			b[i] = 0
		}
	}
	return f
}

func (self *Table) removeLocked(f palloc.Frame) {
	self.entries[f].inUse = false
	for i, qf := range self.queue {
		if qf == f {
			self.queue = append(self.queue[:i], self.queue[i+1:]...)
			return
		}
	}
}

// RemoveEntry forgets owner's upage without writing anything back.
// Returns the frame it was in.
func (self *Table) RemoveEntry(owner pagedir.Tid, upage uintptr) (palloc.Frame, bool) {
	defer self.lock.Locked()()
	for _, f := range self.queue {
		e := self.entries[f]
		if e.owner == owner && e.upage == upage {
			mlog.Printf2("frame/frame", "RemoveEntry %d:%x (%d)", owner, upage, f)
			self.removeLocked(f)
			return f, true
		}
	}
	return palloc.InvalidFrame, false
}

// RemoveAll forgets every frame of the owner, and returns them.
func (self *Table) RemoveAll(owner pagedir.Tid) []palloc.Frame {
	defer self.lock.Locked()()
	var frames []palloc.Frame
	for _, f := range self.queue {
		if self.entries[f].owner == owner {
			frames = append(frames, f)
		}
	}
	for _, f := range frames {
		self.removeLocked(f)
	}
	mlog.Printf2("frame/frame", "RemoveAll %d: %d frames", owner, len(frames))
	return frames
}

// Lookup returns the owner of a claimed frame.
func (self *Table) Lookup(f palloc.Frame) (owner pagedir.Tid, upage uintptr, ok bool) {
	defer self.lock.Locked()()
	if int(f) >= len(self.entries) || !self.entries[f].inUse {
		return
	}
	e := self.entries[f]
	return e.owner, e.upage, true
}

// Claimed returns the number of claimed frames.
func (self *Table) Claimed() int {
	defer self.lock.Locked()()
	return len(self.queue)
}

// Limit returns the number of frames the table may hand out.
func (self *Table) Limit() int {
	return len(self.entries)
}

func (self *Table) Stats() Stats {
	return Stats{Claimed: int64(self.Claimed()), Evictions: self.evictions.Get()}
}
