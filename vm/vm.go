/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan 22 08:31:07 2018 mstenber
 * Last modified: Fri Feb 15 12:20:51 2019 mstenber
 * Edit time:     84 min
 *
 */

// vm package ties the frame table, swap and per-process page tables
// together: page faults, stack growth, eviction, mmap and process
// exit.
//
// Single allocation lock serializes everything that claims, evicts
// or installs frames, system-wide. The pager (eviction write-out) is
// always called with it held.
package vm

import (
	"log"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/frame"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/page"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/swap"
	"github.com/fingon/go-pvm/util"
)

type Stats struct {
	Faults, StackPages, SwapIns, FileLoads, Prefetches, PageOuts, WriteBacks int64
}

type VM struct {
	Pool   *palloc.Pool
	Frames *frame.Table
	Swap   *swap.Swap

	// lock is the allocation lock
	lock util.MutexLocked

	processes     map[pagedir.Tid]*Process
	processesLock util.MutexLocked

	faults, stackPages, swapIns, fileLoads util.AtomicInt
	prefetches, pageOuts, writeBacks       util.AtomicInt
}

var _ frame.Pager = &VM{}

func New(pool *palloc.Pool, frames *frame.Table, sw *swap.Swap) *VM {
	return &VM{Pool: pool, Frames: frames, Swap: sw,
		processes: make(map[pagedir.Tid]*Process)}
}

// NewProcess registers new process with an empty address space.
func (self *VM) NewProcess(tid pagedir.Tid) *Process {
	defer self.processesLock.Locked()()
	if _, found := self.processes[tid]; found {
		log.Panicf("vm: duplicate process %d", tid)
	}
	p := &Process{vm: self, Tid: tid, Dir: pagedir.New(),
		Pages: page.New(tid), esp: pagedir.PhysBase}
	self.processes[tid] = p
	mlog.Printf2("vm/vm", "NewProcess %d", tid)
	return p
}

func (self *VM) Process(tid pagedir.Tid) (*Process, bool) {
	defer self.processesLock.Locked()()
	p, found := self.processes[tid]
	return p, found
}

func (self *VM) Processes() int {
	defer self.processesLock.Locked()()
	return len(self.processes)
}

// PageOut writes out the evicted frame of owner's upage: anonymous
// pages go to swap, file pages back to their file if they were
// written to. The entry becomes swapped and unmapped.
func (self *VM) PageOut(owner pagedir.Tid, upage uintptr, f palloc.Frame) {
	p, found := self.Process(owner)
	if !found {
		log.Panicf("vm: evicting page %x of unknown process %d", upage, owner)
	}
	e, found := p.Pages.Lookup(upage)
	if !found {
		log.Panicf("vm: no supplemental entry for evicted %d:%x", owner, upage)
	}
	mlog.Printf2("vm/vm", "PageOut %d:%x frame %d", owner, upage, f)
	self.pageOuts.Inc()
	var sectors []device.Sector
	switch b := e.Backing.(type) {
	case *page.Anonymous:
		sectors = self.Swap.Out(self.Pool.Bytes(f))
	case *page.FileBacked:
		if e.Writable && p.Dir.IsDirty(upage) {
			self.writeBack(b, f)
		}
	}
	p.Pages.GetEvicted(e, p.Dir, sectors)
}

func (self *VM) writeBack(b *page.FileBacked, f palloc.Frame) {
	mlog.Printf2("vm/vm", " writeBack idx:%d %d bytes", b.PageIndex, b.ValidBytes)
	self.writeBacks.Inc()
	b.File.WriteAt(self.Pool.Bytes(f)[:b.ValidBytes], b.PageIndex*palloc.PageSize)
}

func (self *VM) Stats() Stats {
	return Stats{Faults: self.faults.Get(), StackPages: self.stackPages.Get(),
		SwapIns: self.swapIns.Get(), FileLoads: self.fileLoads.Get(),
		Prefetches: self.prefetches.Get(), PageOuts: self.pageOuts.Get(),
		WriteBacks: self.writeBacks.Get()}
}
