/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan 22 09:40:26 2018 mstenber
 * Last modified: Fri Feb 15 13:02:17 2019 mstenber
 * Edit time:     97 min
 *
 */

package vm

import (
	"log"

	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/page"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
)

const (
	// StackLimit is the maximum size of the stack below PhysBase.
	StackLimit = 8 << 20

	// StackSlack is how far below the stack pointer accesses may
	// still grow the stack (PUSHA).
	StackSlack = 32

	// PrefetchPages is the maximum number of following file pages
	// loaded along a file page fault.
	PrefetchPages = 4
)

type Process struct {
	vm    *VM
	Tid   pagedir.Tid
	Dir   *pagedir.Directory
	Pages *page.Table

	// esp is the user stack pointer used for faults taken on
	// behalf of the process in Read and Write.
	esp    uintptr
	exited bool
}

// SetStackPointer records the user stack pointer.
func (self *Process) SetStackPointer(esp uintptr) {
	defer self.vm.lock.Locked()()
	self.esp = esp
}

func (self *Process) install(e *page.Entry, f palloc.Frame) {
	if !self.Pages.SwapIn(e, f, self.Dir) {
		log.Panicf("vm: %d:%x already mapped", self.Tid, e.Upage)
	}
	if !self.vm.Frames.SetEntry(self.Tid, e.Upage, f) {
		log.Panicf("vm: frame %d already claimed", f)
	}
}

// load fills the frame with the content of swapped entry.
func (self *Process) load(e *page.Entry, f palloc.Frame) {
	bytes := self.vm.Pool.Bytes(f)
	switch b := e.Backing.(type) {
	case *page.Anonymous:
		sectors := self.Pages.SwapSectors(e)
		if len(sectors) == 0 {
			log.Panicf("vm: swapped page %d:%x has no swap", self.Tid, e.Upage)
		}
		self.vm.Swap.In(sectors, bytes)
		self.vm.swapIns.Inc()
	case *page.FileBacked:
		n := b.File.ReadAt(bytes[:b.ValidBytes], b.PageIndex*palloc.PageSize)
		for i := n; i < len(bytes); i++ {
			bytes[i] = 0
		}
		self.vm.fileLoads.Inc()
	}
	self.install(e, f)
}

// prefetch loads following swapped pages of the same mapping, as
// long as free frames exist.
func (self *Process) prefetch(e *page.Entry) {
	m := e.Backing.(*page.FileBacked).Mapping
	upage := e.Upage
	for i := 0; i < PrefetchPages; i++ {
		upage += palloc.PageSize
		ne, found := self.Pages.Lookup(upage)
		if !found || ne.State != page.Swapped {
			return
		}
		fb, ok := ne.Backing.(*page.FileBacked)
		if !ok || fb.Mapping != m {
			return
		}
		f, ok := self.vm.Frames.TryObtain(false)
		if !ok {
			return
		}
		mlog.Printf2("vm/process", " prefetch %d:%x", self.Tid, upage)
		self.load(ne, f)
		self.vm.prefetches.Inc()
	}
}

// growStack claims zeroed frames for every page from upage up to the
// next page that is already known.
func (self *Process) growStack(upage uintptr) {
	for pg := upage; pg < pagedir.PhysBase; pg += palloc.PageSize {
		if _, mapped := self.Dir.Lookup(pg); mapped {
			return
		}
		if _, found := self.Pages.Lookup(pg); found {
			return
		}
		f := self.vm.Frames.Obtain(self.vm, true)
		if _, mapped := self.Dir.Lookup(pg); mapped {
			log.Panicf("vm: stack page %d:%x mapped during growth", self.Tid, pg)
		}
		if !self.Dir.SetMapping(pg, f, true) {
			log.Panicf("vm: stack page %d:%x set mapping failed", self.Tid, pg)
		}
		if _, ok := self.Pages.Insert(pg, true, f); !ok {
			log.Panicf("vm: stack page %d:%x already known", self.Tid, pg)
		}
		if !self.vm.Frames.SetEntry(self.Tid, pg, f) {
			log.Panicf("vm: frame %d already claimed", f)
		}
		self.vm.stackPages.Inc()
		mlog.Printf2("vm/process", " stack page %d:%x -> %d", self.Tid, pg, f)
	}
}

// IsStackAccess tells if addr is plausible stack access given esp.
func IsStackAccess(addr, esp uintptr) bool {
	if addr < pagedir.PhysBase-StackLimit || addr >= pagedir.PhysBase {
		return false
	}
	return esp < StackSlack || addr >= esp-StackSlack
}

// Fault handles not-present fault at addr. Returns false if the
// access is invalid (the process should be killed).
func (self *Process) Fault(addr uintptr, write bool, esp uintptr) bool {
	defer self.vm.lock.Locked()()
	return self.fault(addr, write, esp)
}

func (self *Process) fault(addr uintptr, write bool, esp uintptr) bool {
	mlog.Printf2("vm/process", "Fault %d:%x w:%v esp:%x", self.Tid, addr, write, esp)
	self.vm.faults.Inc()
	if self.exited || addr == 0 || !pagedir.IsUserAddress(addr) {
		return false
	}
	upage := pagedir.PgRoundDown(addr)
	if _, mapped := self.Dir.Lookup(upage); mapped {
		// Present; i.e. protection violation
		return false
	}
	e, found := self.Pages.Lookup(upage)
	if found {
		if write && !e.Writable {
			return false
		}
		if e.State != page.Swapped {
			log.Panicf("vm: resident page %d:%x not mapped", self.Tid, upage)
		}
		f := self.vm.Frames.Obtain(self.vm, false)
		self.load(e, f)
		if !e.IsAnonymous() {
			self.prefetch(e)
		}
		return true
	}
	if !IsStackAccess(addr, esp) {
		return false
	}
	self.growStack(upage)
	return true
}

// Exit tears the address space down: mappings are written back and
// unmapped, frames go back to the pool without write back, and swap
// sectors are released.
func (self *Process) Exit() {
	v := self.vm
	defer v.lock.Locked()()
	if self.exited {
		return
	}
	mlog.Printf2("vm/process", "Exit %d", self.Tid)
	for _, m := range self.Pages.Mappings() {
		self.munmap(m)
	}
	for _, f := range v.Frames.RemoveAll(self.Tid) {
		v.Pool.FreeFrame(f)
	}
	for _, e := range self.Pages.Entries() {
		if e.State == page.Swapped {
			v.Swap.Release(self.Pages.SwapSectors(e))
		} else {
			self.Dir.ClearMapping(e.Upage)
		}
		self.Pages.Remove(e.Upage)
	}
	self.exited = true
	func() {
		defer v.processesLock.Locked()()
		delete(v.processes, self.Tid)
	}()
}

// Resident returns the number of pages of the process in frames.
func (self *Process) Resident() int {
	return len(self.Dir.Mappings())
}
