/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 18 09:10:44 2018 mstenber
 * Last modified: Thu Feb 14 18:04:11 2019 mstenber
 * Edit time:     24 min
 *
 */

// pagedir is the simulated hardware page table of a process: user
// page -> frame, with writable, dirty and accessed bits.
package pagedir

import (
	"log"
	"sort"

	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
)

// PhysBase is the end of user virtual address space.
const PhysBase = uintptr(0xc0000000)

// Tid identifies the owning thread (process) of user pages.
type Tid int

// PgRoundDown returns the start of the page containing addr.
func PgRoundDown(addr uintptr) uintptr {
	return addr &^ (palloc.PageSize - 1)
}

// PgOfs returns the offset of addr within its page.
func PgOfs(addr uintptr) int {
	return int(addr & (palloc.PageSize - 1))
}

func IsUserAddress(addr uintptr) bool {
	return addr < PhysBase
}

type pte struct {
	frame                     palloc.Frame
	writable, dirty, accessed bool
}

type Directory struct {
	entries map[uintptr]*pte
	lock    util.MutexLocked
}

func New() *Directory {
	return &Directory{entries: make(map[uintptr]*pte)}
}

func checkUpage(upage uintptr) {
	if PgOfs(upage) != 0 || !IsUserAddress(upage) {
		log.Panicf("pagedir: invalid user page %x", upage)
	}
}

// SetMapping maps upage to the frame. Returns false if upage is
// already mapped.
func (self *Directory) SetMapping(upage uintptr, frame palloc.Frame, writable bool) bool {
	checkUpage(upage)
	defer self.lock.Locked()()
	if _, found := self.entries[upage]; found {
		return false
	}
	mlog.Printf2("pagedir/pagedir", "SetMapping %x -> %d w:%v", upage, frame, writable)
	self.entries[upage] = &pte{frame: frame, writable: writable}
	return true
}

// ClearMapping marks upage not present; later accesses fault.
func (self *Directory) ClearMapping(upage uintptr) {
	checkUpage(upage)
	defer self.lock.Locked()()
	mlog.Printf2("pagedir/pagedir", "ClearMapping %x", upage)
	delete(self.entries, upage)
}

func (self *Directory) Lookup(upage uintptr) (palloc.Frame, bool) {
	defer self.lock.Locked()()
	if e, found := self.entries[PgRoundDown(upage)]; found {
		return e.frame, true
	}
	return palloc.InvalidFrame, false
}

func (self *Directory) Writable(upage uintptr) bool {
	defer self.lock.Locked()()
	e, found := self.entries[PgRoundDown(upage)]
	return found && e.writable
}

func (self *Directory) IsDirty(upage uintptr) bool {
	defer self.lock.Locked()()
	e, found := self.entries[PgRoundDown(upage)]
	return found && e.dirty
}

func (self *Directory) SetDirty(upage uintptr, dirty bool) {
	defer self.lock.Locked()()
	if e, found := self.entries[PgRoundDown(upage)]; found {
		e.dirty = dirty
	}
}

func (self *Directory) IsAccessed(upage uintptr) bool {
	defer self.lock.Locked()()
	e, found := self.entries[PgRoundDown(upage)]
	return found && e.accessed
}

func (self *Directory) SetAccessed(upage uintptr, accessed bool) {
	defer self.lock.Locked()()
	if e, found := self.entries[PgRoundDown(upage)]; found {
		e.accessed = accessed
	}
}

// Mappings returns the mapped user pages in ascending order.
func (self *Directory) Mappings() []uintptr {
	defer self.lock.Locked()()
	pages := make([]uintptr, 0, len(self.entries))
	for k := range self.entries {
		pages = append(pages, k)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}
