/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Jan 21 09:20:33 2018 mstenber
 * Last modified: Fri Feb 15 10:44:02 2019 mstenber
 * Edit time:     71 min
 *
 */

// page is the supplemental page table of a process: for each user
// page the process may touch, where its content is when it is not
// in a frame.
//
// Anonymous pages (stack) go to swap when evicted; file backed pages
// (mmap) are written back to their file and re-read from it.
package page

import (
	"log"
	"sort"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/file"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
)

type State int

const (
	Resident State = iota
	Swapped
)

func (self State) String() string {
	if self == Resident {
		return "resident"
	}
	return "swapped"
}

// Mapping identifies single mmap of a process.
type Mapping int

const NoMapping = Mapping(-1)

// Backing is either *Anonymous or *FileBacked.
type Backing interface {
	isBacking()
}

type Anonymous struct {
	// Swap has the sectors of the page while it is swapped.
	Swap []device.Sector
}

type FileBacked struct {
	File      *file.File
	PageIndex int

	// ValidBytes is the number of bytes of the page that come
	// from the file; the rest is zero.
	ValidBytes int
	Mapping    Mapping
}

func (self *Anonymous) isBacking()  {}
func (self *FileBacked) isBacking() {}

type Entry struct {
	Upage    uintptr
	Owner    pagedir.Tid
	Writable bool
	State    State
	Backing  Backing

	// Frame is valid only while Resident
	Frame palloc.Frame
}

func (self *Entry) IsAnonymous() bool {
	_, ok := self.Backing.(*Anonymous)
	return ok
}

type Table struct {
	owner       pagedir.Tid
	entries     map[uintptr]*Entry
	nextMapping Mapping
	lock        util.MutexLocked
}

func New(owner pagedir.Tid) *Table {
	return &Table{owner: owner, entries: make(map[uintptr]*Entry)}
}

func checkUpage(upage uintptr) {
	if pagedir.PgOfs(upage) != 0 {
		log.Panicf("page: unaligned upage %x", upage)
	}
}

// Insert adds resident anonymous page. Returns false if upage is
// already known.
func (self *Table) Insert(upage uintptr, writable bool, frame palloc.Frame) (*Entry, bool) {
	checkUpage(upage)
	defer self.lock.Locked()()
	if _, found := self.entries[upage]; found {
		return nil, false
	}
	e := &Entry{Upage: upage, Owner: self.owner, Writable: writable,
		State: Resident, Backing: &Anonymous{}, Frame: frame}
	self.entries[upage] = e
	mlog.Printf2("page/page", "Insert %d:%x", self.owner, upage)
	return e, true
}

// NewMapping returns identifier for a new mmap of the process.
func (self *Table) NewMapping() Mapping {
	defer self.lock.Locked()()
	m := self.nextMapping
	self.nextMapping++
	return m
}

// MmapInsert adds not yet loaded page of a file mapping. Returns
// false if upage is already known.
func (self *Table) MmapInsert(upage uintptr, writable bool, f *file.File, mapping Mapping, pageIndex, validBytes int) bool {
	checkUpage(upage)
	defer self.lock.Locked()()
	if _, found := self.entries[upage]; found {
		return false
	}
	self.entries[upage] = &Entry{Upage: upage, Owner: self.owner,
		Writable: writable, State: Swapped,
		Backing: &FileBacked{File: f, PageIndex: pageIndex,
			ValidBytes: validBytes, Mapping: mapping},
		Frame: palloc.InvalidFrame}
	mlog.Printf2("page/page", "MmapInsert %d:%x #%d idx:%d valid:%d", self.owner, upage, mapping, pageIndex, validBytes)
	return true
}

func (self *Table) Lookup(upage uintptr) (*Entry, bool) {
	defer self.lock.Locked()()
	e, found := self.entries[pagedir.PgRoundDown(upage)]
	return e, found
}

// GetEvicted moves resident entry to swapped state, and unmaps it
// from the directory. sectors are where an anonymous page went.
func (self *Table) GetEvicted(e *Entry, dir *pagedir.Directory, sectors []device.Sector) {
	defer self.lock.Locked()()
	if e.State != Resident {
		log.Panicf("page: evicting %s page %d:%x", e.State, e.Owner, e.Upage)
	}
	mlog.Printf2("page/page", "GetEvicted %d:%x (frame %d)", e.Owner, e.Upage, e.Frame)
	if a, ok := e.Backing.(*Anonymous); ok {
		a.Swap = sectors
	}
	e.State = Swapped
	e.Frame = palloc.InvalidFrame
	dir.ClearMapping(e.Upage)
}

// SwapSectors returns the swap sectors of swapped anonymous page.
func (self *Table) SwapSectors(e *Entry) []device.Sector {
	defer self.lock.Locked()()
	if a, ok := e.Backing.(*Anonymous); ok {
		return a.Swap
	}
	return nil
}

// SwapIn marks the entry resident in the frame (whose content has
// already been filled in), and maps it in the directory.
func (self *Table) SwapIn(e *Entry, frame palloc.Frame, dir *pagedir.Directory) bool {
	defer self.lock.Locked()()
	if e.State != Swapped {
		log.Panicf("page: swapping in %s page %d:%x", e.State, e.Owner, e.Upage)
	}
	if !dir.SetMapping(e.Upage, frame, e.Writable) {
		return false
	}
	mlog.Printf2("page/page", "SwapIn %d:%x -> %d", e.Owner, e.Upage, frame)
	if a, ok := e.Backing.(*Anonymous); ok {
		a.Swap = nil
	}
	e.State = Resident
	e.Frame = frame
	return true
}

func (self *Table) sorted(filter func(e *Entry) bool) []*Entry {
	var entries []*Entry
	for _, e := range self.entries {
		if filter(e) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Upage < entries[j].Upage
	})
	return entries
}

// Mapping returns the entries of the mapping in address order.
func (self *Table) Mapping(m Mapping) []*Entry {
	defer self.lock.Locked()()
	return self.sorted(func(e *Entry) bool {
		fb, ok := e.Backing.(*FileBacked)
		return ok && fb.Mapping == m
	})
}

// Unmap removes the entries of the mapping; writeBack is called for
// each of them first, in address order. Returns the number of pages.
func (self *Table) Unmap(m Mapping, writeBack func(e *Entry)) int {
	entries := self.Mapping(m)
	for _, e := range entries {
		writeBack(e)
	}
	defer self.lock.Locked()()
	for _, e := range entries {
		delete(self.entries, e.Upage)
	}
	mlog.Printf2("page/page", "Unmap %d:#%d %d pages", self.owner, m, len(entries))
	return len(entries)
}

// Remove forgets the page.
func (self *Table) Remove(upage uintptr) (*Entry, bool) {
	defer self.lock.Locked()()
	e, found := self.entries[upage]
	if found {
		delete(self.entries, upage)
	}
	return e, found
}

// Entries returns all entries in address order.
func (self *Table) Entries() []*Entry {
	defer self.lock.Locked()()
	return self.sorted(func(e *Entry) bool { return true })
}

// Mappings returns the live mapping identifiers in ascending order.
func (self *Table) Mappings() []Mapping {
	defer self.lock.Locked()()
	seen := make(map[Mapping]bool)
	var ms []Mapping
	for _, e := range self.entries {
		if fb, ok := e.Backing.(*FileBacked); ok && !seen[fb.Mapping] {
			seen[fb.Mapping] = true
			ms = append(ms, fb.Mapping)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	return ms
}

func (self *Table) Len() int {
	defer self.lock.Locked()()
	return len(self.entries)
}
