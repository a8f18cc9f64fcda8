/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Jan 23 10:12:50 2018 mstenber
 * Last modified: Fri Feb 15 13:30:44 2019 mstenber
 * Edit time:     41 min
 *
 */

package vm

import (
	"github.com/fingon/go-pvm/file"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/page"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
)

// Mmap maps the whole file at addr. Pages are loaded lazily. The
// mapping keeps its own reference to the file. Fails if addr is zero
// or unaligned, the file is empty, or the range overlaps anything
// known or the stack area.
func (self *Process) Mmap(f *file.File, addr uintptr) (page.Mapping, bool) {
	if f == nil || addr == 0 || pagedir.PgOfs(addr) != 0 {
		return page.NoMapping, false
	}
	length := f.Length()
	if length == 0 {
		return page.NoMapping, false
	}
	pages := util.DivRoundUp(length, palloc.PageSize)
	end := addr + uintptr(pages)*palloc.PageSize
	if end < addr || end > pagedir.PhysBase-StackLimit {
		return page.NoMapping, false
	}
	defer self.vm.lock.Locked()()
	if self.exited {
		return page.NoMapping, false
	}
	for pg := addr; pg < end; pg += palloc.PageSize {
		if _, found := self.Pages.Lookup(pg); found {
			return page.NoMapping, false
		}
		if _, mapped := self.Dir.Lookup(pg); mapped {
			return page.NoMapping, false
		}
	}
	m := self.Pages.NewMapping()
	rf := f.Reopen()
	for i := 0; i < pages; i++ {
		valid := util.IMin(palloc.PageSize, length-i*palloc.PageSize)
		self.Pages.MmapInsert(addr+uintptr(i)*palloc.PageSize, true, rf, m, i, valid)
	}
	mlog.Printf2("vm/mmap", "Mmap %d:%x #%d %d pages", self.Tid, addr, m, pages)
	return m, true
}

// Munmap writes back the dirty resident pages of the mapping, and
// forgets it. Returns false for unknown mapping.
func (self *Process) Munmap(m page.Mapping) bool {
	defer self.vm.lock.Locked()()
	return self.munmap(m)
}

func (self *Process) munmap(m page.Mapping) bool {
	v := self.vm
	var f *file.File
	n := self.Pages.Unmap(m, func(e *page.Entry) {
		fb := e.Backing.(*page.FileBacked)
		f = fb.File
		if e.State != page.Resident {
			return
		}
		if self.Dir.IsDirty(e.Upage) {
			v.writeBack(fb, e.Frame)
		}
		v.Frames.RemoveEntry(self.Tid, e.Upage)
		self.Dir.ClearMapping(e.Upage)
		v.Pool.FreeFrame(e.Frame)
	})
	mlog.Printf2("vm/mmap", "Munmap %d:#%d %d pages", self.Tid, m, n)
	f.Close()
	return n > 0
}
