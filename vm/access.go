/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Jan 23 12:01:17 2018 mstenber
 * Last modified: Fri Feb 15 13:48:09 2019 mstenber
 * Edit time:     22 min
 *
 */

package vm

import (
	"github.com/fingon/go-pvm/pagedir"
)

// access copies between buf and user memory at addr, page by page,
// faulting pages in as the MMU would. Returns false on invalid
// access; the part before it has been copied.
func (self *Process) access(addr uintptr, buf []byte, write bool) bool {
	v := self.vm
	defer v.lock.Locked()()
	done := 0
	for done < len(buf) {
		a := addr + uintptr(done)
		if a < addr || !pagedir.IsUserAddress(a) {
			return false
		}
		upage := pagedir.PgRoundDown(a)
		f, mapped := self.Dir.Lookup(upage)
		if !mapped {
			if !self.fault(a, write, self.esp) {
				return false
			}
			continue
		}
		if write && !self.Dir.Writable(upage) {
			return false
		}
		mem := v.Pool.Bytes(f)[pagedir.PgOfs(a):]
		var n int
		if write {
			n = copy(mem, buf[done:])
			self.Dir.SetDirty(upage, true)
		} else {
			n = copy(buf[done:], mem)
		}
		self.Dir.SetAccessed(upage, true)
		done += n
	}
	return true
}

// Read copies user memory at addr to buf.
func (self *Process) Read(addr uintptr, buf []byte) bool {
	return self.access(addr, buf, false)
}

// Write copies buf to user memory at addr.
func (self *Process) Write(addr uintptr, buf []byte) bool {
	return self.access(addr, buf, true)
}

