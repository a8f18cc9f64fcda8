/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 18 08:20:19 2018 mstenber
 * Last modified: Thu Feb 14 17:45:30 2019 mstenber
 * Edit time:     21 min
 *
 */

// palloc is the user pool of physical frames. The 'physical memory'
// is one contiguous byte slice, and frames are indexes to it.
package palloc

import (
	"log"
	"math"

	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift

	// KernelBase is where the pool is mapped in kernel virtual
	// address space.
	KernelBase = uintptr(0xc0000000)
)

// Frame describes a physical memory page index.
type Frame uint32

// InvalidFrame is returned when no frame is available.
const InvalidFrame = Frame(math.MaxUint32)

func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

type Pool struct {
	memory []byte
	used   []bool
	free   int
	lock   util.MutexLocked
}

func NewPool(count int) *Pool {
	mlog.Printf2("palloc/palloc", "NewPool %d frames", count)
	return &Pool{memory: make([]byte, count*PageSize),
		used: make([]bool, count), free: count}
}

func (self *Pool) Count() int {
	return len(self.used)
}

func (self *Pool) Free() int {
	defer self.lock.Locked()()
	return self.free
}

// Base returns the kernel virtual address of frame 0.
func (self *Pool) Base() uintptr {
	return KernelBase
}

// GetFrame returns the lowest free frame, zeroed if asked to.
func (self *Pool) GetFrame(zero bool) (Frame, bool) {
	defer self.lock.Locked()()
	if self.free == 0 {
		return InvalidFrame, false
	}
	for i, used := range self.used {
		if used {
			continue
		}
		self.used[i] = true
		self.free--
		f := Frame(i)
		if zero {
			b := self.bytes(f)
			for j := range b {
				b[j] = 0
			}
		}
		mlog.Printf2("palloc/palloc", "GetFrame %d", f)
		return f, true
	}
	log.Panicf("palloc: free count %d but no free frame", self.free)
	return InvalidFrame, false
}

// FreeFrame returns the frame to the pool.
func (self *Pool) FreeFrame(f Frame) {
	defer self.lock.Locked()()
	if !f.Valid() || int(f) >= len(self.used) || !self.used[f] {
		log.Panicf("palloc: free of unallocated frame %d", f)
	}
	mlog.Printf2("palloc/palloc", "FreeFrame %d", f)
	self.used[f] = false
	self.free++
}

func (self *Pool) bytes(f Frame) []byte {
	ofs := int(f) * PageSize
	return self.memory[ofs : ofs+PageSize : ofs+PageSize]
}

// Bytes returns the memory of the frame.
func (self *Pool) Bytes(f Frame) []byte {
	if !f.Valid() || int(f) >= len(self.used) {
		log.Panicf("palloc: invalid frame %d", f)
	}
	return self.bytes(f)
}
