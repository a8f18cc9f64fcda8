/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan 20 10:11:52 2018 mstenber
 * Last modified: Fri Feb 15 09:40:28 2019 mstenber
 * Edit time:     36 min
 *
 */

// swap manages the sectors of the swap device. Used sectors are kept
// in ascending order, and new pages go to the lowest run of free
// sectors large enough for them.
package swap

import (
	"log"
	"sort"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
)

const SectorsPerPage = palloc.PageSize / device.SectorSize

type Stats struct {
	Used, Outs, Ins int64
}

type Swap struct {
	dev  device.BlockDevice
	used []device.Sector

	lock      util.MutexLocked
	outs, ins util.AtomicInt
}

func New(dev device.BlockDevice) *Swap {
	mlog.Printf2("swap/swap", "New %d sectors", dev.SectorCount())
	return &Swap{dev: dev}
}

// findFree returns the lowest sector starting n free sectors, or
// NoSector.
func (self *Swap) findFree(n int) device.Sector {
	candidate := device.Sector(0)
	for _, s := range self.used {
		if s >= candidate+device.Sector(n) {
			break
		}
		if s >= candidate {
			candidate = s + 1
		}
	}
	if int(candidate)+n > int(self.dev.SectorCount()) {
		return device.NoSector
	}
	return candidate
}

func (self *Swap) FindFree(n int) device.Sector {
	defer self.lock.Locked()()
	return self.findFree(n)
}

func (self *Swap) insert(s device.Sector) {
	i := sort.Search(len(self.used), func(i int) bool { return self.used[i] >= s })
	self.used = append(self.used, 0)
	copy(self.used[i+1:], self.used[i:])
	self.used[i] = s
}

func (self *Swap) remove(s device.Sector) {
	i := sort.Search(len(self.used), func(i int) bool { return self.used[i] >= s })
	if i < len(self.used) && self.used[i] == s {
		self.used = append(self.used[:i], self.used[i+1:]...)
	}
}

// Out writes the page to swap, and returns the sectors holding it.
// Running out of swap is fatal.
func (self *Swap) Out(page []byte) []device.Sector {
	n := util.DivRoundUp(len(page), device.SectorSize)
	defer self.lock.Locked()()
	start := self.findFree(n)
	if start == device.NoSector {
		log.Panicf("swap: out of swap space (%d used)", len(self.used))
	}
	sectors := make([]device.Sector, n)
	for i := range sectors {
		s := start + device.Sector(i)
		sectors[i] = s
		self.insert(s)
		if err := self.dev.WriteSector(s, page[i*device.SectorSize:(i+1)*device.SectorSize]); err != nil {
			log.Panicf("swap: write of sector %d failed: %v", s, err)
		}
	}
	self.outs.Inc()
	mlog.Printf2("swap/swap", "Out -> %d+%d", start, n)
	return sectors
}

// In reads the sectors back into the page, and frees them.
func (self *Swap) In(sectors []device.Sector, page []byte) {
	defer self.lock.Locked()()
	mlog.Printf2("swap/swap", "In %v", sectors)
	for i, s := range sectors {
		if err := self.dev.ReadSector(s, page[i*device.SectorSize:(i+1)*device.SectorSize]); err != nil {
			log.Panicf("swap: read of sector %d failed: %v", s, err)
		}
		self.remove(s)
	}
	self.ins.Inc()
}

// Remove frees the sector; freeing free sector is no-op.
func (self *Swap) Remove(s device.Sector) {
	defer self.lock.Locked()()
	self.remove(s)
}

// Release frees sectors without reading them.
func (self *Swap) Release(sectors []device.Sector) {
	defer self.lock.Locked()()
	for _, s := range sectors {
		self.remove(s)
	}
}

// Used returns the number of sectors in use.
func (self *Swap) Used() int {
	defer self.lock.Locked()()
	return len(self.used)
}

func (self *Swap) Stats() Stats {
	return Stats{Used: int64(self.Used()), Outs: self.outs.Get(),
		Ins: self.ins.Get()}
}

func (self *Swap) Close() error {
	return self.dev.Close()
}
