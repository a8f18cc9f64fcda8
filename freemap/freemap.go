/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan 13 10:02:14 2018 mstenber
 * Last modified: Thu Feb 14 11:58:02 2019 mstenber
 * Edit time:     47 min
 *
 */

// freemap is the free-space bitmap of the filesystem device. One bit
// per sector, set bit means used.
//
// On disk, sector 0 contains header (magic + sector count), and the
// bitmap itself follows it in as many sectors as needed. Those
// sectors are marked used by Format.
package freemap

import (
	"encoding/binary"
	"log"
	"math/bits"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
	"github.com/pkg/errors"
)

const magic = 0x464d4150 // FMAP

const HeaderSector = device.Sector(0)

type FreeMap struct {
	bits  []uint64
	count device.Sector
	free  int
	lock  util.MutexLocked
}

// New returns empty (all free) map of count sectors.
func New(count device.Sector) *FreeMap {
	self := &FreeMap{count: count, free: int(count)}
	self.bits = make([]uint64, util.DivRoundUp(int(count), 64))
	return self
}

// ReservedSectors returns number of sectors at the start of the
// device that the map itself occupies.
func (self *FreeMap) ReservedSectors() int {
	return 1 + util.DivRoundUp(len(self.bits)*8, device.SectorSize)
}

// Format returns new map for the device, with its own sectors
// marked used.
func Format(dev device.BlockDevice) *FreeMap {
	self := New(dev.SectorCount())
	self.Mark(HeaderSector, self.ReservedSectors())
	return self
}

func (self *FreeMap) isUsed(s device.Sector) bool {
	return self.bits[s/64]&(1<<(s%64)) != 0
}

func (self *FreeMap) set(s device.Sector, used bool) {
	if used {
		self.bits[s/64] |= 1 << (s % 64)
		self.free--
	} else {
		self.bits[s/64] &^= 1 << (s % 64)
		self.free++
	}
}

// Allocate finds the first run of count free sectors, marks them
// used and returns the first one.
func (self *FreeMap) Allocate(count int) (device.Sector, bool) {
	defer self.lock.Locked()()
	if count <= 0 || count > self.free {
		return device.NoSector, false
	}
	run := 0
	for s := device.Sector(0); s < self.count; s++ {
		// Skip over full words quickly
		if run == 0 && s%64 == 0 && self.bits[s/64] == ^uint64(0) {
			s += 63
			continue
		}
		if self.isUsed(s) {
			run = 0
			continue
		}
		run++
		if run == count {
			start := s + 1 - device.Sector(count)
			for i := start; i <= s; i++ {
				self.set(i, true)
			}
			mlog.Printf2("freemap/freemap", "Allocate %d -> %d", count, start)
			return start, true
		}
	}
	return device.NoSector, false
}

// Release marks count sectors starting at s free. They must be in
// use.
func (self *FreeMap) Release(s device.Sector, count int) {
	defer self.lock.Locked()()
	mlog.Printf2("freemap/freemap", "Release %d +%d", s, count)
	for i := 0; i < count; i++ {
		if !self.isUsed(s + device.Sector(i)) {
			log.Panicf("freemap: release of free sector %d", s+device.Sector(i))
		}
		self.set(s+device.Sector(i), false)
	}
}

// Mark marks count sectors starting at s used (whatever their
// previous state).
func (self *FreeMap) Mark(s device.Sector, count int) {
	defer self.lock.Locked()()
	for i := 0; i < count; i++ {
		if !self.isUsed(s + device.Sector(i)) {
			self.set(s+device.Sector(i), true)
		}
	}
}

func (self *FreeMap) IsUsed(s device.Sector) bool {
	defer self.lock.Locked()()
	return self.isUsed(s)
}

// Free returns number of free sectors.
func (self *FreeMap) Free() int {
	defer self.lock.Locked()()
	return self.free
}

// Flush writes the map to the start of the device.
func (self *FreeMap) Flush(dev device.BlockDevice) error {
	defer self.lock.Locked()()
	buf := make([]byte, device.SectorSize)
	binary.LittleEndian.PutUint32(buf, magic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(self.count))
	if err := dev.WriteSector(HeaderSector, buf); err != nil {
		return err
	}
	raw := make([]byte, (self.ReservedSectors()-1)*device.SectorSize)
	for i, w := range self.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], w)
	}
	for i := 0; i < len(raw)/device.SectorSize; i++ {
		chunk := raw[i*device.SectorSize : (i+1)*device.SectorSize]
		if err := dev.WriteSector(HeaderSector+1+device.Sector(i), chunk); err != nil {
			return err
		}
	}
	mlog.Printf2("freemap/freemap", "Flush %d free", self.free)
	return nil
}

// Load reads the map written by Flush from the device.
func Load(dev device.BlockDevice) (*FreeMap, error) {
	buf := make([]byte, device.SectorSize)
	if err := dev.ReadSector(HeaderSector, buf); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(buf) != magic {
		return nil, errors.New("freemap: bad magic (not formatted?)")
	}
	count := device.Sector(binary.LittleEndian.Uint32(buf[4:]))
	if count != dev.SectorCount() {
		return nil, errors.Errorf("freemap: stored count %d != device %d", count, dev.SectorCount())
	}
	self := New(count)
	self.free = 0
	for i := 0; i < self.ReservedSectors()-1; i++ {
		if err := dev.ReadSector(HeaderSector+1+device.Sector(i), buf); err != nil {
			return nil, err
		}
		for j := 0; j < device.SectorSize/8; j++ {
			wi := i*device.SectorSize/8 + j
			if wi >= len(self.bits) {
				break
			}
			self.bits[wi] = binary.LittleEndian.Uint64(buf[j*8:])
			self.free += 64 - bits.OnesCount64(self.bits[wi])
		}
	}
	// Last word may be partial
	self.free -= len(self.bits)*64 - int(count)
	return self, nil
}
