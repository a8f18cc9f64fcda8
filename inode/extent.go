/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan 15 10:12:40 2018 mstenber
 * Last modified: Thu Feb 14 14:40:21 2019 mstenber
 * Edit time:     71 min
 *
 */

package inode

import (
	"encoding/binary"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
)

var zeroSector [device.SectorSize]byte

func (self *Table) readSector(s device.Sector, dst []byte, ofs int) {
	defer self.cache.Locked()()
	self.cache.Read(self.cache.Get(s), dst, ofs)
}

func (self *Table) writeSector(s device.Sector, src []byte, ofs int) {
	defer self.cache.Locked()()
	self.cache.Write(self.cache.Get(s), src, ofs)
}

func (self *Table) readPointer(block device.Sector, idx int) device.Sector {
	var b [4]byte
	self.readSector(block, b[:], idx*4)
	return device.Sector(binary.LittleEndian.Uint32(b[:]))
}

func (self *Table) writePointer(block device.Sector, idx int, s device.Sector) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(s))
	self.writeSector(block, b[:], idx*4)
}

// allocateZeroed takes single sector from the free map, and zeroes
// it.
func (self *Table) allocateZeroed() (device.Sector, bool) {
	s, ok := self.freeMap.Allocate(1)
	if !ok {
		return device.NoSector, false
	}
	self.writeSector(s, zeroSector[:], 0)
	return s, true
}

// sectorAt returns the idx'th data sector of the inode; idx must be
// below the allocated count.
func (self *Table) sectorAt(d *diskInode, idx int) device.Sector {
	switch {
	case idx < DirectCount:
		return device.Sector(d.Sectors[idx])
	case idx < DirectCount+indirectSectors:
		j := idx - DirectCount
		return self.readPointer(device.Sector(d.Sectors[indirectBase+j/PointersPerSector]), j%PointersPerSector)
	default:
		j := idx - DirectCount - indirectSectors
		l1 := self.readPointer(device.Sector(d.Sectors[doubleSlot]), j/PointersPerSector)
		return self.readPointer(l1, j%PointersPerSector)
	}
}

// appendSector adds s as the next data sector of the inode,
// allocating indirect blocks as needed.
func (self *Table) appendSector(d *diskInode, s device.Sector) bool {
	idx := d.allocated()
	switch {
	case idx < DirectCount:
		d.Sectors[idx] = uint32(s)
		d.Direct++
	case idx < DirectCount+indirectSectors:
		j := idx - DirectCount
		slot := indirectBase + j/PointersPerSector
		if j%PointersPerSector == 0 {
			b, ok := self.allocateZeroed()
			if !ok {
				return false
			}
			d.Sectors[slot] = uint32(b)
		}
		self.writePointer(device.Sector(d.Sectors[slot]), j%PointersPerSector, s)
		d.Indirect++
	case idx < MaxSectors:
		j := idx - DirectCount - indirectSectors
		if j == 0 {
			b, ok := self.allocateZeroed()
			if !ok {
				return false
			}
			d.Sectors[doubleSlot] = uint32(b)
		}
		double := device.Sector(d.Sectors[doubleSlot])
		if j%PointersPerSector == 0 {
			b, ok := self.allocateZeroed()
			if !ok {
				if j == 0 {
					// Uncounted until the first data sector lands
					self.freeMap.Release(double, 1)
					d.Sectors[doubleSlot] = 0
				}
				return false
			}
			self.writePointer(double, j/PointersPerSector, b)
		}
		l1 := self.readPointer(double, j/PointersPerSector)
		self.writePointer(l1, j%PointersPerSector, s)
		d.DoubleIndirect++
	default:
		return false
	}
	return true
}

// grow allocates zeroed data sectors until the inode has count of
// them. On failure, whatever was allocated so far stays allocated.
func (self *Table) grow(d *diskInode, count int) bool {
	if count > MaxSectors {
		return false
	}
	for d.allocated() < count {
		s, ok := self.allocateZeroed()
		if !ok {
			mlog.Printf2("inode/extent", "grow out of space at %d/%d", d.allocated(), count)
			return false
		}
		if !self.appendSector(d, s) {
			self.freeMap.Release(s, 1)
			return false
		}
	}
	return true
}

// releaseAll returns every data sector and index block of the inode
// to the free map: direct ones, then each indirect block and its
// entries, and finally the double indirect tree.
func (self *Table) releaseAll(d *diskInode) {
	mlog.Printf2("inode/extent", "releaseAll %d sectors", d.allocated())
	for i := 0; i < int(d.Direct); i++ {
		self.freeMap.Release(device.Sector(d.Sectors[i]), 1)
	}
	left := int(d.Indirect)
	for slot := indirectBase; left > 0; slot++ {
		block := device.Sector(d.Sectors[slot])
		for i := 0; i < PointersPerSector && left > 0; i++ {
			self.freeMap.Release(self.readPointer(block, i), 1)
			left--
		}
		self.freeMap.Release(block, 1)
	}
	left = int(d.DoubleIndirect)
	if left == 0 {
		return
	}
	double := device.Sector(d.Sectors[doubleSlot])
	for j := 0; left > 0; j++ {
		l1 := self.readPointer(double, j)
		for i := 0; i < PointersPerSector && left > 0; i++ {
			self.freeMap.Release(self.readPointer(l1, i), 1)
			left--
		}
		self.freeMap.Release(l1, 1)
	}
	self.freeMap.Release(double, 1)
}
