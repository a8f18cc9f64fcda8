/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan 15 08:12:02 2018 mstenber
 * Last modified: Thu Feb 14 15:32:18 2019 mstenber
 * Edit time:     142 min
 *
 */

// inode package implements the indexed file layout on top of the
// buffer cache: 16 direct pointers, 4 indirect blocks and one double
// indirect block per inode, files growing on write, and removal that
// is deferred until the last opener closes the inode.
//
// All data goes through the buffer cache; the cache lock is taken
// per sector.
package inode

import (
	"log"

	"github.com/fingon/go-pvm/bcache"
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/freemap"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
)

// Table is the set of open inodes, at most one Inode per sector.
type Table struct {
	cache   *bcache.Cache
	freeMap *freemap.FreeMap
	open    map[device.Sector]*Inode
	lock    util.MutexLocked
}

func NewTable(cache *bcache.Cache, freeMap *freemap.FreeMap) *Table {
	return &Table{cache: cache, freeMap: freeMap,
		open: make(map[device.Sector]*Inode)}
}

// Len returns the number of open inodes.
func (self *Table) Len() int {
	defer self.lock.Locked()()
	return len(self.open)
}

type Inode struct {
	table  *Table
	sector device.Sector

	// Protected by table lock
	openCount      int
	removed        bool
	denyWriteCount int

	// lock protects disk; it is held across whole reads and writes
	lock util.MutexLocked
	disk diskInode
}

func (self *Table) writeInode(s device.Sector, d *diskInode) {
	self.writeSector(s, d.encode(), 0)
}

// Create initializes inode of length bytes at sector, allocating
// zeroed data sectors for the whole length. Returns false if the
// length is too large or disk space runs out; sectors allocated
// before running out are not given back.
func (self *Table) Create(sector device.Sector, length int, isDir bool, parent device.Sector) bool {
	mlog.Printf2("inode/inode", "Create %d len:%d dir:%v parent:%d", sector, length, isDir, parent)
	if length < 0 || length > MaxLength {
		return false
	}
	d := diskInode{Length: int32(length), Magic: Magic, Parent: uint32(parent)}
	if isDir {
		d.IsDir = 1
	}
	if !self.grow(&d, util.DivRoundUp(length, device.SectorSize)) {
		return false
	}
	self.writeInode(sector, &d)
	return true
}

// Open returns the inode at sector. If it is already open, the same
// Inode is returned with its open count incremented.
func (self *Table) Open(sector device.Sector) *Inode {
	defer self.lock.Locked()()
	if inode, found := self.open[sector]; found {
		inode.openCount++
		mlog.Printf2("inode/inode", "Open %d -> %d openers", sector, inode.openCount)
		return inode
	}
	inode := &Inode{table: self, sector: sector, openCount: 1}
	buf := make([]byte, device.SectorSize)
	self.readSector(sector, buf, 0)
	inode.disk.decode(buf)
	if inode.disk.Magic != Magic {
		log.Panicf("inode: bad magic %x at sector %d", inode.disk.Magic, sector)
	}
	self.open[sector] = inode
	mlog.Printf2("inode/inode", "Open %d (new)", sector)
	return inode
}

// Reopen increments the open count of an already open inode.
func (self *Inode) Reopen() *Inode {
	if self == nil {
		return nil
	}
	defer self.table.lock.Locked()()
	self.openCount++
	return self
}

// Close writes the inode back, and drops the reference. Last close
// removes it from the open table, and if it was removed, releases
// its sectors.
func (self *Inode) Close() {
	if self == nil {
		return
	}
	t := self.table
	defer t.lock.Locked()()
	self.lock.Lock()
	t.writeInode(self.sector, &self.disk)
	self.lock.Unlock()
	self.openCount--
	mlog.Printf2("inode/inode", "Close %d -> %d openers", self.sector, self.openCount)
	if self.openCount > 0 {
		return
	}
	delete(t.open, self.sector)
	if self.removed {
		t.releaseAll(&self.disk)
		t.freeMap.Release(self.sector, 1)
	}
}

// Remove marks the inode to be deleted when last opener closes it.
func (self *Inode) Remove() {
	defer self.table.lock.Locked()()
	mlog.Printf2("inode/inode", "Remove %d", self.sector)
	self.removed = true
}

func (self *Inode) byteToSector(pos int) device.Sector {
	if pos < 0 || pos >= int(self.disk.Length) {
		return device.NoSector
	}
	return self.table.sectorAt(&self.disk, pos/device.SectorSize)
}

// ByteToSector returns the device sector containing byte offset
// pos, or NoSector if pos is not below the length.
func (self *Inode) ByteToSector(pos int) device.Sector {
	defer self.lock.Locked()()
	return self.byteToSector(pos)
}

// ReadAt reads into buf starting at offset, and returns the number
// of bytes read; it is short when end of file is reached.
func (self *Inode) ReadAt(buf []byte, offset int) int {
	defer self.lock.Locked()()
	read := 0
	for read < len(buf) {
		pos := offset + read
		s := self.byteToSector(pos)
		if s == device.NoSector {
			break
		}
		sectorOfs := pos % device.SectorSize
		chunk := util.IMin(len(buf)-read, int(self.disk.Length)-pos,
			device.SectorSize-sectorOfs)
		self.table.readSector(s, buf[read:read+chunk], sectorOfs)
		read += chunk
	}
	return read
}

// WriteAt writes buf at offset, growing the file if needed, and
// returns the number of bytes written. Nothing is written while
// writes are denied. Short write occurs if the maximum length is
// reached or disk runs out of space.
func (self *Inode) WriteAt(buf []byte, offset int) int {
	t := self.table
	t.lock.Lock()
	self.lock.Lock()
	denied := self.denyWriteCount > 0
	t.lock.Unlock()
	defer self.lock.Unlock()
	if denied {
		return 0
	}
	d := &self.disk
	end := util.IMin(offset+len(buf), MaxLength)
	if offset < 0 || offset >= end {
		return 0
	}
	if end > int(d.Length) {
		mlog.Printf2("inode/inode", "WriteAt %d extending %d -> %d", self.sector, d.Length, end)
		allocated := d.allocated()
		if !t.grow(d, util.DivRoundUp(end, device.SectorSize)) {
			end = util.IMin(end, d.allocated()*device.SectorSize)
			if end <= offset {
				if d.allocated() != allocated {
					t.writeInode(self.sector, d)
				}
				return 0
			}
		}
	}
	written := 0
	for offset+written < end {
		pos := offset + written
		s := t.sectorAt(d, pos/device.SectorSize)
		sectorOfs := pos % device.SectorSize
		chunk := util.IMin(end-pos, device.SectorSize-sectorOfs)
		t.writeSector(s, buf[written:written+chunk], sectorOfs)
		written += chunk
	}
	if written > 0 && offset+written > int(d.Length) {
		d.Length = int32(offset + written)
		t.writeInode(self.sector, d)
	}
	return written
}

func (self *Inode) IsWriteDenied() bool {
	defer self.table.lock.Locked()()
	return self.denyWriteCount > 0
}

// DenyWrite disables writes; may be called at most once per opener.
// A write in progress completes first.
func (self *Inode) DenyWrite() {
	defer self.table.lock.Locked()()
	defer self.lock.Locked()()
	self.denyWriteCount++
	if self.denyWriteCount > self.openCount {
		log.Panicf("inode: %d deny writes > %d openers", self.denyWriteCount, self.openCount)
	}
}

// AllowWrite re-enables writes; must be called once by each opener
// that called DenyWrite, before closing.
func (self *Inode) AllowWrite() {
	defer self.table.lock.Locked()()
	if self.denyWriteCount <= 0 {
		log.Panicf("inode: AllowWrite without DenyWrite")
	}
	self.denyWriteCount--
}

func (self *Inode) Length() int {
	defer self.lock.Locked()()
	return int(self.disk.Length)
}

func (self *Inode) IsDir() bool {
	defer self.lock.Locked()()
	return self.disk.IsDir != 0
}

func (self *Inode) Parent() device.Sector {
	defer self.lock.Locked()()
	return device.Sector(self.disk.Parent)
}

// Inumber is the sector of the inode.
func (self *Inode) Inumber() device.Sector {
	return self.sector
}

func (self *Inode) IsRemoved() bool {
	defer self.table.lock.Locked()()
	return self.removed
}

func (self *Inode) OpenCount() int {
	defer self.table.lock.Locked()()
	return self.openCount
}

// AllocatedSectors returns the number of data sectors (excluding
// index blocks).
func (self *Inode) AllocatedSectors() int {
	defer self.lock.Locked()()
	return self.disk.allocated()
}
