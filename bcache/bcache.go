/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Jan 14 09:12:33 2018 mstenber
 * Last modified: Thu Feb 14 13:20:40 2019 mstenber
 * Edit time:     88 min
 *
 */

// bcache is fixed-capacity write-back cache of filesystem sectors.
//
// Replacement is strictly FIFO by insertion time; hits do not
// refresh the position. Evicted entry is always written back to the
// device before its slot is reused.
//
// There is single lock (Locked/Lock/Unlock) which callers must hold
// across every other call; the cache does not lock internally.
package bcache

import (
	"log"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
)

const DefaultCapacity = 64

type Entry struct {
	sector device.Sector
	dirty  bool
	data   [device.SectorSize]byte
}

func (self *Entry) Sector() device.Sector {
	return self.sector
}

func (self *Entry) IsDirty() bool {
	return self.dirty
}

type Stats struct {
	Hits, Misses, WriteBacks int64
}

type Cache struct {
	dev      device.BlockDevice
	capacity int
	entries  map[device.Sector]*Entry

	// queue is in insertion order; queue[0] is next to go
	queue []device.Sector

	lock                     util.MutexLocked
	hits, misses, writeBacks util.AtomicInt
}

func New(dev device.BlockDevice, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	self := &Cache{dev: dev, capacity: capacity}
	self.entries = make(map[device.Sector]*Entry, capacity)
	self.queue = make([]device.Sector, 0, capacity)
	return self
}

func (self *Cache) Lock() {
	self.lock.Lock()
}

func (self *Cache) Unlock() {
	self.lock.Unlock()
}

func (self *Cache) Locked() func() {
	return self.lock.Locked()
}

func (self *Cache) Capacity() int {
	return self.capacity
}

// Len returns the current occupancy.
func (self *Cache) Len() int {
	return len(self.entries)
}

func (self *Cache) Stats() Stats {
	return Stats{Hits: self.hits.Get(), Misses: self.misses.Get(),
		WriteBacks: self.writeBacks.Get()}
}

// Find returns the resident entry of the sector, if any.
func (self *Cache) Find(sector device.Sector) (e *Entry, found bool) {
	e, found = self.entries[sector]
	if found {
		self.hits.Inc()
	} else {
		self.misses.Inc()
	}
	return
}

func (self *Cache) writeBack(e *Entry) {
	mlog.Printf2("bcache/bcache", "writeBack %d", e.sector)
	if err := self.dev.WriteSector(e.sector, e.data[:]); err != nil {
		log.Panicf("bcache: write of sector %d failed: %v", e.sector, err)
	}
	e.dirty = false
	self.writeBacks.Inc()
}

// Insert reads the sector into the cache. If the cache is full, the
// oldest entry is written back and dropped first. Inserting resident
// sector is a bug.
func (self *Cache) Insert(sector device.Sector) *Entry {
	if _, found := self.entries[sector]; found {
		log.Panicf("bcache: sector %d already resident", sector)
	}
	var e *Entry
	if len(self.entries) >= self.capacity {
		victim := self.queue[0]
		self.queue = self.queue[1:]
		e = self.entries[victim]
		delete(self.entries, victim)
		mlog.Printf2("bcache/bcache", "Insert %d evicting %d", sector, victim)
		self.writeBack(e)
	} else {
		mlog.Printf2("bcache/bcache", "Insert %d", sector)
		e = &Entry{}
	}
	e.sector = sector
	e.dirty = false
	if err := self.dev.ReadSector(sector, e.data[:]); err != nil {
		log.Panicf("bcache: read of sector %d failed: %v", sector, err)
	}
	self.entries[sector] = e
	self.queue = append(self.queue, sector)
	return e
}

// Get is Find, followed by Insert if the sector is not resident.
func (self *Cache) Get(sector device.Sector) *Entry {
	e, found := self.Find(sector)
	if !found {
		e = self.Insert(sector)
	}
	return e
}

// Read copies from the entry starting at sectorOfs to dst, and
// returns the number of bytes copied.
func (self *Cache) Read(e *Entry, dst []byte, sectorOfs int) int {
	return copy(dst, e.data[sectorOfs:])
}

// Write copies src to the entry starting at sectorOfs and marks it
// dirty. Returns the number of bytes copied.
func (self *Cache) Write(e *Entry, src []byte, sectorOfs int) int {
	e.dirty = true
	return copy(e.data[sectorOfs:], src)
}

// Delete writes back the sector if it is resident and dirty, and
// then drops it.
func (self *Cache) Delete(sector device.Sector) {
	e, found := self.entries[sector]
	if !found {
		return
	}
	mlog.Printf2("bcache/bcache", "Delete %d", sector)
	if e.dirty {
		self.writeBack(e)
	}
	delete(self.entries, sector)
	for i, s := range self.queue {
		if s == sector {
			self.queue = append(self.queue[:i], self.queue[i+1:]...)
			break
		}
	}
}

// Flush writes back every dirty entry, keeping them resident.
func (self *Cache) Flush() {
	mlog.Printf2("bcache/bcache", "Flush")
	for _, s := range self.queue {
		if e := self.entries[s]; e.dirty {
			self.writeBack(e)
		}
	}
}

// Close writes back every entry and empties the cache.
func (self *Cache) Close() {
	mlog.Printf2("bcache/bcache", "Close")
	for _, s := range self.queue {
		self.writeBack(self.entries[s])
	}
	self.entries = make(map[device.Sector]*Entry, self.capacity)
	self.queue = self.queue[:0]
}
