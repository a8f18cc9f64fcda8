/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Jan 14 10:20:04 2018 mstenber
 * Last modified: Thu Feb 14 13:41:19 2019 mstenber
 * Edit time:     29 min
 *
 */

package bcache

import (
	"testing"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/inmemory"
	"github.com/stvp/assert"
)

type countingDevice struct {
	device.BlockDevice
	reads  int
	writes []device.Sector
}

func (self *countingDevice) ReadSector(s device.Sector, buf []byte) error {
	self.reads++
	return self.BlockDevice.ReadSector(s, buf)
}

func (self *countingDevice) WriteSector(s device.Sector, buf []byte) error {
	self.writes = append(self.writes, s)
	return self.BlockDevice.WriteSector(s, buf)
}

func newDevice(t *testing.T, count device.Sector) *countingDevice {
	dev, err := inmemory.NewInMemoryDevice(device.Configuration{SectorCount: count})
	assert.Nil(t, err)
	return &countingDevice{BlockDevice: dev}
}

func TestFindInsert(t *testing.T) {
	t.Parallel()
	dev := newDevice(t, 100)
	c := New(dev, 0)
	defer c.Locked()()
	assert.Equal(t, c.Capacity(), DefaultCapacity)

	_, found := c.Find(5)
	assert.False(t, found)
	e := c.Insert(5)
	assert.Equal(t, e.Sector(), device.Sector(5))
	assert.Equal(t, dev.reads, 1)
	e2, found := c.Find(5)
	assert.True(t, found)
	assert.True(t, e == e2)
	assert.Equal(t, c.Get(5), e)
	assert.Equal(t, dev.reads, 1)
	assert.Equal(t, c.Stats(), Stats{Hits: 2, Misses: 1})
}

func TestEvictionWritesBackOldest(t *testing.T) {
	t.Parallel()
	dev := newDevice(t, 100)
	c := New(dev, 64)
	defer c.Locked()()
	for i := 0; i < 64; i++ {
		c.Insert(device.Sector(i))
	}
	// Hits do not affect the FIFO order
	c.Find(0)
	assert.Equal(t, len(dev.writes), 0)
	c.Insert(64)
	assert.Equal(t, dev.writes, []device.Sector{0})
	assert.Equal(t, c.Len(), 64)
	_, found := c.Find(0)
	assert.False(t, found)
	_, found = c.Find(1)
	assert.True(t, found)
	assert.Equal(t, c.Stats().WriteBacks, int64(1))
}

func TestWriteBackContent(t *testing.T) {
	t.Parallel()
	dev := newDevice(t, 10)
	c := New(dev, 2)
	defer c.Locked()()
	e := c.Insert(3)
	assert.Equal(t, c.Write(e, []byte("hello"), 510), 2)
	assert.True(t, e.IsDirty())
	assert.Equal(t, c.Write(e, []byte("abc"), 1), 3)

	buf := make([]byte, 4)
	assert.Equal(t, c.Read(e, buf, 0), 4)
	assert.Equal(t, string(buf), "\x00abc")
	assert.Equal(t, c.Read(e, buf, 510), 2)

	// Device untouched until eviction
	raw := make([]byte, device.SectorSize)
	dev.BlockDevice.ReadSector(3, raw)
	assert.Equal(t, raw[1], byte(0))

	c.Insert(4)
	c.Insert(5)
	dev.BlockDevice.ReadSector(3, raw)
	assert.Equal(t, string(raw[1:4]), "abc")
	assert.Equal(t, string(raw[510:]), "he")

	// Re-read brings data back
	e = c.Insert(3)
	assert.Equal(t, c.Read(e, buf, 0), 4)
	assert.Equal(t, string(buf), "\x00abc")
}

func TestDeleteFlushClose(t *testing.T) {
	t.Parallel()
	dev := newDevice(t, 10)
	c := New(dev, 4)
	defer c.Locked()()
	e1 := c.Insert(1)
	c.Insert(2)
	e3 := c.Insert(3)
	c.Write(e1, []byte{1}, 0)
	c.Write(e3, []byte{3}, 0)

	c.Delete(2)
	assert.Equal(t, len(dev.writes), 0)
	assert.Equal(t, c.Len(), 2)
	c.Delete(1)
	assert.Equal(t, dev.writes, []device.Sector{1})
	c.Delete(7)

	c.Flush()
	assert.Equal(t, dev.writes, []device.Sector{1, 3})
	assert.False(t, e3.IsDirty())
	c.Flush()
	assert.Equal(t, len(dev.writes), 2)

	c.Insert(9)
	c.Close()
	assert.Equal(t, dev.writes, []device.Sector{1, 3, 3, 9})
	assert.Equal(t, c.Len(), 0)
}

func TestInsertResident(t *testing.T) {
	t.Parallel()
	dev := newDevice(t, 10)
	c := New(dev, 4)
	c.Insert(1)
	defer func() {
		assert.NotNil(t, recover())
	}()
	c.Insert(1)
}

func BenchmarkCache(b *testing.B) {
	dev, _ := inmemory.NewInMemoryDevice(device.Configuration{SectorCount: 1024})
	c := New(dev, 64)
	buf := make([]byte, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := c.Get(device.Sector(i % 96))
		c.Write(e, buf, 0)
	}
}
