/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Jan 16 09:01:44 2018 mstenber
 * Last modified: Thu Feb 14 16:20:37 2019 mstenber
 * Edit time:     64 min
 *
 */

package inode

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/fingon/go-pvm/bcache"
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/inmemory"
	"github.com/fingon/go-pvm/freemap"
	"github.com/fingon/go-pvm/util"
	"github.com/stvp/assert"
)

type fixture struct {
	dev   device.BlockDevice
	cache *bcache.Cache
	fm    *freemap.FreeMap
	table *Table
}

func newFixture(t testing.TB, count device.Sector) *fixture {
	dev, err := inmemory.NewInMemoryDevice(device.Configuration{SectorCount: count})
	if err != nil {
		t.Fatal(err)
	}
	fm := freemap.Format(dev)
	cache := bcache.New(dev, 0)
	return &fixture{dev: dev, cache: cache, fm: fm,
		table: NewTable(cache, fm)}
}

func (self *fixture) create(t testing.TB, length int) *Inode {
	s, ok := self.fm.Allocate(1)
	if !ok || !self.table.Create(s, length, false, 0) {
		t.Fatalf("create of %d bytes failed", length)
	}
	return self.table.Open(s)
}

func TestLayout(t *testing.T) {
	t.Parallel()
	d := diskInode{Length: 0x01020304, Magic: Magic, IsDir: 1, Direct: 16,
		Indirect: 2, DoubleIndirect: 3, Parent: 9}
	d.Sectors[0] = 0xaabbccdd
	d.Sectors[20] = 77
	b := d.encode()
	assert.Equal(t, len(b), device.SectorSize)
	le := binary.LittleEndian
	assert.Equal(t, le.Uint32(b[0:]), uint32(0x01020304))
	assert.Equal(t, le.Uint32(b[4:]), uint32(Magic))
	assert.Equal(t, le.Uint32(b[8:]), uint32(1))
	assert.Equal(t, le.Uint32(b[12:]), uint32(16))
	assert.Equal(t, le.Uint32(b[16:]), uint32(2))
	assert.Equal(t, le.Uint32(b[20:]), uint32(3))
	assert.Equal(t, le.Uint32(b[24:]), uint32(9))
	assert.Equal(t, le.Uint32(b[428:]), uint32(0xaabbccdd))
	assert.Equal(t, le.Uint32(b[508:]), uint32(77))

	var d2 diskInode
	d2.decode(b)
	assert.Equal(t, d2, d)
	assert.Equal(t, MaxLength, (16+4*128+128*128)*512)
}

func TestCreateRead(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1000)
	for _, l := range []int{0, 1, 511, 512, 513, 16 * 512, 40000} {
		inode := f.create(t, l)
		assert.Equal(t, inode.Length(), l)
		buf := make([]byte, l+100)
		buf[0] = 1
		assert.Equal(t, inode.ReadAt(buf, 0), l)
		assert.True(t, util.IsZero(buf[:l]))
		assert.Equal(t, inode.ReadAt(buf, l), 0)
		assert.Equal(t, inode.ByteToSector(l), device.NoSector)
		inode.Close()
	}
	assert.Equal(t, f.table.Len(), 0)
}

func TestOneIndirectBlock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1000)
	free := f.fm.Free()
	inode := f.create(t, 16*512+1)
	// inode + 17 data + 1 indirect
	assert.Equal(t, free-f.fm.Free(), 19)
	assert.Equal(t, inode.AllocatedSectors(), 17)
	assert.Equal(t, inode.disk.Indirect, uint32(1))
	last := inode.ByteToSector(16 * 512)
	assert.Equal(t, last, f.table.readPointer(device.Sector(inode.disk.Sectors[16]), 0))
	assert.NotEqual(t, last, inode.ByteToSector(15*512))
	inode.Close()
}

func TestDoubleIndirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2000)
	inode := f.create(t, 0)
	free := f.fm.Free()
	ofs := (DirectCount + indirectSectors + 130) * device.SectorSize
	data := []byte("double")
	assert.Equal(t, inode.WriteAt(data, ofs+5), len(data))
	n := DirectCount + indirectSectors + 131
	assert.Equal(t, inode.AllocatedSectors(), n)
	// data + 4 indirect + double + 2 second level blocks
	assert.Equal(t, free-f.fm.Free(), n+4+1+2)
	buf := make([]byte, len(data))
	assert.Equal(t, inode.ReadAt(buf, ofs+5), len(data))
	assert.Equal(t, string(buf), "double")
	assert.Equal(t, inode.Length(), ofs+5+len(data))

	// Release gives everything back
	inode.Remove()
	inode.Close()
	assert.Equal(t, f.fm.Free(), free+1)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1000)
	rng := util.GetSeededRng()
	inode := f.create(t, 0)
	defer inode.Close()
	check := func(ofs, l int) {
		data := util.RandomBytes(rng, l)
		assert.Equal(t, inode.WriteAt(data, ofs), l)
		buf := make([]byte, l)
		assert.Equal(t, inode.ReadAt(buf, ofs), l)
		assert.Equal(t, string(buf), string(data))
	}
	check(0, 512)
	check(512, 1024)
	check(3, 1)
	check(511, 2)
	check(1000, 9000)
	check(77, 20000)
	assert.Equal(t, inode.Length(), 20077)
}

func TestExtensionGap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1000)
	inode := f.create(t, 10)
	assert.Equal(t, inode.WriteAt([]byte("0123456789"), 0), 10)
	assert.Equal(t, inode.WriteAt([]byte("xy"), 5000), 2)
	assert.Equal(t, inode.Length(), 5002)
	buf := make([]byte, 6000)
	assert.Equal(t, inode.ReadAt(buf, 0), 5002)
	assert.Equal(t, string(buf[:10]), "0123456789")
	assert.True(t, util.IsZero(buf[10:5000]))
	assert.Equal(t, string(buf[5000:5002]), "xy")
	inode.Close()
}

func TestRemoveDeferred(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1000)
	free := f.fm.Free()
	inode := f.create(t, 3000)
	used := free - f.fm.Free()
	assert.Equal(t, used, 1+6)
	i2 := f.table.Open(inode.Inumber())
	assert.True(t, i2 == inode)
	assert.Equal(t, inode.OpenCount(), 2)
	i3 := inode.Reopen()
	assert.Equal(t, i3.OpenCount(), 3)

	inode.Remove()
	assert.True(t, inode.IsRemoved())
	inode.Close()
	i2.Close()
	assert.Equal(t, free-f.fm.Free(), used)
	// Data still readable by the last opener
	buf := make([]byte, 10)
	assert.Equal(t, i3.ReadAt(buf, 2990), 10)
	i3.Close()
	assert.Equal(t, f.fm.Free(), free)
	assert.Equal(t, f.table.Len(), 0)
}

func TestDenyWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100)
	inode := f.create(t, 0)
	inode.DenyWrite()
	assert.True(t, inode.IsWriteDenied())
	assert.Equal(t, inode.WriteAt([]byte("foo"), 0), 0)
	assert.Equal(t, inode.Length(), 0)
	inode.AllowWrite()
	assert.Equal(t, inode.WriteAt([]byte("foo"), 0), 3)
	inode.Close()
}

func TestOutOfSpace(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 40)
	s, ok := f.fm.Allocate(1)
	assert.True(t, ok)
	free := f.fm.Free()
	assert.False(t, f.table.Create(s, 100*512, false, 0))
	// No rollback
	assert.Equal(t, f.fm.Free(), 0)
	assert.True(t, free > 0)
	assert.False(t, f.table.Create(s, MaxLength+1, false, 0))
}

func TestShortWriteOnFullDisk(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 40)
	inode := f.create(t, 0)
	free := f.fm.Free()
	data := make([]byte, 100*512)
	n := inode.WriteAt(data, 0)
	// One of the free sectors goes to the indirect block
	assert.Equal(t, n, (free-1)*512)
	assert.Equal(t, inode.Length(), n)
	inode.Close()
}

func TestWritePastEndOnFullDisk(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 40)
	inode := f.create(t, 0)
	free := f.fm.Free()

	// Disk fills up before offset is reached; nothing is written
	assert.Equal(t, inode.WriteAt([]byte("x"), 200*512), 0)
	assert.Equal(t, f.fm.Free(), 0)
	assert.Equal(t, inode.Length(), 0)
	assert.Equal(t, inode.ByteToSector(0), device.NoSector)
	assert.Equal(t, inode.WriteAt([]byte("more"), 150*512), 0)
	assert.Equal(t, inode.Length(), 0)

	// Write that straddles the end of the allocated sectors is short,
	// and length covers only what was written
	allocated := free - 1
	assert.Equal(t, inode.AllocatedSectors(), allocated)
	data := make([]byte, 10*512)
	for i := range data {
		data[i] = 42
	}
	ofs := (allocated - 6) * 512
	assert.Equal(t, inode.WriteAt(data, ofs), 6*512)
	assert.Equal(t, inode.Length(), allocated*512)
	for pos := 0; pos < inode.Length(); pos += 512 {
		s := inode.ByteToSector(pos)
		assert.NotEqual(t, s, device.NoSector)
		assert.True(t, f.fm.IsUsed(s))
		assert.True(t, s >= device.Sector(f.fm.ReservedSectors()))
	}
	buf := make([]byte, inode.Length()+10)
	assert.Equal(t, inode.ReadAt(buf, 0), allocated*512)
	assert.True(t, util.IsZero(buf[:ofs]))
	assert.Equal(t, string(buf[ofs:allocated*512]), string(data[:6*512]))

	inode.Remove()
	inode.Close()
	assert.Equal(t, f.fm.Free(), free+1)
}

func TestDoubleIndirectOutOfSpace(t *testing.T) {
	t.Parallel()
	// Room for direct and indirect data, their 4 index blocks, and
	// 2 more: not enough for data + double + second level block
	f := newFixture(t, 537)
	inode := f.create(t, 0)
	free := f.fm.Free()
	assert.Equal(t, free, DirectCount+indirectSectors+IndirectCount+2)
	ofs := (DirectCount + indirectSectors + 10) * 512
	for i := 0; i < 2; i++ {
		assert.Equal(t, inode.WriteAt([]byte("x"), ofs), 0)
		assert.Equal(t, f.fm.Free(), 2)
		assert.Equal(t, inode.disk.DoubleIndirect, uint32(0))
		assert.Equal(t, inode.disk.Sectors[doubleSlot], uint32(0))
		assert.Equal(t, inode.AllocatedSectors(), DirectCount+indirectSectors)
	}
	inode.Remove()
	inode.Close()
	assert.Equal(t, f.fm.Free(), free+1)
}

func TestDenyWriteWaitsForWriter(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100)
	inode := f.create(t, 0)
	done := make(chan struct{})
	inode.lock.Lock()
	go func() {
		inode.DenyWrite()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("DenyWrite did not wait for inode lock")
	default:
	}
	inode.lock.Unlock()
	<-done
	assert.Equal(t, inode.WriteAt([]byte("foo"), 0), 0)
	assert.Equal(t, inode.Length(), 0)
	inode.AllowWrite()
	assert.Equal(t, inode.WriteAt([]byte("foo"), 0), 3)
	inode.Close()
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 200)
	inode := f.create(t, 0)
	s := inode.Inumber()
	assert.Equal(t, inode.WriteAt([]byte("persist"), 9000), 7)
	inode.Close()
	func() {
		defer f.cache.Locked()()
		f.cache.Close()
	}()

	// Fresh table and cache over the same device
	t2 := NewTable(bcache.New(f.dev, 8), f.fm)
	inode = t2.Open(s)
	assert.Equal(t, inode.Length(), 9007)
	assert.False(t, inode.IsDir())
	buf := make([]byte, 7)
	assert.Equal(t, inode.ReadAt(buf, 9000), 7)
	assert.Equal(t, string(buf), "persist")
	inode.Close()
}

func TestCreateDirParent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100)
	s, _ := f.fm.Allocate(1)
	assert.True(t, f.table.Create(s, 0, true, 42))
	inode := f.table.Open(s)
	assert.True(t, inode.IsDir())
	assert.Equal(t, inode.Parent(), device.Sector(42))
	inode.Close()
}

func TestBadMagic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100)
	defer func() {
		assert.NotNil(t, recover())
	}()
	f.table.Open(50)
}

func BenchmarkInodeWrite(b *testing.B) {
	f := newFixture(b, 4096)
	inode := f.create(b, 0)
	buf := make([]byte, 4096)
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		inode.WriteAt(buf, (i%256)*len(buf))
	}
}

func BenchmarkInodeRead(b *testing.B) {
	f := newFixture(b, 4096)
	inode := f.create(b, 1024*1024)
	buf := make([]byte, 4096)
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		inode.ReadAt(buf, (i%256)*len(buf))
	}
}
