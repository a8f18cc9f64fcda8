/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan 20 10:50:10 2018 mstenber
 * Last modified: Fri Feb 15 09:51:33 2019 mstenber
 * Edit time:     17 min
 *
 */

package swap

import (
	"testing"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/inmemory"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
	"github.com/stvp/assert"
)

func newSwap(t *testing.T, count device.Sector) *Swap {
	dev, err := inmemory.NewInMemoryDevice(device.Configuration{Role: device.RoleSwap,
		SectorCount: count})
	assert.Nil(t, err)
	return New(dev)
}

func TestOutIn(t *testing.T) {
	t.Parallel()
	sw := newSwap(t, 32)
	rng := util.GetSeededRng()
	p1 := util.RandomBytes(rng, palloc.PageSize)
	p2 := util.RandomBytes(rng, palloc.PageSize)
	s1 := sw.Out(p1)
	assert.Equal(t, len(s1), SectorsPerPage)
	assert.Equal(t, s1[0], device.Sector(0))
	s2 := sw.Out(p2)
	assert.Equal(t, s2[0], device.Sector(8))
	assert.Equal(t, sw.Used(), 16)

	buf := make([]byte, palloc.PageSize)
	sw.In(s1, buf)
	assert.Equal(t, string(buf), string(p1))
	assert.Equal(t, sw.Used(), 8)

	// Freed run gets reused first
	s3 := sw.Out(p2)
	assert.Equal(t, s3[0], device.Sector(0))
	sw.In(s2, buf)
	assert.Equal(t, string(buf), string(p2))
	assert.Equal(t, sw.Stats(), Stats{Used: 8, Outs: 3, Ins: 2})
}

func TestFindFree(t *testing.T) {
	t.Parallel()
	sw := newSwap(t, 20)
	assert.Equal(t, sw.FindFree(8), device.Sector(0))
	sw.insert(3)
	sw.insert(1)
	assert.Equal(t, sw.used, []device.Sector{1, 3})
	assert.Equal(t, sw.FindFree(1), device.Sector(0))
	assert.Equal(t, sw.FindFree(2), device.Sector(4))
	sw.insert(10)
	assert.Equal(t, sw.FindFree(6), device.Sector(4))
	assert.Equal(t, sw.FindFree(7), device.Sector(11))
	assert.Equal(t, sw.FindFree(10), device.NoSector)

	sw.Remove(3)
	sw.Remove(3)
	assert.Equal(t, sw.used, []device.Sector{1, 10})
	sw.Release([]device.Sector{1, 10, 11})
	assert.Equal(t, sw.Used(), 0)
}

func TestFull(t *testing.T) {
	t.Parallel()
	sw := newSwap(t, 12)
	sw.Out(make([]byte, palloc.PageSize))
	defer func() {
		assert.NotNil(t, recover())
	}()
	sw.Out(make([]byte, palloc.PageSize))
}
