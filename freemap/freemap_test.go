/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan 13 10:40:50 2018 mstenber
 * Last modified: Thu Feb 14 12:06:11 2019 mstenber
 * Edit time:     14 min
 *
 */

package freemap

import (
	"testing"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/inmemory"
	"github.com/stvp/assert"
)

func TestAllocateRelease(t *testing.T) {
	t.Parallel()
	fm := New(200)
	assert.Equal(t, fm.Free(), 200)
	s, ok := fm.Allocate(3)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(0))
	s, ok = fm.Allocate(1)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(3))
	assert.Equal(t, fm.Free(), 196)

	// Hole of 2 is skipped for run of 3
	fm.Release(1, 2)
	s, ok = fm.Allocate(3)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(4))
	s, ok = fm.Allocate(2)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(1))

	_, ok = fm.Allocate(0)
	assert.False(t, ok)
	_, ok = fm.Allocate(fm.Free() + 1)
	assert.False(t, ok)

	// Crossing word boundaries
	fm.Mark(7, 60)
	s, ok = fm.Allocate(70)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(67))
	assert.True(t, fm.IsUsed(136))
	assert.False(t, fm.IsUsed(137))
}

func TestExhaust(t *testing.T) {
	t.Parallel()
	fm := New(65)
	for i := 0; i < 65; i++ {
		s, ok := fm.Allocate(1)
		assert.True(t, ok)
		assert.Equal(t, s, device.Sector(i))
	}
	_, ok := fm.Allocate(1)
	assert.False(t, ok)
	assert.Equal(t, fm.Free(), 0)
}

func TestDoubleRelease(t *testing.T) {
	t.Parallel()
	fm := New(10)
	defer func() {
		assert.NotNil(t, recover())
	}()
	fm.Release(3, 1)
}

func TestFlushLoad(t *testing.T) {
	t.Parallel()
	count := device.Sector(5000)
	dev, err := inmemory.NewInMemoryDevice(device.Configuration{SectorCount: count})
	assert.Nil(t, err)
	_, err = Load(dev)
	assert.NotNil(t, err)

	fm := Format(dev)
	// header + 2 sectors of bitmap (5000 bits = 79 words = 632 bytes)
	assert.Equal(t, fm.ReservedSectors(), 3)
	assert.True(t, fm.IsUsed(2))
	assert.False(t, fm.IsUsed(3))
	fm.Mark(4990, 5)
	fm.Mark(100, 1)
	free := fm.Free()
	assert.Equal(t, free, int(count)-3-6)
	assert.Nil(t, fm.Flush(dev))

	fm2, err := Load(dev)
	assert.Nil(t, err)
	assert.Equal(t, fm2.Free(), free)
	assert.True(t, fm2.IsUsed(100))
	assert.True(t, fm2.IsUsed(4994))
	assert.False(t, fm2.IsUsed(4995))
	s, ok := fm2.Allocate(1)
	assert.True(t, ok)
	assert.Equal(t, s, device.Sector(3))
}
