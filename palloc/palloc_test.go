/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 18 08:40:02 2018 mstenber
 * Last modified: Thu Feb 14 17:50:12 2019 mstenber
 * Edit time:     6 min
 *
 */

package palloc

import (
	"testing"

	"github.com/stvp/assert"
)

func TestPool(t *testing.T) {
	t.Parallel()
	p := NewPool(3)
	assert.Equal(t, p.Count(), 3)
	f0, ok := p.GetFrame(false)
	assert.True(t, ok)
	assert.Equal(t, f0, Frame(0))
	assert.Equal(t, len(p.Bytes(f0)), PageSize)
	p.Bytes(f0)[100] = 42

	f1, _ := p.GetFrame(false)
	f2, _ := p.GetFrame(false)
	assert.Equal(t, f2, Frame(2))
	_, ok = p.GetFrame(false)
	assert.False(t, ok)
	assert.Equal(t, p.Free(), 0)

	p.FreeFrame(f0)
	f, ok := p.GetFrame(false)
	assert.True(t, ok)
	assert.Equal(t, f, f0)
	assert.Equal(t, p.Bytes(f)[100], byte(42))
	p.FreeFrame(f)
	f, _ = p.GetFrame(true)
	assert.Equal(t, p.Bytes(f)[100], byte(0))

	assert.Equal(t, f1.Address(), uintptr(PageSize))
	assert.False(t, InvalidFrame.Valid())
	assert.Equal(t, p.Base(), KernelBase)
}

func TestDoubleFree(t *testing.T) {
	t.Parallel()
	p := NewPool(1)
	defer func() {
		assert.NotNil(t, recover())
	}()
	p.FreeFrame(0)
}
