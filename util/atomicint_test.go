/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Mar 21 11:23:33 2018 mstenber
 * Last modified: Tue Feb 12 11:03:01 2019 mstenber
 * Edit time:     1 min
 *
 */

package util

import (
	"sync"
	"testing"

	"github.com/stvp/assert"
)

func TestAtomicInt(t *testing.T) {
	t.Parallel()
	var ai AtomicInt
	assert.Equal(t, ai.Get(), int64(0))
	ai.Inc()
	assert.Equal(t, ai.Get(), int64(1))
	ai.Add(31)
	assert.Equal(t, ai.Get(), int64(32))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ai.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ai.Get(), int64(832))
}
