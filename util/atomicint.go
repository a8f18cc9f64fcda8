/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Mar 21 11:19:49 2018 mstenber
 * Last modified: Tue Feb 12 11:02:19 2019 mstenber
 * Edit time:     9 min
 *
 */

package util

import "sync/atomic"

// AtomicInt is used for the statistics counters (cache hits,
// write-backs, evictions, ..) that are read without the owning lock.
type AtomicInt int64

func (self *AtomicInt) Get() int64 {
	return atomic.LoadInt64((*int64)(self))
}

func (self *AtomicInt) Add(value int64) {
	atomic.AddInt64((*int64)(self), value)
}

func (self *AtomicInt) Inc() {
	self.Add(1)
}
