/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan  4 12:21:40 2018 mstenber
 * Last modified: Tue Feb 12 10:41:07 2019 mstenber
 * Edit time:     24 min
 *
 */

package util

import "sync"

// MutexLocked is sync.Mutex with the convenience of
//
//	defer x.Locked()()
//
// It is used for all of the single global locks (frame table, buffer
// cache, swap table) as well as the per-process ones.
type MutexLocked struct {
	sync.Mutex
}

func (self *MutexLocked) Locked() (unlock func()) {
	self.Lock()
	return self.Unlock
}
