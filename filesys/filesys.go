/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan 17 09:30:51 2018 mstenber
 * Last modified: Thu Feb 14 17:02:03 2019 mstenber
 * Edit time:     27 min
 *
 */

// filesys ties together the filesystem device, its buffer cache,
// free map and open inode table. Create, open and remove are
// serialized by single filesystem lock.
package filesys

import (
	"github.com/fingon/go-pvm/bcache"
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/file"
	"github.com/fingon/go-pvm/freemap"
	"github.com/fingon/go-pvm/inode"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
	"github.com/pkg/errors"
)

type Filesys struct {
	Device  device.BlockDevice
	Cache   *bcache.Cache
	FreeMap *freemap.FreeMap
	Inodes  *inode.Table

	lock util.MutexLocked
}

// New sets up filesystem on the device; with format the free map is
// created from scratch, otherwise it is loaded from the device.
func New(dev device.BlockDevice, cacheSize int, format bool) (*Filesys, error) {
	var fm *freemap.FreeMap
	if format {
		mlog.Printf2("filesys/filesys", "New formatting %d sectors", dev.SectorCount())
		fm = freemap.Format(dev)
		if err := fm.Flush(dev); err != nil {
			return nil, errors.Wrap(err, "free map write")
		}
	} else {
		var err error
		fm, err = freemap.Load(dev)
		if err != nil {
			return nil, errors.Wrap(err, "free map load")
		}
	}
	cache := bcache.New(dev, cacheSize)
	self := &Filesys{Device: dev, Cache: cache, FreeMap: fm,
		Inodes: inode.NewTable(cache, fm)}
	return self, nil
}

// Create allocates an inode sector and creates inode of length bytes
// there. The sector is given back if creation fails (the data
// sectors allocated so far are not).
func (self *Filesys) Create(length int, isDir bool, parent device.Sector) (device.Sector, bool) {
	defer self.lock.Locked()()
	s, ok := self.FreeMap.Allocate(1)
	if !ok {
		return device.NoSector, false
	}
	if !self.Inodes.Create(s, length, isDir, parent) {
		self.FreeMap.Release(s, 1)
		return device.NoSector, false
	}
	mlog.Printf2("filesys/filesys", "Create %d bytes at %d", length, s)
	return s, true
}

func (self *Filesys) Open(sector device.Sector) *file.File {
	defer self.lock.Locked()()
	return file.Open(self.Inodes.Open(sector))
}

// Remove marks the inode for deletion; it goes away with its last
// close.
func (self *Filesys) Remove(sector device.Sector) {
	defer self.lock.Locked()()
	i := self.Inodes.Open(sector)
	i.Remove()
	i.Close()
}

// Flush writes dirty cache content and the free map to the device.
func (self *Filesys) Flush() error {
	defer self.lock.Locked()()
	func() {
		defer self.Cache.Locked()()
		self.Cache.Flush()
	}()
	return self.FreeMap.Flush(self.Device)
}

// Close writes everything back and closes the device.
func (self *Filesys) Close() error {
	defer self.lock.Locked()()
	mlog.Printf2("filesys/filesys", "Close")
	func() {
		defer self.Cache.Locked()()
		self.Cache.Close()
	}()
	if err := self.FreeMap.Flush(self.Device); err != nil {
		self.Device.Close()
		return errors.Wrap(err, "free map write")
	}
	return self.Device.Close()
}
