/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 11:22:41 2018 mstenber
 * Last modified: Thu Feb 14 10:20:13 2019 mstenber
 * Edit time:     12 min
 *
 */

package inmemory

import (
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
	"github.com/pkg/errors"
)

// inMemoryDevice provides ramdisk; data is just stored in one big
// slice that is allocated up front.
type inMemoryDevice struct {
	data  []byte
	count device.Sector
	lock  util.MutexLocked
}

var _ device.BlockDevice = &inMemoryDevice{}

func NewInMemoryDevice(config device.Configuration) (device.BlockDevice, error) {
	if config.SectorCount == 0 {
		return nil, errors.New("sector count not configured")
	}
	mlog.Printf2("device/inmemory/inmemory", "NewInMemoryDevice %v %d", config.Role, config.SectorCount)
	self := &inMemoryDevice{count: config.SectorCount}
	self.data = make([]byte, int(config.SectorCount)*device.SectorSize)
	return self, nil
}

func (self *inMemoryDevice) SectorCount() device.Sector {
	return self.count
}

func (self *inMemoryDevice) ReadSector(s device.Sector, buf []byte) error {
	if err := device.CheckRequest(self, s, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	ofs := int(s) * device.SectorSize
	copy(buf, self.data[ofs:ofs+device.SectorSize])
	return nil
}

func (self *inMemoryDevice) WriteSector(s device.Sector, buf []byte) error {
	if err := device.CheckRequest(self, s, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	ofs := int(s) * device.SectorSize
	copy(self.data[ofs:ofs+device.SectorSize], buf)
	return nil
}

func (self *inMemoryDevice) Close() error {
	return nil
}
