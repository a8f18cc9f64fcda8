/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 15:44:41 2018 mstenber
 * Last modified: Thu Feb 14 10:31:08 2019 mstenber
 * Edit time:     38 min
 *
 */

package file

import (
	"os"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
	"github.com/pkg/errors"
)

// fileDevice stores the sectors in single flat image file, sector N
// at offset N*SectorSize. The file is sparse until written, so never
// written sectors read as zeros.
type fileDevice struct {
	f     *os.File
	count device.Sector
}

var _ device.BlockDevice = &fileDevice{}

func NewFileDevice(config device.Configuration) (device.BlockDevice, error) {
	path := config.Path("img")
	if err := os.MkdirAll(config.Directory, 0700); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", config.Directory)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	count := config.SectorCount
	size := int64(count) * device.SectorSize
	if count == 0 {
		count = device.Sector(fi.Size() / device.SectorSize)
		if count == 0 {
			f.Close()
			return nil, errors.Errorf("empty image %s and no sector count", path)
		}
	} else if fi.Size() < size {
		if err = f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	}
	mlog.Printf2("device/file/file", "NewFileDevice %s %d sectors", path, count)
	return &fileDevice{f: f, count: count}, nil
}

func (self *fileDevice) SectorCount() device.Sector {
	return self.count
}

func (self *fileDevice) ReadSector(s device.Sector, buf []byte) error {
	if err := device.CheckRequest(self, s, buf); err != nil {
		return err
	}
	_, err := self.f.ReadAt(buf, int64(s)*device.SectorSize)
	return errors.Wrapf(err, "read of sector %d", s)
}

func (self *fileDevice) WriteSector(s device.Sector, buf []byte) error {
	if err := device.CheckRequest(self, s, buf); err != nil {
		return err
	}
	_, err := self.f.WriteAt(buf, int64(s)*device.SectorSize)
	return errors.Wrapf(err, "write of sector %d", s)
}

func (self *fileDevice) Close() error {
	if err := self.f.Sync(); err != nil {
		self.f.Close()
		return errors.Wrap(err, "sync")
	}
	return self.f.Close()
}
