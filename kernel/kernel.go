/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 25 09:02:44 2018 mstenber
 * Last modified: Fri Feb 15 16:40:02 2019 mstenber
 * Edit time:     43 min
 *
 */

// kernel constructs the storage and memory subsystems from
// Configuration, and owns them.
package kernel

import (
	"github.com/fingon/go-pvm/bcache"
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/factory"
	"github.com/fingon/go-pvm/filesys"
	"github.com/fingon/go-pvm/frame"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/swap"
	"github.com/fingon/go-pvm/vm"
	"github.com/pkg/errors"
)

type Kernel struct {
	Config  Configuration
	Filesys *filesys.Filesys
	Pool    *palloc.Pool
	Frames  *frame.Table
	Swap    *swap.Swap
	VM      *vm.VM
}

func New(config Configuration) (*Kernel, error) {
	config = config.withDefaults()
	mlog.Printf2("kernel/kernel", "New %+v", config)
	c := factory.NewCodec(factory.CodecConfiguration{
		Password: config.Password, Salt: config.Salt,
		Iterations: config.Iterations})
	fsdev, err := factory.New(config.FsBackend, device.Configuration{
		Directory: config.Directory, Role: device.RoleFilesys,
		SectorCount: device.Sector(config.FsSectors), Codec: c})
	if err != nil {
		return nil, errors.Wrap(err, "filesystem device")
	}
	fs, err := filesys.New(fsdev, config.CacheSize, config.Format)
	if err != nil {
		fsdev.Close()
		return nil, err
	}
	swapdev, err := factory.New(config.SwapBackend, device.Configuration{
		Directory: config.Directory, Role: device.RoleSwap,
		SectorCount: device.Sector(config.SwapSectors), Codec: c})
	if err != nil {
		fs.Close()
		return nil, errors.Wrap(err, "swap device")
	}
	self := &Kernel{Config: config, Filesys: fs,
		Pool: palloc.NewPool(config.UserFrames),
		Swap: swap.New(swapdev)}
	self.Frames = frame.New(self.Pool, config.FrameLimit)
	self.VM = vm.New(self.Pool, self.Frames, self.Swap)
	return self, nil
}

type Stats struct {
	Cache  bcache.Stats
	Frames frame.Stats
	Swap   swap.Stats
	VM     vm.Stats
}

func (self *Kernel) Stats() Stats {
	return Stats{Cache: self.Filesys.Cache.Stats(),
		Frames: self.Frames.Stats(), Swap: self.Swap.Stats(),
		VM: self.VM.Stats()}
}

// Close shuts the devices down, writing back the cache and the free
// map first.
func (self *Kernel) Close() error {
	mlog.Printf2("kernel/kernel", "Close")
	err := self.Filesys.Close()
	if err2 := self.Swap.Close(); err == nil {
		err = err2
	}
	return err
}
