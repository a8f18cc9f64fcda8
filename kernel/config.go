/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 25 08:40:18 2018 mstenber
 * Last modified: Fri Feb 15 16:11:30 2019 mstenber
 * Edit time:     26 min
 *
 */

package kernel

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
)

type Configuration struct {
	// FsBackend and SwapBackend are device/factory backend names
	FsBackend   string `json:"fs_backend"`
	SwapBackend string `json:"swap_backend"`

	// Directory is where persistent backends keep their data
	Directory string `json:"directory"`

	FsSectors   int `json:"fs_sectors"`
	SwapSectors int `json:"swap_sectors"`

	// CacheSize is the buffer cache capacity in sectors
	CacheSize int `json:"cache_size"`

	// UserFrames is the size of the user pool, and FrameLimit
	// the maximum number of frames given to processes (0 = all)
	UserFrames int `json:"user_frames"`
	FrameLimit int `json:"frame_limit"`

	// Password enables encryption of stored sectors
	Password   string `json:"password"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`

	// Format the filesystem device instead of loading it
	Format bool `json:"format"`
}

func (self Configuration) withDefaults() Configuration {
	if self.FsBackend == "" {
		self.FsBackend = "inmemory"
	}
	if self.SwapBackend == "" {
		self.SwapBackend = "inmemory"
	}
	if self.Directory == "" {
		self.Directory = "pvm-data"
	}
	if self.FsSectors == 0 {
		self.FsSectors = 8192
	}
	if self.SwapSectors == 0 {
		self.SwapSectors = 8192
	}
	if self.UserFrames == 0 {
		self.UserFrames = 64
	}
	if self.FsBackend == "inmemory" {
		self.Format = true
	}
	return self
}

// LoadConfiguration reads JSON configuration file.
func LoadConfiguration(path string) (config Configuration, err error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(err, "read %s", path)
	}
	var jh codec.JsonHandle
	if err = codec.NewDecoderBytes(data, &jh).Decode(&config); err != nil {
		return config, errors.Wrapf(err, "parse %s", path)
	}
	return config, nil
}
