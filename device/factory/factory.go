/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 12:22:52 2018 mstenber
 * Last modified: Thu Feb 14 11:03:29 2019 mstenber
 * Edit time:     39 min
 *
 */

package factory

import (
	"sort"

	"github.com/fingon/go-pvm/codec"
	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/device/badger"
	"github.com/fingon/go-pvm/device/bolt"
	"github.com/fingon/go-pvm/device/file"
	"github.com/fingon/go-pvm/device/inmemory"
	"github.com/fingon/go-pvm/mlog"
	"github.com/pkg/errors"
)

type factoryCallback func(config device.Configuration) (device.BlockDevice, error)

var backendFactories = map[string]factoryCallback{
	"inmemory": inmemory.NewInMemoryDevice,
	"file":     file.NewFileDevice,
	"bolt":     bolt.NewBoltDevice,
	"badger":   badger.NewBadgerDevice,
}

// List returns the backend names in sorted order.
func List() []string {
	keys := make([]string, 0, len(backendFactories))
	for k := range backendFactories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func New(name string, config device.Configuration) (device.BlockDevice, error) {
	mlog.Printf2("device/factory/factory", "f.New %v %v", name, config)
	cb, ok := backendFactories[name]
	if !ok {
		return nil, errors.Errorf("unknown backend %s", name)
	}
	return cb(config)
}

type CodecConfiguration struct {
	Password, Salt string
	Iterations     int
}

// NewCodec returns the sector codec: compression, and if password is
// given, encryption of the compressed data as well.
func NewCodec(config CodecConfiguration) codec.Codec {
	iterations := config.Iterations
	if iterations == 0 {
		iterations = 12345
	}
	salt := config.Salt
	if salt == "" {
		salt = "asdf"
	}
	c2 := &codec.CompressingCodec{}
	if config.Password != "" {
		mlog.Printf2("device/factory/factory", "f.NewCodec with encryption + compression")
		c1 := codec.EncryptingCodec{}.Init([]byte(config.Password), []byte(salt), iterations)
		return codec.CodecChain{}.Init(c1, c2)
	}
	mlog.Printf2("device/factory/factory", "f.NewCodec only compression")
	return codec.CodecChain{}.Init(c2)
}
