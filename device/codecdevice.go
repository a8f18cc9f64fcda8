/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan 11 08:46:53 2018 mstenber
 * Last modified: Thu Feb 14 10:14:22 2019 mstenber
 * Edit time:     52 min
 *
 */

package device

import (
	"github.com/fingon/go-pvm/codec"
	"github.com/fingon/go-pvm/mlog"
	"github.com/fingon/go-pvm/util"
	"github.com/pkg/errors"
	ucodec "github.com/ugorji/go/codec"
)

// KeyValueStore is the minimal interface the persistent key-value
// backends provide. Get of missing key returns nil value and no
// error.
type KeyValueStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Close() error
}

var geometryKey = []byte("geometry")

// CodecDevice provides BlockDevice on top of KeyValueStore; every
// sector is its own key ("s" + big-endian sector number), and the
// value is passed through the configured codec with the key as
// additional data.
type CodecDevice struct {
	store KeyValueStore
	codec codec.Codec
	count Sector
	lock  util.MutexLocked
}

var _ BlockDevice = &CodecDevice{}

var cborHandle ucodec.CborHandle

// NewCodecDevice initializes device on top of the store. If the store
// has geometry record, it must match the configuration (zero
// SectorCount in configuration accepts whatever is stored).
func NewCodecDevice(store KeyValueStore, config Configuration) (*CodecDevice, error) {
	self := &CodecDevice{store: store, codec: config.Codec,
		count: config.SectorCount}
	if self.codec == nil {
		self.codec = &codec.CodecChain{}
	}
	g := Geometry{SectorSize: SectorSize, SectorCount: config.SectorCount,
		Role: config.Role}
	data, err := store.Get(geometryKey)
	if err != nil {
		return nil, errors.Wrap(err, "geometry read")
	}
	if data != nil {
		var og Geometry
		err = ucodec.NewDecoderBytes(data, &cborHandle).Decode(&og)
		if err != nil {
			return nil, errors.Wrap(err, "geometry decode")
		}
		if g.SectorCount == 0 {
			g.SectorCount = og.SectorCount
			self.count = og.SectorCount
		}
		if og != g {
			return nil, errors.Errorf("geometry mismatch: stored %v, wanted %v", og, g)
		}
		mlog.Printf2("device/codecdevice", "NewCodecDevice reopened %v", g)
		return self, nil
	}
	if g.SectorCount == 0 {
		return nil, errors.New("sector count not configured")
	}
	var buf []byte
	if err = ucodec.NewEncoderBytes(&buf, &cborHandle).Encode(g); err != nil {
		return nil, errors.Wrap(err, "geometry encode")
	}
	if err = store.Put(geometryKey, buf); err != nil {
		return nil, errors.Wrap(err, "geometry write")
	}
	mlog.Printf2("device/codecdevice", "NewCodecDevice created %v", g)
	return self, nil
}

func sectorKey(s Sector) []byte {
	return util.ConcatBytes([]byte("s"), util.Uint32Bytes(uint32(s)))
}

func (self *CodecDevice) SectorCount() Sector {
	return self.count
}

func (self *CodecDevice) ReadSector(s Sector, buf []byte) error {
	if err := CheckRequest(self, s, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	k := sectorKey(s)
	data, err := self.store.Get(k)
	if err != nil {
		return errors.Wrapf(err, "read of sector %d", s)
	}
	if data == nil {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	data, err = self.codec.DecodeBytes(data, k)
	if err != nil {
		return errors.Wrapf(err, "decode of sector %d", s)
	}
	if len(data) != SectorSize {
		return errors.Errorf("sector %d decoded to %d bytes", s, len(data))
	}
	copy(buf, data)
	return nil
}

func (self *CodecDevice) WriteSector(s Sector, buf []byte) error {
	if err := CheckRequest(self, s, buf); err != nil {
		return err
	}
	defer self.lock.Locked()()
	k := sectorKey(s)
	data, err := self.codec.EncodeBytes(buf, k)
	if err != nil {
		return errors.Wrapf(err, "encode of sector %d", s)
	}
	if err = self.store.Put(k, data); err != nil {
		return errors.Wrapf(err, "write of sector %d", s)
	}
	return nil
}

func (self *CodecDevice) Close() error {
	defer self.lock.Locked()()
	return self.store.Close()
}
