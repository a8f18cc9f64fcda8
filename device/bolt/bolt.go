/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 22:49:15 2018 mstenber
 * Last modified: Thu Feb 14 10:44:37 2019 mstenber
 * Edit time:     36 min
 *
 */

package bolt

import (
	"os"

	bbolt "github.com/coreos/bbolt"
	"github.com/pkg/errors"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
)

var sectorBucket = []byte("sectors")

// boltStore provides on-disk storage of sectors in single bucket of
// a bbolt database file.
type boltStore struct {
	db *bbolt.DB
}

var _ device.KeyValueStore = &boltStore{}

func NewBoltDevice(config device.Configuration) (device.BlockDevice, error) {
	if err := os.MkdirAll(config.Directory, 0700); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", config.Directory)
	}
	path := config.Path("bbolt.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "bbolt.Open %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sectorBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bucket create")
	}
	mlog.Printf2("device/bolt/bolt", "NewBoltDevice %s", path)
	self := &boltStore{db: db}
	dev, err := device.NewCodecDevice(self, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return dev, nil
}

func (self *boltStore) Get(key []byte) (v []byte, err error) {
	err = self.db.View(func(tx *bbolt.Tx) error {
		// Value is valid only within the transaction
		if bv := tx.Bucket(sectorBucket).Get(key); bv != nil {
			v = append([]byte{}, bv...)
		}
		return nil
	})
	return
}

func (self *boltStore) Put(key, value []byte) error {
	mlog.Printf2("device/bolt/bolt", "bbolt.Put %x (%d b)", key, len(value))
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sectorBucket).Put(key, value)
	})
}

func (self *boltStore) Close() error {
	return self.db.Close()
}
