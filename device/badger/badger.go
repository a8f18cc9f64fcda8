/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 23 15:10:01 2017 mstenber
 * Last modified: Thu Feb 14 10:52:10 2019 mstenber
 * Edit time:     161 min
 *
 */

package badger

import (
	"os"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"

	"github.com/fingon/go-pvm/device"
	"github.com/fingon/go-pvm/mlog"
)

// badgerStore provides on-disk storage of sectors in a badger
// database directory of its own per device role.
type badgerStore struct {
	db *badger.DB
}

var _ device.KeyValueStore = &badgerStore{}

func NewBadgerDevice(config device.Configuration) (device.BlockDevice, error) {
	dir := config.Path("badger")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "badger.Open %s", dir)
	}
	mlog.Printf2("device/badger/badger", "NewBadgerDevice %s", dir)
	self := &badgerStore{db: db}
	dev, err := device.NewCodecDevice(self, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return dev, nil
}

func (self *badgerStore) Get(key []byte) (v []byte, err error) {
	err = self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(key)
		if err == nil {
			v, err = i.ValueCopy(nil)
		}
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return
}

func (self *badgerStore) Put(key, value []byte) error {
	mlog.Printf2("device/badger/badger", "bad.Put %x (%d b)", key, len(value))
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (self *badgerStore) Close() error {
	return self.db.Close()
}
