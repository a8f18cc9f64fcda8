/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 11:14:11 2018 mstenber
 * Last modified: Thu Feb 14 10:02:51 2019 mstenber
 * Edit time:     41 min
 *
 */

// device package defines the sector-addressed block device used both
// by the filesystem (buffer cache) and by swap. The backends live in
// subpackages, and factory subpackage maps backend names to them.
package device

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/fingon/go-pvm/codec"
	"github.com/pkg/errors"
)

// Sector is index of 512-byte sector within a device.
type Sector uint32

const SectorSize = 512

// NoSector is used for 'no sector here'; e.g. unallocated inode
// pointers and offsets beyond end of file.
const NoSector = Sector(math.MaxUint32)

type Role string

const (
	RoleFilesys Role = "filesys"
	RoleSwap    Role = "swap"
)

// BlockDevice is the shadow behind the throne; reads and writes are
// always exactly one sector, and a single sector write is assumed to
// be atomic.
type BlockDevice interface {
	// ReadSector fills buf (SectorSize bytes) with the sector
	// content. Never written sectors read as zeros.
	ReadSector(s Sector, buf []byte) error

	// WriteSector stores buf (SectorSize bytes) as the sector.
	WriteSector(s Sector, buf []byte) error

	// SectorCount returns the size of the device in sectors.
	SectorCount() Sector

	Close() error
}

// Configuration is what backends are given at creation time.
type Configuration struct {
	Directory   string
	Role        Role
	SectorCount Sector

	// Codec is applied to sector payloads by the key-value
	// backends. nil means sectors are stored as-is.
	Codec codec.Codec
}

// Path returns backend-specific path within the configured directory.
func (self Configuration) Path(suffix string) string {
	return filepath.Join(self.Directory, fmt.Sprintf("%s.%s", self.Role, suffix))
}

// Geometry is stored by the key-value backends so that reopening with
// different parameters is detected.
type Geometry struct {
	SectorSize  int
	SectorCount Sector
	Role        Role
}

// CheckRequest validates the sector and buffer of single I/O request.
func CheckRequest(dev BlockDevice, s Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.Errorf("invalid buffer size %d for sector %d", len(buf), s)
	}
	if s >= dev.SectorCount() {
		return errors.Errorf("sector %d beyond device end %d", s, dev.SectorCount())
	}
	return nil
}
