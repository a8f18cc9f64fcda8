/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan 15 08:30:12 2018 mstenber
 * Last modified: Thu Feb 14 14:02:55 2019 mstenber
 * Edit time:     33 min
 *
 */

package inode

import (
	"bytes"
	"encoding/binary"
	"log"

	"github.com/fingon/go-pvm/device"
)

const Magic = 0x494e4f44

const (
	DirectCount       = 16
	IndirectCount     = 4
	PointersPerSector = device.SectorSize / 4

	indirectBase = DirectCount
	doubleSlot   = DirectCount + IndirectCount

	indirectSectors = IndirectCount * PointersPerSector
	doubleSectors   = PointersPerSector * PointersPerSector

	// MaxSectors is the number of data sectors single inode can
	// address.
	MaxSectors = DirectCount + indirectSectors + doubleSectors

	MaxLength = MaxSectors * device.SectorSize
)

// diskInode is the on-disk inode, exactly one sector, little endian.
//
// Direct, Indirect and DoubleIndirect are the numbers of data
// sectors allocated through the direct pointers, the indirect blocks
// and the double indirect block respectively. Sectors[0:16] are the
// direct pointers, Sectors[16:20] the indirect blocks and
// Sectors[20] the double indirect block.
type diskInode struct {
	Length         int32
	Magic          uint32
	IsDir          uint32
	Direct         uint32
	Indirect       uint32
	DoubleIndirect uint32
	Parent         uint32
	Unused         [100]uint32
	Sectors        [DirectCount + IndirectCount + 1]uint32
}

func (self *diskInode) allocated() int {
	return int(self.Direct + self.Indirect + self.DoubleIndirect)
}

func (self *diskInode) encode() []byte {
	var b bytes.Buffer
	b.Grow(device.SectorSize)
	if err := binary.Write(&b, binary.LittleEndian, self); err != nil {
		log.Panic(err)
	}
	if b.Len() != device.SectorSize {
		log.Panicf("inode: encoded to %d bytes", b.Len())
	}
	return b.Bytes()
}

func (self *diskInode) decode(data []byte) {
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, self)
	if err != nil {
		log.Panic(err)
	}
}
