/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan 17 08:41:09 2018 mstenber
 * Last modified: Thu Feb 14 16:41:50 2019 mstenber
 * Edit time:     19 min
 *
 */

// file package provides open file handles: inode + position.
package file

import (
	"log"

	"github.com/fingon/go-pvm/inode"
	"github.com/fingon/go-pvm/util"
)

type File struct {
	inode     *inode.Inode
	pos       int
	denyWrite bool
	lock      util.MutexLocked
}

// Open takes ownership of the inode reference; nil inode yields nil
// File.
func Open(i *inode.Inode) *File {
	if i == nil {
		return nil
	}
	return &File{inode: i}
}

// Reopen returns a new handle to the same inode, with position zero.
func (self *File) Reopen() *File {
	return Open(self.inode.Reopen())
}

func (self *File) Close() {
	if self == nil {
		return
	}
	self.AllowWrite()
	self.inode.Close()
}

func (self *File) Inode() *inode.Inode {
	return self.inode
}

func (self *File) Read(buf []byte) int {
	defer self.lock.Locked()()
	n := self.inode.ReadAt(buf, self.pos)
	self.pos += n
	return n
}

func (self *File) Write(buf []byte) int {
	defer self.lock.Locked()()
	n := self.inode.WriteAt(buf, self.pos)
	self.pos += n
	return n
}

func (self *File) ReadAt(buf []byte, offset int) int {
	return self.inode.ReadAt(buf, offset)
}

func (self *File) WriteAt(buf []byte, offset int) int {
	return self.inode.WriteAt(buf, offset)
}

// Seek sets the position; it may be past the end of file.
func (self *File) Seek(pos int) {
	if pos < 0 {
		log.Panicf("file: negative seek %d", pos)
	}
	defer self.lock.Locked()()
	self.pos = pos
}

func (self *File) Tell() int {
	defer self.lock.Locked()()
	return self.pos
}

func (self *File) Length() int {
	return self.inode.Length()
}

// DenyWrite prevents writes to the inode until AllowWrite or Close.
func (self *File) DenyWrite() {
	defer self.lock.Locked()()
	if !self.denyWrite {
		self.denyWrite = true
		self.inode.DenyWrite()
	}
}

func (self *File) AllowWrite() {
	defer self.lock.Locked()()
	if self.denyWrite {
		self.denyWrite = false
		self.inode.AllowWrite()
	}
}
