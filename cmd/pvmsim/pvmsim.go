/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan 26 11:05:20 2018 mstenber
 * Last modified: Fri Feb 15 17:24:48 2019 mstenber
 * Edit time:     47 min
 *
 */

// pvmsim runs a number of simulated processes that dirty more pages
// than there are frames, verifies their memory, and reports how the
// cache, frame table and swap fared.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/fingon/go-pvm/device/factory"
	"github.com/fingon/go-pvm/kernel"
	"github.com/fingon/go-pvm/pagedir"
	"github.com/fingon/go-pvm/palloc"
	"github.com/fingon/go-pvm/util"
	"github.com/fingon/go-pvm/vm"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const mmapBase = uintptr(0x10000000)

func pattern(tid pagedir.Tid, i int) []byte {
	return []byte(fmt.Sprintf("%d/%d", tid, i))
}

func runProcess(k *kernel.Kernel, tid pagedir.Tid, pages int) error {
	p := k.VM.NewProcess(tid)
	defer p.Exit()
	esp := pagedir.PhysBase - uintptr(pages)*palloc.PageSize
	p.SetStackPointer(esp)
	for i := 0; i < pages; i++ {
		if !p.Write(esp+uintptr(i)*palloc.PageSize, pattern(tid, i)) {
			return errors.Errorf("process %d: write of page %d failed", tid, i)
		}
	}
	for i := pages - 1; i >= 0; i-- {
		want := pattern(tid, i)
		got := make([]byte, len(want))
		if !p.Read(esp+uintptr(i)*palloc.PageSize, got) {
			return errors.Errorf("process %d: read of page %d failed", tid, i)
		}
		if !bytes.Equal(got, want) {
			return errors.Errorf("process %d: page %d has %q", tid, i, got)
		}
	}
	return runMmap(k, p)
}

func runMmap(k *kernel.Kernel, p *vm.Process) error {
	tid := p.Tid
	s, ok := k.Filesys.Create(0, false, 0)
	if !ok {
		return errors.Errorf("process %d: file create failed", tid)
	}
	defer k.Filesys.Remove(s)
	f := k.Filesys.Open(s)
	defer f.Close()
	data := util.RandomBytes(util.GetSeededRng(), 2*palloc.PageSize+100)
	f.Write(data)
	m, ok := p.Mmap(f, mmapBase)
	if !ok {
		return errors.Errorf("process %d: mmap failed", tid)
	}
	got := make([]byte, len(data))
	if !p.Read(mmapBase, got) || !bytes.Equal(got, data) {
		return errors.Errorf("process %d: mmap content mismatch", tid)
	}
	p.Write(mmapBase+palloc.PageSize, pattern(tid, -1))
	p.Munmap(m)
	got = make([]byte, len(pattern(tid, -1)))
	f.ReadAt(got, palloc.PageSize)
	if !bytes.Equal(got, pattern(tid, -1)) {
		return errors.Errorf("process %d: mmap write not in file", tid)
	}
	return nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "JSON configuration file")
	fsbackend := flag.String("fsbackend", "inmemory",
		fmt.Sprintf("Filesystem backend (possible: %v)", factory.List()))
	swapbackend := flag.String("swapbackend", "inmemory",
		fmt.Sprintf("Swap backend (possible: %v)", factory.List()))
	dir := flag.String("dir", "", "Directory for persistent backends")
	format := flag.Bool("format", false, "Format the filesystem device")
	frames := flag.Int("frames", 16, "Number of user frames")
	procs := flag.Int("procs", 4, "Number of processes")
	pages := flag.Int("pages", 32, "Number of stack pages per process")
	password := flag.String("password", "", "Password (encrypts devices if set)")
	cachesize := flag.Int("cachesize", 0, "Number of sectors to cache")
	cpuprofile := flag.String("cpuprofile", "", "CPU profile file")

	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	var config kernel.Configuration
	if *configPath != "" {
		var err error
		config, err = kernel.LoadConfiguration(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	// explicit flags override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fsbackend":
			config.FsBackend = *fsbackend
		case "swapbackend":
			config.SwapBackend = *swapbackend
		case "dir":
			config.Directory = *dir
		case "format":
			config.Format = *format
		case "frames":
			config.UserFrames = *frames
		case "password":
			config.Password = *password
		case "cachesize":
			config.CacheSize = *cachesize
		}
	})
	if config.UserFrames == 0 {
		config.UserFrames = *frames
	}

	k, err := kernel.New(config)
	if err != nil {
		log.Fatal(err)
	}

	var g errgroup.Group
	for i := 0; i < *procs; i++ {
		tid := pagedir.Tid(i + 1)
		g.Go(func() error {
			return runProcess(k, tid, *pages)
		})
	}
	err = g.Wait()

	st := k.Stats()
	log.Printf("cache: %d hits, %d misses, %d write-backs",
		st.Cache.Hits, st.Cache.Misses, st.Cache.WriteBacks)
	log.Printf("frames: %d claimed, %d evictions",
		st.Frames.Claimed, st.Frames.Evictions)
	log.Printf("swap: %d sectors used, %d outs, %d ins",
		st.Swap.Used, st.Swap.Outs, st.Swap.Ins)
	log.Printf("vm: %+v", st.VM)
	if err2 := k.Close(); err2 != nil {
		log.Print(err2)
	}
	if err != nil {
		log.Fatal(err)
	}
}
