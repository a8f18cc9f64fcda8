/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 13:41:33 2017 mstenber
 * Last modified: Wed Feb 13 10:31:55 2019 mstenber
 * Edit time:     117 min
 *
 */

// mlog is maybe-log, or Markus' log. It is basically small wrapper
// of standard 'log', with two major improvements:
//
// - environment-variable-based and 'flag' options for choosing what
// to print; what is not printed will not cause any overhead either (
// by default, everything is off)
//
// - to facilitate tracing, call stack depth is used to determine
// indentation automatically
//
// In addition, Panicf is the one place where the halting conditions
// of the kernel core (broken invariants) are reported; it always
// logs, regardless of the pattern.
package mlog

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fingon/go-pvm/util/gid"
)

var logMode = log.Ltime | log.Lmicroseconds
var logger = log.New(os.Stderr, "", logMode)

const (
	StateUninitialized int32 = iota
	StateInitializing
	StateDisabled
	StateEnabled
)

// This can be used by anyone, with the atomic access
var status int32 = StateUninitialized

var mutex sync.Mutex

// Everything else must be used only with mutex held
var flagPattern *string
var pattern string
var patternRegexp *regexp.Regexp
var file2Debug map[string]bool
var minDepth int
var callers []uintptr

const maxDepth = 100

func init() {
	flagPattern = flag.String("mlog", "", "Enable logging based on the given file/line regular expression")
	Reset()
}

// Reset resets the module to its factory default state. First
// subsequent log call will re-initialize the internal datastructures
// from the environment.
func Reset() {
	mutex.Lock()
	defer mutex.Unlock()
	atomic.StoreInt32(&status, StateUninitialized)
	minDepth = maxDepth
	callers = make([]uintptr, maxDepth)
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive.
func IsEnabled() bool {
	st := atomic.LoadInt32(&status)
	return st != StateDisabled
}

// SetLogger allows overriding of the logger used as output. The
// returned undo function can be used to change the logger back to old
// one.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldLogger := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = oldLogger
	}
}

// SetPattern allows setting the mlog pattern by hand, overriding the
// environment variable-provided values. The returned undo function
// can be used to change the state back to old one.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldPattern := pattern
	initializeWithPattern(p)
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		initializeWithPattern(oldPattern)
	}
}

func initializeWithPattern(p string) {
	pattern = p
	if p == "" {
		atomic.StoreInt32(&status, StateDisabled)
		return
	}
	patternRegexp = regexp.MustCompile(p)
	file2Debug = make(map[string]bool)
	atomic.StoreInt32(&status, StateEnabled)
}

func initialize() {
	if !atomic.CompareAndSwapInt32(&status, StateUninitialized, StateInitializing) {
		return
	}
	p := os.Getenv("MLOG")
	if *flagPattern != "" {
		p = *flagPattern
	}
	initializeWithPattern(p)
}

// Printf is drop-in replacement of log.Printf. However, it still does
// runtime.Caller() if MLOG is enabled at all, which may be
// suboptimal.
func Printf(format string, args ...interface{}) {
	st := atomic.LoadInt32(&status)
	if st == StateDisabled {
		return
	}
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		return
	}
	Printf2(file, format, args...)
}

var dumpGids = true

// Printf2 is the premier choice instead of Printf. It is supplied
// with the name of the file, and therefore has no runtime penalty to
// speak of when using only partial MLOG match.
func Printf2(file string, format string, args ...interface{}) {
	st := atomic.LoadInt32(&status)
	if st == StateDisabled {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	if st < StateDisabled {
		initialize()
		st = atomic.LoadInt32(&status)
		if st <= StateDisabled {
			return
		}
	}
	debug, ok := file2Debug[file]
	if !ok {
		debug = patternRegexp.MatchString(file)
		file2Debug[file] = debug
	}
	if !debug {
		return
	}
	depth := runtime.Callers(1, callers)
	if depth < minDepth {
		minDepth = depth
	}
	depth -= minDepth
	if depth > 0 {
		format = fmt.Sprint(strings.Repeat(".", depth), format)
	}
	if dumpGids {
		format = fmt.Sprintf("%8d %s", gid.GetGoroutineID(), format)
	}
	logger.Printf(format, args...)
}

// Panicf halts: the message is written to the current logger (even
// if tracing is disabled) and then panic is raised with it.
func Panicf(file string, format string, args ...interface{}) {
	s := fmt.Sprintf("%s: %s", file, fmt.Sprintf(format, args...))
	mutex.Lock()
	l := logger
	mutex.Unlock()
	l.Output(2, "PANIC "+s)
	panic(s)
}
