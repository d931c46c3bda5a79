// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to cache recent output in memory
package log

import (
	"flag"
	"fmt"
	golog "log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	flagV        = flag.Int("vv", 0, "verbosity")
	verbosity    atomic.Int64
	verbositySet atomic.Bool
	mu           sync.Mutex
	cache        *ringCache
	prependTime  = true // for testing
)

// SetVerbosity overrides the -vv flag.
func SetVerbosity(v int) {
	verbosity.Store(int64(v))
	verbositySet.Store(true)
}

// V reports whether messages of level v are printed.
func V(v int) bool {
	if verbositySet.Load() {
		return int64(v) <= verbosity.Load()
	}
	return v <= *flagV
}

// EnableLogCaching enables in memory caching of log output.
// Caches up to maxLines, but no more than maxMem bytes.
// Cached output can later be queried with CachedLogOutput.
func EnableLogCaching(maxLines, maxMem int) {
	mu.Lock()
	defer mu.Unlock()
	if cache != nil {
		Fatalf("log caching is already enabled")
	}
	if maxLines < 1 || maxMem < 1 {
		panic("invalid maxLines/maxMem")
	}
	cache = &ringCache{
		maxMem:  maxMem,
		entries: make([]string, maxLines),
	}
}

// CachedLogOutput retrieves cached log output.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	if cache == nil {
		return ""
	}
	return cache.String()
}

func Logf(v int, msg string, args ...any) {
	mu.Lock()
	if cache != nil && v <= 1 {
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		cache.add(fmt.Sprintf(timeStr+msg, args...))
	}
	mu.Unlock()

	if V(v) {
		golog.Printf(msg, args...)
	}
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...any) {
	golog.Fatalf(msg, args...)
}

// ringCache keeps the last lines of output within the memory limit.
type ringCache struct {
	mem     int
	maxMem  int
	pos     int
	entries []string
}

func (c *ringCache) add(line string) {
	c.mem -= len(c.entries[c.pos])
	c.entries[c.pos] = line
	c.mem += len(line)
	c.pos = (c.pos + 1) % len(c.entries)
	// The newest line always stays, even if it alone exceeds the limit.
	for i := 0; i < len(c.entries)-1 && c.mem > c.maxMem; i++ {
		pos := (c.pos + i) % len(c.entries)
		c.mem -= len(c.entries[pos])
		c.entries[pos] = ""
	}
	if c.mem < 0 {
		panic("log cache size underflow")
	}
}

func (c *ringCache) String() string {
	buf := new(strings.Builder)
	for i := range c.entries {
		pos := (c.pos + i) % len(c.entries)
		if c.entries[pos] == "" {
			continue
		}
		buf.WriteString(c.entries[pos])
		buf.WriteByte('\n')
	}
	return buf.String()
}
