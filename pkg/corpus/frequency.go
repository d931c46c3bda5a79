// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"maps"
	"sync"

	"github.com/greyfuzz/greyfuzz/pkg/hash"
)

// FrequencyReader gives power schedules read-only access to path counts.
type FrequencyReader interface {
	Get(id hash.Sig) int
}

// PathFrequency counts executions per path.
// Every execution increments the count of its path, admitted or not.
type PathFrequency struct {
	mu     sync.RWMutex
	counts map[hash.Sig]int
	total  int
}

func NewPathFrequency() *PathFrequency {
	return &PathFrequency{
		counts: make(map[hash.Sig]int),
	}
}

// Inc records one more execution of the path and returns the new count.
func (pf *PathFrequency) Inc(id hash.Sig) int {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.counts[id]++
	pf.total++
	return pf.counts[id]
}

func (pf *PathFrequency) Get(id hash.Sig) int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.counts[id]
}

// Len returns the number of distinct paths executed.
func (pf *PathFrequency) Len() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return len(pf.counts)
}

// Total returns the number of counted executions.
func (pf *PathFrequency) Total() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.total
}

func (pf *PathFrequency) Snapshot() map[hash.Sig]int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return maps.Clone(pf.counts)
}

func (pf *PathFrequency) Reset() {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.counts = make(map[hash.Sig]int)
	pf.total = 0
}
