// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"context"
	"strconv"
	"sync"

	"github.com/greyfuzz/greyfuzz/pkg/cover"
	"github.com/greyfuzz/greyfuzz/pkg/hash"
)

// UnsetDistance marks a seed whose distance to the target was not computed yet.
const UnsetDistance = -1

// Seed is an input that exhibited a coverage set no earlier input had.
// Data, Cover and PathID never change after admission.
// Distance and Energy belong to the power schedule and are only touched
// by the goroutine that currently runs the schedule.
type Seed struct {
	Data     string
	Cover    cover.Cover
	PathID   hash.Sig
	Distance float64
	Energy   float64
}

func (seed *Seed) String() string {
	return seed.PathID.Short() + " " + quote(seed.Data)
}

func quote(s string) string {
	const maxLen = 40
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return strconv.Quote(s)
}

// Population is the append-only set of seeds of one fuzzing run.
// Every distinct coverage set is represented by exactly one seed.
type Population struct {
	ctx     context.Context
	mu      sync.RWMutex
	seeds   []*Seed
	seen    map[string]*Seed // canonical cover encoding -> seed
	cover   cover.Cover      // union of coverage of all seeds
	updates chan<- NewSeedEvent
}

type NewSeedEvent struct {
	Data     string
	PathID   hash.Sig
	NewCover int
}

func NewPopulation(ctx context.Context) *Population {
	return NewMonitoredPopulation(ctx, nil)
}

// NewMonitoredPopulation sends an event on updates for every admitted seed.
func NewMonitoredPopulation(ctx context.Context, updates chan<- NewSeedEvent) *Population {
	return &Population{
		ctx:     ctx,
		seen:    make(map[string]*Seed),
		updates: updates,
	}
}

// Admit adds input as a new seed if cov was never seen before.
// The check and the insertion are atomic.
func (pop *Population) Admit(input string, cov cover.Cover) (*Seed, bool) {
	key := cov.Key()
	pop.mu.Lock()
	defer pop.mu.Unlock()
	if _, ok := pop.seen[key]; ok {
		return nil, false
	}
	seed := &Seed{
		Data:     input,
		Cover:    cov.Copy(),
		PathID:   cov.PathID(),
		Distance: UnsetDistance,
	}
	pop.seen[key] = seed
	pop.seeds = append(pop.seeds, seed)
	newCover := pop.cover.Merge(cov)
	if pop.updates != nil {
		select {
		case <-pop.ctx.Done():
		case pop.updates <- NewSeedEvent{
			Data:     input,
			PathID:   seed.PathID,
			NewCover: newCover,
		}:
		}
	}
	return seed, true
}

// Seen reports whether some seed already has exactly this coverage set.
func (pop *Population) Seen(cov cover.Cover) bool {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	_, ok := pop.seen[cov.Key()]
	return ok
}

// Seeds returns the seeds in admission order.
func (pop *Population) Seeds() []*Seed {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	return append([]*Seed{}, pop.seeds...)
}

func (pop *Population) Len() int {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	return len(pop.seeds)
}

func (pop *Population) Inputs() []string {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	ret := make([]string, len(pop.seeds))
	for i, seed := range pop.seeds {
		ret[i] = seed.Data
	}
	return ret
}

func (pop *Population) Cover() cover.Cover {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	return pop.cover.Copy()
}

// Stats is a snapshot of the relevant current state figures.
type Stats struct {
	Seeds int
	Cover int
	Funcs int
}

func (pop *Population) Stats() Stats {
	pop.mu.RLock()
	defer pop.mu.RUnlock()
	return Stats{
		Seeds: len(pop.seeds),
		Cover: len(pop.cover),
		Funcs: len(pop.cover.Funcs()),
	}
}

func (pop *Population) Reset() {
	pop.mu.Lock()
	defer pop.mu.Unlock()
	pop.seeds = nil
	pop.seen = make(map[string]*Seed)
	pop.cover = nil
}
