// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package schedule implements power schedules: policies that assign energy
// to seeds and sample the next seed to mutate proportionally to it.
package schedule

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/greyfuzz/greyfuzz/pkg/corpus"
)

type Schedule interface {
	Name() string
	// AssignEnergy sets Energy of every seed.
	// freq is nil for schedules that don't use path frequencies.
	AssignEnergy(seeds []*corpus.Seed, freq corpus.FrequencyReader)
}

// NormalizedEnergy returns seed energies scaled to sum up to 1.
// Calling it on an empty population or with zero total energy is a bug.
func NormalizedEnergy(seeds []*corpus.Seed) []float64 {
	if len(seeds) == 0 {
		panic("normalizing energy of an empty population")
	}
	sum := 0.0
	for _, seed := range seeds {
		sum += seed.Energy
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		panic(fmt.Sprintf("bad total energy %v of %v seeds", sum, len(seeds)))
	}
	norm := make([]float64, len(seeds))
	for i, seed := range seeds {
		norm[i] = seed.Energy / sum
	}
	return norm
}

// Choose assigns energy to seeds and samples one of them with probability
// proportional to its energy.
func Choose(s Schedule, r *rand.Rand, seeds []*corpus.Seed, freq corpus.FrequencyReader) *corpus.Seed {
	s.AssignEnergy(seeds, freq)
	return seeds[sample(r, NormalizedEnergy(seeds))]
}

func sample(r *rand.Rand, weights []float64) int {
	acc := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		sum += w
		acc[i] = sum
	}
	randVal := r.Float64() * sum
	idx := sort.Search(len(acc), func(i int) bool {
		return acc[i] > randVal
	})
	if idx == len(acc) {
		// Float rounding: randVal can't exceed sum, but acc may end below it.
		idx = len(acc) - 1
	}
	for weights[idx] == 0 {
		idx--
	}
	return idx
}

// Uniform gives every seed the same energy.
type Uniform struct{}

func (Uniform) Name() string {
	return "uniform"
}

func (Uniform) AssignEnergy(seeds []*corpus.Seed, freq corpus.FrequencyReader) {
	for _, seed := range seeds {
		seed.Energy = 1
	}
}

// AFLFast boosts seeds that exercise rarely executed paths:
// energy = 1 / frequency(path)^Exponent.
type AFLFast struct {
	Exponent float64
}

func (s AFLFast) Name() string {
	return "aflfast"
}

func (s AFLFast) AssignEnergy(seeds []*corpus.Seed, freq corpus.FrequencyReader) {
	if freq == nil {
		panic("aflfast schedule needs path frequencies")
	}
	for _, seed := range seeds {
		f := freq.Get(seed.PathID)
		if f <= 0 {
			panic(fmt.Sprintf("seed %v has no path frequency", seed))
		}
		seed.Energy = 1 / math.Pow(float64(f), s.Exponent)
	}
}

// UsesFrequency reports whether the schedule reads path frequencies.
func UsesFrequency(s Schedule) bool {
	switch s.(type) {
	case AFLFast, *AFLFast:
		return true
	}
	return false
}

const (
	DefaultExponent         = 5
	DefaultDirectedExponent = 3
)

// ByName creates a schedule from its configuration name.
// distances is only used by directed schedules.
func ByName(name string, exponent float64, distances map[string]float64) (Schedule, error) {
	switch name {
	case "", "uniform":
		return Uniform{}, nil
	case "aflfast":
		if exponent == 0 {
			exponent = DefaultExponent
		}
		if exponent < 0 {
			return nil, fmt.Errorf("bad aflfast exponent %v", exponent)
		}
		return AFLFast{Exponent: exponent}, nil
	case "directed", "aflgo":
		if len(distances) == 0 {
			return nil, fmt.Errorf("%v schedule needs a distance map", name)
		}
		if name == "aflgo" {
			return NewAFLGo(distances), nil
		}
		if exponent == 0 {
			exponent = DefaultDirectedExponent
		}
		if exponent < 0 {
			return nil, fmt.Errorf("bad directed exponent %v", exponent)
		}
		return NewDirected(distances, exponent), nil
	default:
		return nil, fmt.Errorf("unknown schedule %q", name)
	}
}
