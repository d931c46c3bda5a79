// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package schedule

import (
	"math"

	"github.com/greyfuzz/greyfuzz/pkg/corpus"
)

const (
	// MaxDistance is the distance of functions that can't reach the target.
	MaxDistance = 0xFFFF
	// MinDistance replaces zero distances to keep energies finite.
	MinDistance = 1e-3
)

// SeedDistance returns the average target distance of the functions
// covered by the seed. Functions missing in the map are ignored; a seed
// that covers none of the known functions is MaxDistance away.
// The result is cached in the seed.
func SeedDistance(seed *corpus.Seed, distances map[string]float64) float64 {
	if seed.Distance != corpus.UnsetDistance {
		return seed.Distance
	}
	sum, num := 0.0, 0
	for _, fn := range seed.Cover.Funcs() {
		if d, ok := distances[fn]; ok {
			sum += d
			num++
		}
	}
	dist := float64(MaxDistance)
	if num != 0 {
		dist = sum / float64(num)
	}
	seed.Distance = math.Max(dist, MinDistance)
	return seed.Distance
}

// Directed prefers seeds close to the target:
// energy = (1 / distance)^Exponent.
type Directed struct {
	Distances map[string]float64
	Exponent  float64
}

func NewDirected(distances map[string]float64, exponent float64) *Directed {
	return &Directed{
		Distances: distances,
		Exponent:  exponent,
	}
}

func (s *Directed) Name() string {
	return "directed"
}

func (s *Directed) AssignEnergy(seeds []*corpus.Seed, freq corpus.FrequencyReader) {
	for _, seed := range seeds {
		seed.Energy = math.Pow(1/SeedDistance(seed, s.Distances), s.Exponent)
	}
}

// AFLGo scales energies between the closest and the farthest seed:
// the closest seeds get max-min (1 if all seeds are equally far),
// the others (max-min)/(distance-min).
type AFLGo struct {
	Distances map[string]float64
}

func NewAFLGo(distances map[string]float64) *AFLGo {
	return &AFLGo{Distances: distances}
}

func (s *AFLGo) Name() string {
	return "aflgo"
}

func (s *AFLGo) AssignEnergy(seeds []*corpus.Seed, freq corpus.FrequencyReader) {
	minDist, maxDist := math.Inf(1), math.Inf(-1)
	for _, seed := range seeds {
		d := SeedDistance(seed, s.Distances)
		minDist = math.Min(minDist, d)
		maxDist = math.Max(maxDist, d)
	}
	for _, seed := range seeds {
		switch {
		case seed.Distance == minDist && minDist == maxDist:
			seed.Energy = 1
		case seed.Distance == minDist:
			seed.Energy = maxDist - minDist
		default:
			seed.Energy = (maxDist - minDist) / (seed.Distance - minDist)
		}
	}
}
