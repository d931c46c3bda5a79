// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover implements the coverage set model: locations visited by one
// execution, set operations over them and the canonical path digest.
package cover

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/greyfuzz/greyfuzz/pkg/hash"
)

// Location identifies one unit of target code (a line or a basic block).
// Func groups locations that belong to the same function.
type Location struct {
	Func string
	Line int
}

func (loc Location) String() string {
	return fmt.Sprintf("%v:%v", loc.Func, loc.Line)
}

// Less defines the canonical order: by function, then by line.
func (loc Location) Less(other Location) bool {
	if loc.Func != other.Func {
		return loc.Func < other.Func
	}
	return loc.Line < other.Line
}

// Cover is the set of locations visited during one execution.
type Cover map[Location]struct{}

func FromLocations(locs ...Location) Cover {
	if len(locs) == 0 {
		return nil
	}
	cov := make(Cover, len(locs))
	for _, loc := range locs {
		cov[loc] = struct{}{}
	}
	return cov
}

func (cov *Cover) Add(loc Location) {
	if *cov == nil {
		*cov = make(Cover)
	}
	(*cov)[loc] = struct{}{}
}

func (cov Cover) Len() int {
	return len(cov)
}

func (cov Cover) Empty() bool {
	return len(cov) == 0
}

func (cov Cover) Contains(loc Location) bool {
	_, ok := cov[loc]
	return ok
}

func (cov Cover) Copy() Cover {
	if cov == nil {
		return nil
	}
	c := make(Cover, len(cov))
	for loc := range cov {
		c[loc] = struct{}{}
	}
	return c
}

// Merge adds all locations of cov1 to cov and returns the number of new ones.
func (cov *Cover) Merge(cov1 Cover) int {
	if cov1.Empty() {
		return 0
	}
	if *cov == nil {
		*cov = make(Cover, len(cov1))
	}
	added := 0
	for loc := range cov1 {
		if _, ok := (*cov)[loc]; !ok {
			(*cov)[loc] = struct{}{}
			added++
		}
	}
	return added
}

func (cov Cover) Equal(cov1 Cover) bool {
	if len(cov) != len(cov1) {
		return false
	}
	for loc := range cov {
		if _, ok := cov1[loc]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the locations in canonical order.
func (cov Cover) Sorted() []Location {
	locs := make([]Location, 0, len(cov))
	for loc := range cov {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool {
		return locs[i].Less(locs[j])
	})
	return locs
}

// Funcs returns the distinct functions the cover touches, sorted.
func (cov Cover) Funcs() []string {
	seen := make(map[string]bool)
	var funcs []string
	for loc := range cov {
		if !seen[loc.Func] {
			seen[loc.Func] = true
			funcs = append(funcs, loc.Func)
		}
	}
	sort.Strings(funcs)
	return funcs
}

// Serialize returns the canonical encoding of the set: locations in canonical
// order, each as length-prefixed function name followed by the line.
// Equal sets always produce equal encodings regardless of insertion order.
func (cov Cover) Serialize() []byte {
	buf := new(bytes.Buffer)
	var tmp [binary.MaxVarintLen64]byte
	for _, loc := range cov.Sorted() {
		n := binary.PutUvarint(tmp[:], uint64(len(loc.Func)))
		buf.Write(tmp[:n])
		buf.WriteString(loc.Func)
		n = binary.PutVarint(tmp[:], int64(loc.Line))
		buf.Write(tmp[:n])
	}
	return buf.Bytes()
}

// Key is the canonical encoding as a string, usable as an exact map key.
func (cov Cover) Key() string {
	return string(cov.Serialize())
}

// PathID is the digest of the canonical encoding.
func (cov Cover) PathID() hash.Sig {
	return hash.Hash(cov.Serialize())
}

// Union returns a new set containing the locations of all covs.
func Union(covs ...Cover) Cover {
	var res Cover
	for _, cov := range covs {
		res.Merge(cov)
	}
	return res
}
