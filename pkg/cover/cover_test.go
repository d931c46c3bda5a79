// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/greyfuzz/greyfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPathIDIgnoresInsertionOrder(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount(); i++ {
		var locs []Location
		for n := r.Intn(20); n > 0; n-- {
			locs = append(locs, Location{
				Func: string(rune('a' + r.Intn(5))),
				Line: r.Intn(10),
			})
		}
		shuffled := append([]Location{}, locs...)
		r.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		cov0, cov1 := FromLocations(locs...), FromLocations(shuffled...)
		if !cov0.Equal(cov1) {
			t.Fatalf("sets differ: %v vs %v", cov0.Sorted(), cov1.Sorted())
		}
		if cov0.PathID() != cov1.PathID() {
			t.Fatalf("path ids differ for %v", cov0.Sorted())
		}
		if cov0.Key() != cov1.Key() {
			t.Fatalf("keys differ for %v", cov0.Sorted())
		}
	}
}

func TestPathIDDistinguishesSets(t *testing.T) {
	covs := []Cover{
		nil,
		FromLocations(Location{"f", 1}),
		FromLocations(Location{"f", 2}),
		FromLocations(Location{"f", 1}, Location{"f", 2}),
		FromLocations(Location{"g", 1}),
		// Length prefixes keep "ab"+"c" apart from "a"+"bc".
		FromLocations(Location{"ab", 1}, Location{"c", 1}),
		FromLocations(Location{"a", 1}, Location{"bc", 1}),
		FromLocations(Location{"f", -1}),
	}
	seen := make(map[string]int)
	for i, cov := range covs {
		id := cov.PathID().String()
		if prev, ok := seen[id]; ok {
			t.Fatalf("cover %v and %v share path id", prev, i)
		}
		seen[id] = i
	}
}

func TestSorted(t *testing.T) {
	cov := FromLocations(
		Location{"b", 1},
		Location{"a", 7},
		Location{"a", 2},
		Location{"c", 0},
	)
	want := []Location{{"a", 2}, {"a", 7}, {"b", 1}, {"c", 0}}
	if diff := cmp.Diff(want, cov.Sorted()); diff != "" {
		t.Fatal(diff)
	}
	assert.Equal(t, []string{"a", "b", "c"}, cov.Funcs())
}

func TestMergeAndUnion(t *testing.T) {
	var cov Cover
	assert.Equal(t, 0, cov.Merge(nil))
	assert.Equal(t, 2, cov.Merge(FromLocations(Location{"f", 1}, Location{"f", 2})))
	assert.Equal(t, 1, cov.Merge(FromLocations(Location{"f", 2}, Location{"f", 3})))
	assert.Equal(t, 3, cov.Len())

	u := Union(FromLocations(Location{"a", 1}), nil, FromLocations(Location{"a", 1}, Location{"b", 1}))
	assert.Equal(t, 2, u.Len())
	assert.True(t, u.Contains(Location{"b", 1}))
	assert.False(t, u.Contains(Location{"b", 2}))
}

func TestCopyIsIndependent(t *testing.T) {
	cov := FromLocations(Location{"f", 1})
	c := cov.Copy()
	c.Add(Location{"f", 2})
	assert.Equal(t, 1, cov.Len())
	assert.Equal(t, 2, c.Len())
	assert.False(t, cov.Equal(c))
	var empty Cover
	assert.Nil(t, empty.Copy())
	assert.True(t, empty.Equal(Cover{}))
}
