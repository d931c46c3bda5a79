// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/greyfuzz/greyfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(m *Mutator) []string {
	var res []string
	for _, op := range m.Operators() {
		res = append(res, op.Name)
	}
	return res
}

func TestOperatorLists(t *testing.T) {
	base, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"delete_random_character",
		"insert_random_character",
		"flip_random_character",
	}, names(base))

	dict, err := NewDict([]string{"GET", "POST"})
	require.NoError(t, err)
	assert.Equal(t, append(names(base), "insert_from_dictionary"), names(dict))

	maze, err := NewMaze([]string{"U", "D", "L", "R"})
	require.NoError(t, err)
	assert.Equal(t, append(names(dict), "delete_last_character", "append_from_dictionary"), names(maze))
	assert.Equal(t, 6, maze.Len())
}

func TestEmptyDictionary(t *testing.T) {
	_, err := NewDict(nil)
	assert.ErrorIs(t, err, ErrEmptyDictionary)
	_, err = NewMaze([]string{})
	assert.ErrorIs(t, err, ErrEmptyDictionary)
	_, err = New(WithMazeOperators())
	assert.ErrorIs(t, err, ErrEmptyDictionary)
}

func TestBadCharRange(t *testing.T) {
	_, err := New(WithCharRange('z', 'a'))
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	words := []string{"U", "D", "L", "R"}
	m, err := NewMaze(words)
	require.NoError(t, err)
	for i := 0; i < testutil.IterCount(); i++ {
		for idx, op := range m.Operators() {
			res := m.Apply(r, "", idx)
			assert.LessOrEqual(t, utf8.RuneCountInString(res), 1, op.Name)
			if op.Name == "delete_last_character" {
				assert.Equal(t, "", res)
			}
		}
	}
}

func TestSingleEdits(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	m, err := New(WithCharRange('a', 'c'))
	require.NoError(t, err)
	for i := 0; i < testutil.IterCount(); i++ {
		s := testutil.RandString(r, 10)
		n := utf8.RuneCountInString(s)
		inserted := m.Apply(r, s, 1)
		assert.Equal(t, n+1, utf8.RuneCountInString(inserted))
		assert.Equal(t, 1, countNew(s, inserted, "abc"), "%q -> %q", s, inserted)
		if n == 0 {
			continue
		}
		deleted := m.Apply(r, s, 0)
		assert.Equal(t, n-1, utf8.RuneCountInString(deleted))
		flipped := []rune(m.Apply(r, s, 2))
		orig := []rune(s)
		require.Len(t, flipped, n)
		diffs := 0
		for j := range orig {
			if x := orig[j] ^ flipped[j]; x != 0 {
				diffs++
				assert.Less(t, x, rune(1<<7))
				assert.Equal(t, 0, int(x&(x-1)), "more than one bit flipped")
			}
		}
		assert.Equal(t, 1, diffs)
	}
}

// countNew returns how many more characters from set dst has compared to src.
func countNew(src, dst, set string) int {
	count := func(s string) int {
		n := 0
		for _, c := range s {
			for _, c1 := range set {
				if c == c1 {
					n++
				}
			}
		}
		return n
	}
	return count(dst) - count(src)
}

func TestDeleteCoversAllPositions(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	m, err := New()
	require.NoError(t, err)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		seen[m.Apply(r, "abc", 0)] = true
	}
	assert.Equal(t, map[string]bool{"bc": true, "ac": true, "ab": true}, seen)
}

func TestMazeOperators(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	words := []string{"U", "D", "L", "R"}
	m, err := NewMaze(words)
	require.NoError(t, err)
	assert.Equal(t, "DDR", m.Apply(r, "DDRL", 4))
	for i := 0; i < 100; i++ {
		res := m.Apply(r, "DD", 5)
		require.Len(t, res, 3)
		assert.Equal(t, "DD", res[:2])
		assert.Contains(t, words, res[2:])
		res = m.Apply(r, "DD", 3)
		require.Len(t, res, 3)
	}
}

func TestMultibyte(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	m, err := New()
	require.NoError(t, err)
	s := "héllo wörld"
	for i := 0; i < testutil.IterCount(); i++ {
		res := m.Mutate(r, s)
		assert.True(t, utf8.ValidString(res), "%q", res)
		n := utf8.RuneCountInString(res) - utf8.RuneCountInString(s)
		assert.True(t, n >= -1 && n <= 1)
	}
}
