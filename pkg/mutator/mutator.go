// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator implements character-level mutations of string inputs.
//
// A Mutator holds an ordered list of atomic operators assembled once at
// construction. Mutate picks one operator uniformly and applies it.
// All operators work on characters (runes), not bytes, and all of them are
// defined for the empty string.
package mutator

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrEmptyDictionary = errors.New("mutator dictionary is empty")

// Operator is one atomic mutation.
type Operator struct {
	Name string
	Fn   func(r *rand.Rand, s string) string
}

type Mutator struct {
	ops  []Operator
	lo   rune
	hi   rune
	dict []string
	maze bool
}

type Option func(*Mutator)

const (
	DefaultMinChar = 32
	DefaultMaxChar = 126
)

// WithCharRange sets the inclusive range of characters inserted by
// insert_random_character.
func WithCharRange(lo, hi rune) Option {
	return func(m *Mutator) {
		m.lo, m.hi = lo, hi
	}
}

// WithDictionary registers insert_from_dictionary.
func WithDictionary(words []string) Option {
	return func(m *Mutator) {
		m.dict = append([]string{}, words...)
	}
}

// WithMazeOperators registers delete_last_character and
// append_from_dictionary. It requires a dictionary.
func WithMazeOperators() Option {
	return func(m *Mutator) {
		m.maze = true
	}
}

func New(opts ...Option) (*Mutator, error) {
	m := &Mutator{
		lo: DefaultMinChar,
		hi: DefaultMaxChar,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lo > m.hi || m.lo < 0 {
		return nil, fmt.Errorf("bad character range [%v, %v]", m.lo, m.hi)
	}
	if (m.dict != nil || m.maze) && len(m.dict) == 0 {
		return nil, ErrEmptyDictionary
	}
	m.ops = []Operator{
		{"delete_random_character", m.deleteRandomCharacter},
		{"insert_random_character", m.insertRandomCharacter},
		{"flip_random_character", m.flipRandomCharacter},
	}
	if len(m.dict) != 0 {
		m.ops = append(m.ops, Operator{"insert_from_dictionary", m.insertFromDictionary})
	}
	if m.maze {
		m.ops = append(m.ops,
			Operator{"delete_last_character", deleteLastCharacter},
			Operator{"append_from_dictionary", m.appendFromDictionary},
		)
	}
	return m, nil
}

// NewDict returns a mutator that also splices dictionary words.
func NewDict(words []string, opts ...Option) (*Mutator, error) {
	return New(append([]Option{WithDictionary(words)}, opts...)...)
}

// NewMaze returns a mutator for path-like inputs built from the dictionary.
func NewMaze(words []string, opts ...Option) (*Mutator, error) {
	return New(append([]Option{WithDictionary(words), WithMazeOperators()}, opts...)...)
}

// Mutate applies one uniformly chosen operator to s.
func (m *Mutator) Mutate(r *rand.Rand, s string) string {
	return m.ops[r.Intn(len(m.ops))].Fn(r, s)
}

// Apply applies the operator with index idx to s.
func (m *Mutator) Apply(r *rand.Rand, s string, idx int) string {
	return m.ops[idx].Fn(r, s)
}

func (m *Mutator) Operators() []Operator {
	return append([]Operator{}, m.ops...)
}

func (m *Mutator) Len() int {
	return len(m.ops)
}

func (m *Mutator) randomChar(r *rand.Rand) rune {
	return m.lo + rune(r.Intn(int(m.hi-m.lo)+1))
}

func (m *Mutator) randomWord(r *rand.Rand) string {
	return m.dict[r.Intn(len(m.dict))]
}

func (m *Mutator) insertRandomCharacter(r *rand.Rand, s string) string {
	runes := []rune(s)
	pos := r.Intn(len(runes) + 1)
	return string(runes[:pos]) + string(m.randomChar(r)) + string(runes[pos:])
}

func (m *Mutator) deleteRandomCharacter(r *rand.Rand, s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return m.insertRandomCharacter(r, s)
	}
	pos := r.Intn(len(runes))
	return string(runes[:pos]) + string(runes[pos+1:])
}

func (m *Mutator) flipRandomCharacter(r *rand.Rand, s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return m.insertRandomCharacter(r, s)
	}
	pos := r.Intn(len(runes))
	runes[pos] ^= 1 << r.Intn(7)
	return string(runes)
}

func (m *Mutator) insertFromDictionary(r *rand.Rand, s string) string {
	runes := []rune(s)
	pos := r.Intn(len(runes) + 1)
	return string(runes[:pos]) + m.randomWord(r) + string(runes[pos:])
}

func (m *Mutator) appendFromDictionary(r *rand.Rand, s string) string {
	return s + m.randomWord(r)
}

func deleteLastCharacter(r *rand.Rand, s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	return string(runes[:len(runes)-1])
}
