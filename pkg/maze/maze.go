// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package maze implements a grid maze target with a checkable success
// condition. An input is a sequence of moves (L, R, U, D) starting at the
// X tile. The walk is instrumented: every tile acts as a function and each
// branch it takes is recorded as a covered location, so the maze can be
// fuzzed with coverage feedback and with distance-directed schedules.
package maze

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/tracer"
)

// Classic is a small maze that requires a 22-step path.
const Classic = `+-+-----+
|X|     |
| | --+ |
| |   | |
| +-- | |
|     |#|
+-----+-+`

type State string

const (
	Valid   State = "VALID"
	Invalid State = "INVALID"
	Solved  State = "SOLVED"
)

var (
	ErrNoStart  = errors.New("maze has no start tile")
	ErrNoTarget = errors.New("maze has no target tile")
)

const (
	EntryFunc  = "maze"
	RenderFunc = "print_maze"
)

// Lines recorded in tile functions.
const (
	lineEnd = iota + 1
	lineLeft
	lineRight
	lineUp
	lineDown
	lineOther
	lineTrap   = 1
	lineTarget = 1
)

type Pos struct {
	Row int
	Col int
}

func (p Pos) String() string {
	return fmt.Sprintf("(%v, %v)", p.Row, p.Col)
}

type tile byte

const (
	wall tile = iota
	open
	target
)

type Maze struct {
	text   string
	grid   [][]tile
	start  Pos
	target Pos
}

// Parse reads a maze: '+', '-' and '|' are traps, ' ' and 'X' are open
// tiles (X is the start, exactly one), '#' is the target (exactly one).
func Parse(text string) (*Maze, error) {
	m := &Maze{text: text}
	starts, targets := 0, 0
	for row, line := range strings.Split(text, "\n") {
		var tiles []tile
		for col, c := range []rune(line) {
			switch c {
			case '+', '-', '|':
				tiles = append(tiles, wall)
			case ' ':
				tiles = append(tiles, open)
			case 'X':
				tiles = append(tiles, open)
				m.start = Pos{row, col}
				starts++
			case '#':
				tiles = append(tiles, target)
				m.target = Pos{row, col}
				targets++
			default:
				return nil, fmt.Errorf("invalid maze character %q at %v", c, Pos{row, col})
			}
		}
		m.grid = append(m.grid, tiles)
	}
	switch {
	case starts == 0:
		return nil, ErrNoStart
	case starts > 1:
		return nil, fmt.Errorf("maze has %v start tiles", starts)
	case targets == 0:
		return nil, ErrNoTarget
	case targets > 1:
		return nil, fmt.Errorf("maze has %v target tiles", targets)
	}
	return m, nil
}

func (m *Maze) Start() Pos {
	return m.start
}

func (m *Maze) TargetPos() Pos {
	return m.target
}

func (m *Maze) at(p Pos) tile {
	if p.Row < 0 || p.Row >= len(m.grid) || p.Col < 0 || p.Col >= len(m.grid[p.Row]) {
		return wall
	}
	return m.grid[p.Row][p.Col]
}

// TileFunc is the name of the function that represents the tile in coverage.
func TileFunc(p Pos) string {
	return fmt.Sprintf("tile_%v_%v", p.Row, p.Col)
}

// Run walks the input and returns the final state and position.
// Covered locations are reported to the trace in ctx, if any.
func (m *Maze) Run(ctx context.Context, input string) (State, Pos) {
	tracer.Line(ctx, EntryFunc, 1)
	defer tracer.Line(ctx, RenderFunc, 1)
	moves := []rune(input)
	pos := m.start
	for index := 0; ; index++ {
		fn := TileFunc(pos)
		switch m.at(pos) {
		case wall:
			tracer.Line(ctx, fn, lineTrap)
			return Invalid, pos
		case target:
			tracer.Line(ctx, fn, lineTarget)
			return Solved, pos
		}
		if index == len(moves) {
			tracer.Line(ctx, fn, lineEnd)
			return Valid, pos
		}
		switch moves[index] {
		case 'L':
			tracer.Line(ctx, fn, lineLeft)
			pos.Col--
		case 'R':
			tracer.Line(ctx, fn, lineRight)
			pos.Col++
		case 'U':
			tracer.Line(ctx, fn, lineUp)
			pos.Row--
		case 'D':
			tracer.Line(ctx, fn, lineDown)
			pos.Row++
		default:
			tracer.Line(ctx, fn, lineOther)
		}
	}
}

// Walk runs the input and returns the state followed by the maze drawing
// with X at the final position.
func (m *Maze) Walk(ctx context.Context, input string) string {
	state, pos := m.Run(ctx, input)
	return m.Render(state, pos)
}

func (m *Maze) Render(state State, pos Pos) string {
	out := new(strings.Builder)
	out.WriteString(string(state))
	out.WriteByte('\n')
	row, col := 0, 0
	for _, c := range m.text {
		if c == '\n' {
			row++
			col = 0
			out.WriteByte('\n')
			continue
		}
		switch {
		case row == pos.Row && col == pos.Col:
			out.WriteByte('X')
		case c == 'X':
			out.WriteByte(' ')
		default:
			out.WriteRune(c)
		}
		col++
	}
	return out.String()
}

// Target adapts the maze for runners: the value is the Walk output.
func (m *Maze) Target() runner.Target {
	return runner.TargetFunc(func(ctx context.Context, input string) (any, error) {
		return m.Walk(ctx, input), nil
	})
}

// Classify extracts the state from a Walk output.
func Classify(output string) State {
	state, _, _ := strings.Cut(output, "\n")
	return State(state)
}
