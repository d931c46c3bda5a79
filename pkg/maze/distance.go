// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package maze

import (
	"github.com/greyfuzz/greyfuzz/pkg/schedule"
)

// Distances returns the call graph distance from every function of the maze
// to the target tile function. An open tile calls the tiles of its four
// neighbours and itself; traps and the target call nothing but the render
// function, which calls nothing. Functions that can't reach the target are
// schedule.MaxDistance away.
func (m *Maze) Distances() map[string]float64 {
	dist := make(map[Pos]int)
	dist[m.target] = 0
	queue := []Pos{m.target}
	for len(queue) != 0 {
		callee := queue[0]
		queue = queue[1:]
		for _, caller := range m.callers(callee) {
			if _, ok := dist[caller]; !ok {
				dist[caller] = dist[callee] + 1
				queue = append(queue, caller)
			}
		}
	}
	res := map[string]float64{
		RenderFunc: schedule.MaxDistance,
		EntryFunc:  schedule.MaxDistance,
	}
	for row, tiles := range m.grid {
		for col := range tiles {
			pos := Pos{row, col}
			res[TileFunc(pos)] = schedule.MaxDistance
			if d, ok := dist[pos]; ok {
				res[TileFunc(pos)] = float64(d)
			}
		}
	}
	if d, ok := dist[m.start]; ok {
		res[EntryFunc] = float64(d + 1)
	}
	return res
}

// callers returns the open tiles that call the tile at p.
func (m *Maze) callers(p Pos) []Pos {
	var res []Pos
	for _, c := range []Pos{p, {p.Row, p.Col + 1}, {p.Row, p.Col - 1}, {p.Row + 1, p.Col}, {p.Row - 1, p.Col}} {
		if m.at(c) == open {
			res = append(res, c)
		}
	}
	return res
}
