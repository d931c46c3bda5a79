// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// greyfuzz-cov replays the inputs of a corpus database on the maze target
// and prints coverage of every input and the cumulative coverage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/greyfuzz/greyfuzz/pkg/cover"
	"github.com/greyfuzz/greyfuzz/pkg/db"
	"github.com/greyfuzz/greyfuzz/pkg/maze"
	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/tool"
)

func main() {
	var (
		flagMaze  = flag.String("maze", "", "file with the maze (the classic maze by default)")
		flagFuncs = flag.Bool("funcs", false, "print covered functions")
	)
	defer tool.Init()()
	if flag.NArg() != 1 {
		tool.Failf("usage: greyfuzz-cov [-maze file] [-funcs] corpus.db")
	}
	text := maze.Classic
	if *flagMaze != "" {
		data, err := os.ReadFile(*flagMaze)
		if err != nil {
			tool.Fail(err)
		}
		text = string(data)
	}
	m, err := maze.Parse(text)
	if err != nil {
		tool.Fail(err)
	}
	inputs, err := db.ReadCorpus(flag.Arg(0))
	if err != nil {
		tool.Fail(err)
	}
	if err := report(context.Background(), m, inputs, *flagFuncs, os.Stdout); err != nil {
		tool.Fail(err)
	}
}

func report(ctx context.Context, m *maze.Maze, inputs []string, funcs bool, out io.Writer) error {
	newRunner := func() runner.Runner {
		return runner.NewCoverageRunner(m.Target())
	}
	covs, cumulative, err := runner.PopulationCoverage(ctx, newRunner, inputs)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "#\tcover\tcumulative\tstate\tinput\n")
	for i, input := range inputs {
		state := maze.Classify(m.Walk(ctx, input))
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%q\n", i, covs[i].Len(), cumulative[i], state, input)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if funcs {
		for _, fn := range cover.Union(covs...).Funcs() {
			fmt.Fprintf(out, "%v\n", fn)
		}
	}
	return nil
}
