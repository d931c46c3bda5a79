// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"context"

	"github.com/greyfuzz/greyfuzz/pkg/cover"
)

// PopulationCoverage re-executes every input on a fresh runner and returns
// the coverage of each input and the size of the cumulative union after
// each input.
func PopulationCoverage(ctx context.Context, newRunner func() Runner, inputs []string) (
	[]cover.Cover, []int, error) {
	covs := make([]cover.Cover, 0, len(inputs))
	cumulative := make([]int, 0, len(inputs))
	var all cover.Cover
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return covs, cumulative, err
		}
		res := newRunner().Run(ctx, input)
		covs = append(covs, res.Cover)
		all.Merge(res.Cover)
		cumulative = append(cumulative, all.Len())
	}
	return covs, cumulative, nil
}
