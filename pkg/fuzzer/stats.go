// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"time"

	"github.com/greyfuzz/greyfuzz/pkg/learning"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
)

const admissionWindow = 1000

type Stats struct {
	set            *stat.Set
	admissions     *learning.RunningRatioAverage[int]
	statExecTotal  *stat.Val
	statExecSeed   *stat.Val
	statExecFuzz   *stat.Val
	statExecTime   *stat.Val
	statFail       *stat.Val
	statUnresolved *stat.Val
	statSeeds      *stat.Val
	statCover      *stat.Val
	statPaths      *stat.Val
	statAdmission  *stat.Val
}

func newStats(set *stat.Set, fuzzer *Fuzzer) Stats {
	s := Stats{
		set:        set,
		admissions: learning.NewRunningRatioAverage[int](admissionWindow),
	}
	s.statExecTotal = set.New("exec total", "Total test input executions",
		stat.Console, stat.Rate{}, stat.Prometheus("greyfuzz_exec_total"))
	s.statExecSeed = set.New("exec seeds", "Executions of initial seeds")
	s.statExecFuzz = set.New("exec fuzz", "Executions of mutated inputs", stat.Rate{})
	s.statExecTime = set.New("exec time", "Test input execution time (us)", stat.Distribution{})
	s.statFail = set.New("fail", "Executions with the FAIL outcome",
		stat.Simple, stat.Prometheus("greyfuzz_fail_total"))
	s.statUnresolved = set.New("unresolved", "Executions with the UNRESOLVED outcome", stat.Simple)
	s.statSeeds = set.New("seeds", "Number of seeds in the population",
		stat.Console, stat.Link("/corpus"), stat.Prometheus("greyfuzz_seeds"),
		func() int { return fuzzer.Config.Corpus.Len() })
	s.statCover = set.New("coverage", "Locations covered by the population",
		stat.Console, stat.Prometheus("greyfuzz_coverage"),
		func() int { return fuzzer.Config.Corpus.Stats().Cover })
	s.statPaths = set.New("paths", "Distinct executed paths",
		stat.Simple, func() int { return fuzzer.freq.Len() })
	s.statAdmission = set.New("admission", "Admitted share of recent executions",
		func() int { return int(s.admissions.Load() * 1e6) },
		func(v int, period time.Duration) string {
			return fmt.Sprintf("%.3f%%", float64(v)/1e4)
		})
	return s
}

// StatSet returns the set the fuzzer metrics are registered in.
func (s *Stats) StatSet() *stat.Set {
	return s.set
}

func (s *Stats) Execs() int {
	return s.statExecTotal.Val()
}

func (s *Stats) Fails() int {
	return s.statFail.Val()
}

func (s *Stats) Unresolved() int {
	return s.statUnresolved.Val()
}

// AdmissionRate is the share of the recent executions that were admitted.
func (s *Stats) AdmissionRate() float64 {
	return s.admissions.Load()
}
