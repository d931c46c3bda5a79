// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/greyfuzz/greyfuzz/pkg/corpus"
	"github.com/greyfuzz/greyfuzz/pkg/maze"
	"github.com/greyfuzz/greyfuzz/pkg/mutator"
	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/schedule"
	"github.com/greyfuzz/greyfuzz/pkg/testutil"
	"github.com/greyfuzz/greyfuzz/pkg/tracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crashme(ctx context.Context, s string) (any, error) {
	tracer.Line(ctx, "crashme", 1)
	if len(s) > 0 && s[0] == 'b' {
		tracer.Line(ctx, "crashme", 2)
		if len(s) > 1 && s[1] == 'a' {
			tracer.Line(ctx, "crashme", 3)
			if len(s) > 2 && s[2] == 'd' {
				tracer.Line(ctx, "crashme", 4)
				if len(s) > 3 && s[3] == '!' {
					panic("Oops!")
				}
			}
		}
	}
	return s, nil
}

// twoPaths distinguishes only inputs starting with 'a' from the rest.
func twoPaths(ctx context.Context, s string) (any, error) {
	tracer.Line(ctx, "two_paths", 1)
	if strings.HasPrefix(s, "a") {
		tracer.Line(ctx, "two_paths", 2)
	} else {
		tracer.Line(ctx, "two_paths", 3)
	}
	return s, nil
}

func constant(ctx context.Context, s string) (any, error) {
	tracer.Line(ctx, "constant", 1)
	return s, nil
}

func newTestFuzzer(t *testing.T, cfg *Config) *Fuzzer {
	if cfg.Mutator == nil {
		mut, err := mutator.New()
		require.NoError(t, err)
		cfg.Mutator = mut
	}
	cfg.Logf = func(level int, msg string, args ...interface{}) {
		if level > 1 {
			return
		}
		t.Logf(msg, args...)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fuzzer, err := NewFuzzer(ctx, cfg, rand.New(testutil.RandSource(t)))
	require.NoError(t, err)
	return fuzzer
}

func TestNewFuzzerErrors(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(0))
	mut, err := mutator.New()
	require.NoError(t, err)

	_, err = NewFuzzer(ctx, &Config{Mutator: mut}, rnd)
	assert.ErrorIs(t, err, ErrNoSeeds)
	_, err = NewFuzzer(ctx, &Config{Seeds: []string{"x"}}, rnd)
	assert.Error(t, err)
	_, err = NewFuzzer(ctx, &Config{Seeds: []string{"x"}, Mutator: mut,
		MinTrialsExp: 4, MaxTrialsExp: 2}, rnd)
	assert.Error(t, err)

	cfg := &Config{Seeds: []string{"x"}, Mutator: mut, Schedule: schedule.AFLFast{Exponent: 5}}
	_, err = NewFuzzer(ctx, cfg, rnd)
	require.NoError(t, err)
	assert.True(t, cfg.CountPaths)
	assert.Equal(t, DefaultMinTrialsExp, cfg.MinTrialsExp)
	assert.Equal(t, DefaultMaxTrialsExp, cfg.MaxTrialsExp)
}

func TestSeedingPhase(t *testing.T) {
	seeds := []string{"good", "", "bad", "good"}
	fuzzer := newTestFuzzer(t, &Config{Seeds: seeds, RecordInputs: true})
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	results, err := fuzzer.Runs(context.Background(), r, len(seeds))
	require.NoError(t, err)
	for i, res := range results {
		assert.Equal(t, seeds[i], res.Input)
	}
	assert.Equal(t, seeds, fuzzer.Inputs())
	// "good" and "" cover the same lines, "good" again brings nothing new.
	assert.Equal(t, []string{"good", "bad"}, fuzzer.Population().Inputs())
	assert.Equal(t, 4, fuzzer.Stats.statExecSeed.Val())
	assert.Equal(t, 0, fuzzer.Stats.statExecFuzz.Val())
}

func TestPassingSeed(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"good"}})
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	results, err := fuzzer.Runs(context.Background(), r, 10)
	require.NoError(t, err)
	require.Len(t, results, 10)
	assert.Equal(t, "good", results[0].Input)
	assert.Equal(t, runner.Pass, results[0].Outcome)
	for _, res := range results {
		assert.Equal(t, runner.Pass, res.Outcome, "%q", res.Input)
	}
	assert.Equal(t, 0, fuzzer.Fails())
	assert.Equal(t, 10, fuzzer.Execs())
}

func TestFailuresAreFuzzed(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"bad!", "bad!!"}})
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	results, err := fuzzer.Runs(context.Background(), r, 100)
	require.NoError(t, err)
	assert.Equal(t, runner.Fail, results[0].Outcome)
	assert.Equal(t, runner.Fail, results[1].Outcome)
	var panicErr *runner.PanicError
	assert.ErrorAs(t, results[0].Err, &panicErr)
	// The faulting seed is still admitted and mutated.
	assert.Contains(t, fuzzer.Population().Inputs(), "bad!")
	assert.GreaterOrEqual(t, fuzzer.Fails(), 2)
}

func TestAdmissionMonotonicity(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"b", "xyz"}})
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	pop := fuzzer.Population()
	prev := 0
	for i := 0; i < 1000; i++ {
		res := fuzzer.Run(context.Background(), r)
		cur := pop.Len()
		switch cur {
		case prev:
			assert.True(t, pop.Seen(res.Cover))
		case prev + 1:
			seeds := pop.Seeds()
			assert.True(t, seeds[len(seeds)-1].Cover.Equal(res.Cover))
			assert.Equal(t, res.Input, seeds[len(seeds)-1].Data)
		default:
			t.Fatalf("population grew from %v to %v", prev, cur)
		}
		prev = cur
	}
	// No two seeds share a coverage set.
	keys := make(map[string]bool)
	for _, seed := range pop.Seeds() {
		key := seed.Cover.Key()
		assert.False(t, keys[key], "%v", seed)
		keys[key] = true
	}
}

func TestFrequencyAccounting(t *testing.T) {
	const N = 300
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:    []string{"abc", "def"},
		Schedule: schedule.AFLFast{Exponent: 5},
	})
	r := runner.NewCoverageRunner(runner.TargetFunc(constant))
	results, err := fuzzer.Runs(context.Background(), r, N)
	require.NoError(t, err)
	assert.Equal(t, 1, fuzzer.Population().Len())
	freq := fuzzer.PathFrequency()
	assert.Equal(t, 1, freq.Len())
	assert.Equal(t, N, freq.Get(results[0].Cover.PathID()))
	assert.Equal(t, N, freq.Total())
}

func TestFrequencyDisabled(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"abc"}})
	r := runner.NewCoverageRunner(runner.TargetFunc(constant))
	_, err := fuzzer.Runs(context.Background(), r, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, fuzzer.PathFrequency().Len())
}

func TestBoostedScheduleFavorsRarePath(t *testing.T) {
	s := schedule.AFLFast{Exponent: 5}
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:    []string{"aaaaaaaa", "b"},
		Schedule: s,
	})
	r := runner.NewCoverageRunner(runner.TargetFunc(twoPaths))
	_, err := fuzzer.Runs(context.Background(), r, 1000)
	require.NoError(t, err)
	seeds := fuzzer.Population().Seeds()
	require.Len(t, seeds, 2)
	freq := fuzzer.PathFrequency()
	// Energies only differ once the frequencies diverge.
	for i := 0; freq.Get(seeds[0].PathID) == freq.Get(seeds[1].PathID); i++ {
		require.Less(t, i, 1000)
		fuzzer.Run(context.Background(), r)
	}
	assert.Equal(t, fuzzer.Execs(), freq.Total())
	rare, common := seeds[0], seeds[1]
	if freq.Get(rare.PathID) > freq.Get(common.PathID) {
		rare, common = common, rare
	}
	s.AssignEnergy(seeds, freq)
	t.Logf("rare %v: freq %v energy %v, common %v: freq %v energy %v",
		rare, freq.Get(rare.PathID), rare.Energy, common, freq.Get(common.PathID), common.Energy)
	assert.Greater(t, rare.Energy, common.Energy)
}

func classicMaze(t *testing.T) *maze.Maze {
	m, err := maze.Parse(maze.Classic)
	require.NoError(t, err)
	return m
}

func mazeMutator(t *testing.T) *mutator.Mutator {
	mut, err := mutator.NewMaze([]string{"L", "R", "U", "D"})
	require.NoError(t, err)
	return mut
}

func TestSolveMaze(t *testing.T) {
	m := classicMaze(t)
	assert.Equal(t, maze.Valid, maze.Classify(m.Walk(context.Background(), "")))

	fuzzer := newTestFuzzer(t, &Config{
		Seeds:    []string{" "},
		Mutator:  mazeMutator(t),
		Schedule: schedule.NewAFLGo(m.Distances()),
	})
	r := runner.NewCoverageRunner(m.Target())
	const (
		budget = 20000
		batch  = 500
	)
	solved := func() string {
		for _, input := range fuzzer.Population().Inputs() {
			if maze.Classify(m.Walk(context.Background(), input)) == maze.Solved {
				return input
			}
		}
		return ""
	}
	for trials := 0; trials < budget; trials += batch {
		_, err := fuzzer.Runs(context.Background(), r, batch)
		require.NoError(t, err)
		if input := solved(); input != "" {
			t.Logf("solved after %v trials with %q, %v seeds",
				fuzzer.Execs(), input, fuzzer.Population().Len())
			res := r.Run(context.Background(), input)
			assert.Contains(t, res.Value.(string), "SOLVED")
			return
		}
	}
	t.Fatalf("the maze is not solved after %v trials", budget)
}

func TestRunParallel(t *testing.T) {
	const trials = 2000
	m := classicMaze(t)
	updates := make(chan corpus.NewSeedEvent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:    []string{"", "D", "DD", "R"},
		Mutator:  mazeMutator(t),
		Schedule: schedule.AFLFast{Exponent: 5},
		Corpus:   corpus.NewMonitoredPopulation(ctx, updates),
	})
	events := make(chan int)
	go func() {
		n := 0
		for {
			select {
			case <-ctx.Done():
				events <- n
				return
			case <-updates:
				n++
			}
		}
	}()
	err := fuzzer.RunParallel(ctx, func() runner.Runner {
		return runner.NewCoverageRunner(m.Target())
	}, trials, 4)
	require.NoError(t, err)
	cancel()
	assert.Equal(t, trials, fuzzer.Execs())
	assert.Equal(t, trials, fuzzer.PathFrequency().Total())
	assert.Equal(t, 4, fuzzer.Stats.statExecSeed.Val())
	pop := fuzzer.Population()
	assert.Equal(t, pop.Len(), <-events)
	assert.Equal(t, pop.Len(), fuzzer.PathFrequency().Len())
	keys := make(map[string]bool)
	for _, seed := range pop.Seeds() {
		keys[seed.Cover.Key()] = true
	}
	assert.Len(t, keys, pop.Len())
}

func TestRunParallelCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"abc"}})
	runs := 0
	stopper := runner.TargetFunc(func(ctx context.Context, s string) (any, error) {
		runs++
		if runs == 10 {
			cancel()
		}
		return constant(ctx, s)
	})
	err := fuzzer.RunParallel(ctx, func() runner.Runner {
		return runner.NewCoverageRunner(stopper)
	}, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, fuzzer.Execs())
}

func TestRunsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"abc"}})
	runs := 0
	r := runner.NewCoverageRunner(runner.TargetFunc(func(ctx context.Context, s string) (any, error) {
		runs++
		if runs == 5 {
			cancel()
		}
		return constant(ctx, s)
	}))
	results, err := fuzzer.Runs(ctx, r, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 5)
	// Every finished iteration is fully accounted.
	assert.Equal(t, 5, fuzzer.Execs())
	assert.Equal(t, 1, fuzzer.Population().Len())
}

func TestReset(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:        []string{"bad", "good"},
		Schedule:     schedule.AFLFast{Exponent: 1},
		RecordInputs: true,
	})
	id := fuzzer.RunID()
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	_, err := fuzzer.Runs(context.Background(), r, 50)
	require.NoError(t, err)
	require.NotZero(t, fuzzer.Population().Len())
	fuzzer.Reset()
	assert.Zero(t, fuzzer.Population().Len())
	assert.Zero(t, fuzzer.PathFrequency().Len())
	assert.NotEqual(t, id, fuzzer.RunID())
	assert.Equal(t, "bad", fuzzer.Fuzz())
	assert.Equal(t, "good", fuzzer.Fuzz())
	assert.Len(t, fuzzer.Inputs(), 52)
}

func TestMutationTrials(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:        []string{"abcdefghijklmnopqrstuvwxyz0123456789"},
		MinTrialsExp: 3,
		MaxTrialsExp: 3,
	})
	r := runner.NewCoverageRunner(runner.TargetFunc(constant))
	fuzzer.Run(context.Background(), r)
	rnd := rand.New(testutil.RandSource(t))
	seed := fuzzer.Population().Seeds()[0]
	for i := 0; i < 100; i++ {
		// Every step changes the length by at most one character.
		cand := fuzzer.mutate(rnd, seed)
		assert.InDelta(t, len(seed.Data), len(cand.input), 8)
	}
	// Empty seeds are not mutated.
	empty := &corpus.Seed{Data: ""}
	assert.Equal(t, "", fuzzer.mutate(rnd, empty).input)
}

func TestAdaptiveMutation(t *testing.T) {
	m := classicMaze(t)
	mut := mazeMutator(t)
	fuzzer := newTestFuzzer(t, &Config{
		Seeds:            []string{" "},
		Mutator:          mut,
		Schedule:         schedule.NewAFLGo(m.Distances()),
		AdaptiveMutation: true,
	})
	r := runner.NewCoverageRunner(m.Target())
	_, err := fuzzer.Runs(context.Background(), r, 500)
	require.NoError(t, err)
	stats := fuzzer.OperatorStats()
	assert.Len(t, stats, mut.Len())
	pulls := int64(0)
	for name, arm := range stats {
		t.Logf("%v: reward %.3f, pulls %v", name, arm.Reward, arm.Pulls)
		pulls += arm.Pulls
	}
	assert.Greater(t, pulls, int64(0))
	assert.Greater(t, fuzzer.Population().Len(), 1)
	assert.Greater(t, fuzzer.AdmissionRate(), 0.0)
}

func TestStats(t *testing.T) {
	fuzzer := newTestFuzzer(t, &Config{Seeds: []string{"bad!", "ok"}})
	r := runner.NewCoverageRunner(runner.TargetFunc(crashme))
	_, err := fuzzer.Runs(context.Background(), r, 2)
	require.NoError(t, err)
	vals := make(map[string]int)
	for _, ui := range fuzzer.StatSet().Collect(0) {
		vals[ui.Name] = ui.V
	}
	assert.Equal(t, 2, vals["exec total"])
	assert.Equal(t, 2, vals["exec seeds"])
	assert.Equal(t, 1, vals["fail"])
	assert.Equal(t, 2, vals["seeds"])
	assert.Equal(t, 1000000, vals["admission"])
}
