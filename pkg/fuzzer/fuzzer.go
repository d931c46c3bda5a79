// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the greybox fuzzing loop: initial seeds are
// executed first, then candidates are produced by mutating seeds selected
// by a power schedule. An input is admitted to the population when its
// coverage set was never observed before.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/greyfuzz/greyfuzz/pkg/corpus"
	"github.com/greyfuzz/greyfuzz/pkg/learning"
	"github.com/greyfuzz/greyfuzz/pkg/mutator"
	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/schedule"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
	"golang.org/x/sync/errgroup"
)

var ErrNoSeeds = errors.New("no initial seeds")

const (
	DefaultMinTrialsExp = 1
	DefaultMaxTrialsExp = 5
	maxTrialsExp        = 30
)

type Config struct {
	Debug bool
	// Seeds are executed unmodified, in order, before any mutation.
	Seeds    []string
	Mutator  *mutator.Mutator
	Schedule schedule.Schedule
	// Corpus receives admitted seeds. A fresh population is used if nil.
	Corpus *corpus.Population
	// CountPaths enables path frequency accounting.
	// It's forced on for schedules that read frequencies.
	CountPaths bool
	// A candidate is the base seed mutated min(len(seed), 2^k) times
	// for k uniformly chosen in [MinTrialsExp, MaxTrialsExp].
	MinTrialsExp int
	MaxTrialsExp int
	// RecordInputs keeps every generated input for Inputs.
	RecordInputs bool
	// AdaptiveMutation lets a bandit choose the operator of every
	// mutation step, rewarding operators that lead to admissions.
	AdaptiveMutation bool
	// Stats is the set the fuzzer registers its metrics in.
	// A private set is used if nil.
	Stats *stat.Set
	Logf  func(level int, msg string, args ...interface{})
}

type Fuzzer struct {
	Stats
	Config *Config

	ctx     context.Context
	mu      sync.Mutex
	rnd     *rand.Rand
	runID   uuid.UUID
	seedIdx int
	inputs  []string

	// schedMu serializes energy assignment and selection.
	schedMu sync.Mutex
	freq    *corpus.PathFrequency
	opMAB   *learning.PlainMAB[int]
}

func NewFuzzer(ctx context.Context, cfg *Config, rnd *rand.Rand) (*Fuzzer, error) {
	if len(cfg.Seeds) == 0 {
		return nil, ErrNoSeeds
	}
	if cfg.Mutator == nil {
		return nil, fmt.Errorf("no mutator")
	}
	if cfg.Schedule == nil {
		cfg.Schedule = schedule.Uniform{}
	}
	if schedule.UsesFrequency(cfg.Schedule) {
		cfg.CountPaths = true
	}
	if cfg.MinTrialsExp == 0 && cfg.MaxTrialsExp == 0 {
		cfg.MinTrialsExp, cfg.MaxTrialsExp = DefaultMinTrialsExp, DefaultMaxTrialsExp
	}
	if cfg.MinTrialsExp < 0 || cfg.MinTrialsExp > cfg.MaxTrialsExp || cfg.MaxTrialsExp > maxTrialsExp {
		return nil, fmt.Errorf("bad mutation trials exponent range [%v, %v]",
			cfg.MinTrialsExp, cfg.MaxTrialsExp)
	}
	if cfg.Corpus == nil {
		cfg.Corpus = corpus.NewPopulation(ctx)
	}
	if cfg.Stats == nil {
		cfg.Stats = stat.NewSet(nil)
	}
	fuzzer := &Fuzzer{
		Config: cfg,
		ctx:    ctx,
		rnd:    rnd,
		runID:  uuid.New(),
		freq:   corpus.NewPathFrequency(),
	}
	if cfg.AdaptiveMutation {
		fuzzer.opMAB = &learning.PlainMAB[int]{
			MinLearningRate: 0.02,
			ExplorationRate: 0.1,
		}
		for i := 0; i < cfg.Mutator.Len(); i++ {
			fuzzer.opMAB.AddArms(i)
		}
	}
	fuzzer.Stats = newStats(cfg.Stats, fuzzer)
	if cfg.Debug {
		go fuzzer.logCurrentStats()
	}
	return fuzzer, nil
}

type candidate struct {
	input   string
	seeding bool
	actions []learning.Action[int]
}

// Fuzz returns the next input: the next initial seed while there are
// unused ones, a mutated population seed afterwards.
// In the mutation phase the population must not be empty.
func (fuzzer *Fuzzer) Fuzz() string {
	return fuzzer.next(fuzzer.rand()).input
}

func (fuzzer *Fuzzer) next(rnd *rand.Rand) *candidate {
	fuzzer.mu.Lock()
	var cand *candidate
	if fuzzer.seedIdx < len(fuzzer.Config.Seeds) {
		cand = &candidate{
			input:   fuzzer.Config.Seeds[fuzzer.seedIdx],
			seeding: true,
		}
		fuzzer.seedIdx++
	}
	fuzzer.mu.Unlock()
	if cand == nil {
		cand = fuzzer.mutate(rnd, fuzzer.choose(rnd))
	}
	if fuzzer.Config.RecordInputs {
		fuzzer.mu.Lock()
		fuzzer.inputs = append(fuzzer.inputs, cand.input)
		fuzzer.mu.Unlock()
	}
	return cand
}

func (fuzzer *Fuzzer) choose(rnd *rand.Rand) *corpus.Seed {
	var freq corpus.FrequencyReader
	if fuzzer.Config.CountPaths {
		freq = fuzzer.freq
	}
	fuzzer.schedMu.Lock()
	defer fuzzer.schedMu.Unlock()
	return schedule.Choose(fuzzer.Config.Schedule, rnd, fuzzer.Config.Corpus.Seeds(), freq)
}

func (fuzzer *Fuzzer) mutate(rnd *rand.Rand, seed *corpus.Seed) *candidate {
	cfg := fuzzer.Config
	exp := cfg.MinTrialsExp + rnd.Intn(cfg.MaxTrialsExp-cfg.MinTrialsExp+1)
	trials := min(utf8.RuneCountInString(seed.Data), 1<<exp)
	cand := &candidate{input: seed.Data}
	for i := 0; i < trials; i++ {
		if fuzzer.opMAB == nil {
			cand.input = cfg.Mutator.Mutate(rnd, cand.input)
			continue
		}
		action := fuzzer.opMAB.Action(rnd)
		cand.actions = append(cand.actions, action)
		cand.input = cfg.Mutator.Apply(rnd, cand.input, action.Arm)
	}
	return cand
}

// Run executes one iteration: it produces the next input, runs it and
// does the admission and path frequency bookkeeping.
func (fuzzer *Fuzzer) Run(ctx context.Context, r runner.Runner) runner.Result {
	return fuzzer.run(ctx, r, fuzzer.rand())
}

func (fuzzer *Fuzzer) run(ctx context.Context, r runner.Runner, rnd *rand.Rand) runner.Result {
	cand := fuzzer.next(rnd)
	start := time.Now()
	res := r.Run(ctx, cand.input)
	fuzzer.statExecTime.Add(int(time.Since(start) / time.Microsecond))
	fuzzer.processResult(cand, res)
	return res
}

func (fuzzer *Fuzzer) processResult(cand *candidate, res runner.Result) {
	fuzzer.statExecTotal.Add(1)
	if cand.seeding {
		fuzzer.statExecSeed.Add(1)
	} else {
		fuzzer.statExecFuzz.Add(1)
	}
	switch res.Outcome {
	case runner.Fail:
		fuzzer.statFail.Add(1)
		fuzzer.Logf(2, "input %q failed: %v", cand.input, res.Err)
	case runner.Unresolved:
		fuzzer.statUnresolved.Add(1)
	}
	if fuzzer.Config.CountPaths {
		// Counted before admission, so that every seed a concurrent
		// selection can see already has a frequency.
		fuzzer.freq.Inc(res.Cover.PathID())
	}
	seed, admitted := fuzzer.Config.Corpus.Admit(cand.input, res.Cover)
	if admitted {
		fuzzer.Logf(1, "new seed %v (cover %v, %v seeds)", seed, seed.Cover.Len(),
			fuzzer.Config.Corpus.Len())
	}
	reward := 0
	if admitted {
		reward = 1
	}
	fuzzer.admissions.Save(reward, 1)
	for _, action := range cand.actions {
		fuzzer.opMAB.SaveReward(action, float64(reward))
	}
}

// Runs executes trials iterations one after another. It stops early only
// if ctx is cancelled, and returns the results of the finished iterations.
func (fuzzer *Fuzzer) Runs(ctx context.Context, r runner.Runner, trials int) ([]runner.Result, error) {
	rnd := fuzzer.rand()
	var results []runner.Result
	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, fuzzer.run(ctx, r, rnd))
	}
	return results, nil
}

// RunParallel executes trials iterations on procs workers, each with its own
// runner. Initial seeds are run on a single worker before the others start.
// With trials <= 0 it runs until ctx is cancelled.
func (fuzzer *Fuzzer) RunParallel(ctx context.Context, newRunner func() runner.Runner, trials, procs int) error {
	if procs <= 0 {
		procs = runtime.GOMAXPROCS(0)
	}
	var started atomic.Int64
	claim := func() bool {
		return trials <= 0 || started.Add(1) <= int64(trials)
	}
	rnd := fuzzer.rand()
	r := newRunner()
	for fuzzer.seeding() && claim() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fuzzer.run(ctx, r, rnd)
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < procs; i++ {
		g.Go(func() error {
			r := newRunner()
			rnd := fuzzer.rand()
			for claim() {
				if err := ctx.Err(); err != nil {
					return err
				}
				fuzzer.run(ctx, r, rnd)
			}
			return nil
		})
	}
	return g.Wait()
}

func (fuzzer *Fuzzer) seeding() bool {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	return fuzzer.seedIdx < len(fuzzer.Config.Seeds)
}

// Reset starts a new run: the initial seeds are used again and the
// population and path frequencies are cleared. Recorded inputs are kept.
// It must not be called concurrently with Run.
func (fuzzer *Fuzzer) Reset() {
	fuzzer.mu.Lock()
	fuzzer.seedIdx = 0
	fuzzer.runID = uuid.New()
	fuzzer.mu.Unlock()
	fuzzer.Config.Corpus.Reset()
	fuzzer.freq.Reset()
}

func (fuzzer *Fuzzer) Population() *corpus.Population {
	return fuzzer.Config.Corpus
}

// PathFrequency returns the number of executions per path.
// It stays empty unless paths are counted.
func (fuzzer *Fuzzer) PathFrequency() *corpus.PathFrequency {
	return fuzzer.freq
}

// Inputs returns all inputs generated so far, if they are recorded.
func (fuzzer *Fuzzer) Inputs() []string {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	return append([]string{}, fuzzer.inputs...)
}

func (fuzzer *Fuzzer) RunID() uuid.UUID {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	return fuzzer.runID
}

// OperatorStats returns what the adaptive mutation has learned so far,
// or nil if it's disabled.
func (fuzzer *Fuzzer) OperatorStats() map[string]learning.ArmStat[int] {
	if fuzzer.opMAB == nil {
		return nil
	}
	ops := fuzzer.Config.Mutator.Operators()
	ret := make(map[string]learning.ArmStat[int])
	for _, arm := range fuzzer.opMAB.Stats() {
		ret[ops[arm.Arm].Name] = arm
	}
	return ret
}

func (fuzzer *Fuzzer) Logf(level int, msg string, args ...interface{}) {
	if fuzzer.Config.Logf == nil {
		return
	}
	fuzzer.Config.Logf(level, msg, args...)
}

func (fuzzer *Fuzzer) rand() *rand.Rand {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	return rand.New(rand.NewSource(fuzzer.rnd.Int63()))
}

func (fuzzer *Fuzzer) logCurrentStats() {
	for {
		select {
		case <-time.After(time.Minute):
		case <-fuzzer.ctx.Done():
			return
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		str := fmt.Sprintf("execs: %d, seeds: %d, paths: %d, heap (MB): %d",
			fuzzer.statExecTotal.Val(), fuzzer.Config.Corpus.Len(),
			fuzzer.freq.Len(), m.Alloc/1000/1000)
		fuzzer.Logf(0, "%s", str)
	}
}
