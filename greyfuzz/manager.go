// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/greyfuzz/greyfuzz/pkg/config"
	"github.com/greyfuzz/greyfuzz/pkg/corpus"
	"github.com/greyfuzz/greyfuzz/pkg/db"
	"github.com/greyfuzz/greyfuzz/pkg/fuzzer"
	"github.com/greyfuzz/greyfuzz/pkg/hash"
	"github.com/greyfuzz/greyfuzz/pkg/log"
	"github.com/greyfuzz/greyfuzz/pkg/maze"
	"github.com/greyfuzz/greyfuzz/pkg/mgrconfig"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
)

type Manager struct {
	cfg       *mgrconfig.Config
	fuzzer    *fuzzer.Fuzzer
	maze      *maze.Maze
	corpusDB  *db.DB
	updates   chan corpus.NewSeedEvent
	startTime time.Time

	mu       sync.Mutex
	outcomes map[string]int
	failures map[string]bool
	solution string
}

func NewManager(ctx context.Context, cfg *mgrconfig.Config, stats *stat.Set, debug bool) (*Manager, error) {
	mgr := &Manager{
		cfg:       cfg,
		updates:   make(chan corpus.NewSeedEvent),
		startTime: time.Now(),
		outcomes:  make(map[string]int),
		failures:  make(map[string]bool),
	}
	seeds := append([]string{}, cfg.Seeds...)
	if cfg.CorpusDB != "" {
		if err := osutil.MkdirAll(cfg.Workdir); err != nil {
			return nil, fmt.Errorf("failed to create workdir: %w", err)
		}
		var err error
		mgr.corpusDB, err = db.Open(cfg.CorpusDB, true)
		if err != nil {
			if mgr.corpusDB == nil {
				return nil, fmt.Errorf("failed to open corpus database: %w", err)
			}
			log.Logf(0, "read %v inputs from a corrupted corpus database: %v", len(mgr.corpusDB.Records), err)
		}
		stored := mgr.corpusDB.Inputs()
		log.Logf(0, "loaded %v inputs from %v", len(stored), cfg.CorpusDB)
		seeds = append(seeds, stored...)
	}
	mut, err := cfg.NewMutator()
	if err != nil {
		return nil, err
	}
	var distances map[string]float64
	if cfg.Target == mgrconfig.TargetMaze {
		if mgr.maze, err = cfg.LoadMaze(); err != nil {
			return nil, err
		}
		distances = mgr.maze.Distances()
	}
	sched, err := cfg.NewSchedule(distances)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Logf(0, "random seed %v", seed)
	if cfg.SavedConfig != "" {
		// Rerunning with the saved config repeats the seeding decisions.
		saved := *cfg
		saved.RandomSeed = seed
		if err := config.SaveFile(cfg.SavedConfig, &saved); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}
	mgr.fuzzer, err = fuzzer.NewFuzzer(ctx, &fuzzer.Config{
		Debug:            debug,
		Seeds:            seeds,
		Mutator:          mut,
		Schedule:         sched,
		Corpus:           corpus.NewMonitoredPopulation(ctx, mgr.updates),
		CountPaths:       true,
		MinTrialsExp:     cfg.MinTrialsExp,
		MaxTrialsExp:     cfg.MaxTrialsExp,
		AdaptiveMutation: cfg.AdaptiveMutation,
		Stats:            stats,
		Logf:             log.Logf,
	}, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	log.Logf(0, "run %v: target %v, schedule %v, %v seeds",
		mgr.fuzzer.RunID(), cfg.Target, sched.Name(), len(seeds))
	return mgr, nil
}

func (mgr *Manager) newRunner() runner.Runner {
	var r runner.Runner
	if mgr.maze != nil {
		r = runner.NewCoverageRunner(mgr.maze.Target())
	} else {
		r = runner.BlackboxRunner(&runner.ProcessRunner{
			Command: mgr.cfg.Program,
			Shell:   mgr.cfg.Shell,
			Binary:  mgr.cfg.Binary,
			Timeout: mgr.cfg.ProgramTimeout,
			Dir:     mgr.cfg.Workdir,
		})
	}
	return &observer{r, mgr}
}

type observer struct {
	runner.Runner
	mgr *Manager
}

func (o *observer) Run(ctx context.Context, input string) runner.Result {
	res := o.Runner.Run(ctx, input)
	o.mgr.observe(res)
	return res
}

func (mgr *Manager) observe(res runner.Result) {
	outcome := res.Outcome.String()
	if out, ok := res.Value.(string); ok && mgr.maze != nil {
		outcome = string(maze.Classify(out))
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.outcomes[outcome]++
	if outcome == string(maze.Solved) && mgr.solution == "" {
		mgr.solution = res.Input
		log.Logf(0, "solved the maze with %q", res.Input)
	}
	if res.Outcome != runner.Fail {
		return
	}
	sig := hash.String([]byte(res.Input))
	if mgr.failures[sig] {
		return
	}
	mgr.failures[sig] = true
	log.Logf(1, "new failing input %q: %v", res.Input, res.Err)
	if mgr.cfg.FailuresDir == "" {
		return
	}
	if err := osutil.WriteFile(filepath.Join(mgr.cfg.FailuresDir, sig), []byte(res.Input)); err != nil {
		log.Logf(0, "failed to save failing input: %v", err)
	}
}

// Run fuzzes until the trial budget is exhausted or ctx is cancelled.
func (mgr *Manager) Run(ctx context.Context) error {
	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		mgr.persistCorpus()
	}()
	go mgr.heartbeat(ctx)
	err := mgr.fuzzer.RunParallel(ctx, mgr.newRunner, mgr.cfg.Trials, mgr.cfg.Procs)
	close(mgr.updates)
	<-persisted
	if errors.Is(err, context.Canceled) {
		log.Logf(0, "fuzzing interrupted")
		err = nil
	}
	return err
}

func (mgr *Manager) persistCorpus() {
	for ev := range mgr.updates {
		log.Logf(2, "new seed %v, +%v cover", ev.PathID.Short(), ev.NewCover)
		if mgr.corpusDB == nil || !mgr.corpusDB.SaveInput(ev.Data) {
			continue
		}
		if err := mgr.corpusDB.Flush(); err != nil {
			log.Logf(0, "failed to save corpus database: %v", err)
		}
	}
}

func (mgr *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var line string
		for _, s := range mgr.fuzzer.StatSet().Collect(stat.Console) {
			line += fmt.Sprintf("%v: %v, ", s.Name, s.Value)
		}
		log.Logf(0, "%v", line)
	}
}

type Summary struct {
	Duration time.Duration
	Execs    int
	Seeds    int
	Cover    int
	Paths    int
	Fails    int
	Outcomes []OutcomeCount
	Solution string
}

type OutcomeCount struct {
	Outcome string
	Count   int
}

func (mgr *Manager) Summary() *Summary {
	stats := mgr.fuzzer.Population().Stats()
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	s := &Summary{
		Duration: time.Since(mgr.startTime).Round(time.Millisecond),
		Execs:    mgr.fuzzer.Execs(),
		Seeds:    stats.Seeds,
		Cover:    stats.Cover,
		Paths:    mgr.fuzzer.PathFrequency().Len(),
		Fails:    mgr.fuzzer.Fails(),
		Solution: mgr.solution,
	}
	for outcome, count := range mgr.outcomes {
		s.Outcomes = append(s.Outcomes, OutcomeCount{outcome, count})
	}
	sort.Slice(s.Outcomes, func(i, j int) bool {
		return s.Outcomes[i].Outcome < s.Outcomes[j].Outcome
	})
	return s
}

func (s *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "duration:   %v\n", s.Duration)
	fmt.Fprintf(w, "executions: %v\n", s.Execs)
	fmt.Fprintf(w, "population: %v seeds, %v paths, %v covered locations\n", s.Seeds, s.Paths, s.Cover)
	fmt.Fprintf(w, "failures:   %v\n", s.Fails)
	for _, oc := range s.Outcomes {
		fmt.Fprintf(w, "  %-12v %v\n", oc.Outcome, oc.Count)
	}
	if s.Solution != "" {
		fmt.Fprintf(w, "solution:   %q\n", s.Solution)
	}
}
