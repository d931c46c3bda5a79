// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greyfuzz/greyfuzz/pkg/config"
	"github.com/greyfuzz/greyfuzz/pkg/maze"
	"github.com/greyfuzz/greyfuzz/pkg/mutator"
	"github.com/greyfuzz/greyfuzz/pkg/runner"
	"github.com/greyfuzz/greyfuzz/pkg/schedule"
)

const maxProcs = 128

func LoadData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	return LoadFileOverride(filename, nil)
}

// LoadFileOverride loads the config file with the fields of the override
// JSON object replacing the fields of the file.
func LoadFileOverride(filename string, override []byte) (*Config, error) {
	data, err := config.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if len(override) != 0 {
		if data, err = config.MergeJSONData(data, override); err != nil {
			return nil, fmt.Errorf("failed to apply config override: %w", err)
		}
	}
	return LoadData(data)
}

func defaultValues() *Config {
	return &Config{
		Target:   TargetMaze,
		Schedule: "uniform",
		Procs:    1,
	}
}

func Complete(cfg *Config) error {
	switch cfg.Target {
	case TargetMaze:
		if len(cfg.Program) != 0 {
			return fmt.Errorf("config param program is set for the maze target")
		}
		if len(cfg.Seeds) == 0 {
			cfg.Seeds = []string{" "}
		}
		if cfg.Mutator == "" {
			cfg.Mutator = MutatorMaze
		}
		if cfg.Mutator == MutatorMaze && len(cfg.Dictionary) == 0 {
			cfg.Dictionary = []string{"L", "R", "U", "D"}
		}
		if _, err := cfg.LoadMaze(); err != nil {
			return err
		}
	case TargetProgram:
		if len(cfg.Program) == 0 || cfg.Program[0] == "" {
			return fmt.Errorf("config param program is empty")
		}
		if len(cfg.Seeds) == 0 {
			return fmt.Errorf("config param seeds is empty")
		}
		if cfg.Mutator == "" {
			cfg.Mutator = MutatorBasic
		}
	default:
		return fmt.Errorf("config param target must contain one of maze/program")
	}
	cfg.ProgramTimeout = runner.DefaultProcessTimeout
	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("bad config param timeout: %q", cfg.Timeout)
		}
		cfg.ProgramTimeout = timeout
	}
	if _, err := cfg.NewMutator(); err != nil {
		return fmt.Errorf("bad mutator config: %w", err)
	}
	if err := checkSchedule(cfg); err != nil {
		return err
	}
	if cfg.Trials < 0 {
		return fmt.Errorf("bad config param trials: %v", cfg.Trials)
	}
	if cfg.Procs < 1 || cfg.Procs > maxProcs {
		return fmt.Errorf("bad config param procs: '%v', want [1, %v]", cfg.Procs, maxProcs)
	}
	if cfg.MinTrialsExp < 0 || cfg.MaxTrialsExp < cfg.MinTrialsExp {
		return fmt.Errorf("bad config params min_trials_exp/max_trials_exp: %v/%v",
			cfg.MinTrialsExp, cfg.MaxTrialsExp)
	}
	if cfg.Workdir != "" {
		workdir, err := filepath.Abs(cfg.Workdir)
		if err != nil {
			return fmt.Errorf("bad config param workdir: %w", err)
		}
		cfg.Workdir = workdir
		cfg.CorpusDB = filepath.Join(workdir, "corpus.db")
		cfg.FailuresDir = filepath.Join(workdir, "failures")
		cfg.SavedConfig = filepath.Join(workdir, "config.json")
	}
	return nil
}

// LoadMaze parses the maze of the maze target.
func (cfg *Config) LoadMaze() (*maze.Maze, error) {
	text := maze.Classic
	if cfg.Maze != "" {
		data, err := os.ReadFile(cfg.Maze)
		if err != nil {
			return nil, fmt.Errorf("failed to read maze: %w", err)
		}
		text = string(data)
	}
	m, err := maze.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("bad maze %v: %w", cfg.Maze, err)
	}
	return m, nil
}

func (cfg *Config) NewMutator() (*mutator.Mutator, error) {
	var opts []mutator.Option
	if cfg.CharMin != 0 || cfg.CharMax != 0 {
		opts = append(opts, mutator.WithCharRange(rune(cfg.CharMin), rune(cfg.CharMax)))
	}
	switch cfg.Mutator {
	case MutatorBasic:
		return mutator.New(opts...)
	case MutatorDict:
		return mutator.NewDict(cfg.Dictionary, opts...)
	case MutatorMaze:
		return mutator.NewMaze(cfg.Dictionary, opts...)
	default:
		return nil, fmt.Errorf("unknown mutator %q", cfg.Mutator)
	}
}

func checkSchedule(cfg *Config) error {
	switch cfg.Schedule {
	case "uniform", "aflfast":
	case "directed", "aflgo":
		if cfg.Target != TargetMaze {
			return fmt.Errorf("%v schedule needs the maze target", cfg.Schedule)
		}
	default:
		return fmt.Errorf("config param schedule must contain one of uniform/aflfast/directed/aflgo")
	}
	if cfg.Exponent < 0 {
		return fmt.Errorf("bad config param exponent: %v", cfg.Exponent)
	}
	return nil
}

// NewSchedule creates the configured schedule.
// Directed schedules need the distances of the maze.
func (cfg *Config) NewSchedule(distances map[string]float64) (schedule.Schedule, error) {
	return schedule.ByName(cfg.Schedule, cfg.Exponent, distances)
}
