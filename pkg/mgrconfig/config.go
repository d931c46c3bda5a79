// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import "time"

type Config struct {
	// Campaign name (used for identification in logs).
	Name string `json:"name"`
	// Address to serve the HTTP status pages on (e.g. "localhost:56741"), optional.
	HTTP string `json:"http"`
	// Location of a working directory. Outputs here include:
	// - <workdir>/corpus.db: admitted inputs, used as seeds on restart
	// - <workdir>/failures/*: inputs with the FAIL outcome
	// Optional, nothing is persisted if it's empty.
	Workdir string `json:"workdir"`

	// What to fuzz:
	// "maze": the built-in maze target with coverage feedback (default),
	// "program": an external program fed through stdin, without coverage.
	Target string `json:"target"`
	// File with the maze text for the maze target (optional, a classic maze by default).
	Maze string `json:"maze,omitempty"`
	// Command line of the program target, e.g. ["bc", "-q"].
	Program []string `json:"program,omitempty"`
	// Run the program command through /bin/sh -c.
	Shell bool `json:"shell,omitempty"`
	// Pass inputs to the program as raw bytes rather than text.
	Binary bool `json:"binary,omitempty"`
	// Program execution timeout, e.g. "500ms" (10s by default).
	Timeout string `json:"timeout,omitempty"`

	// Initial inputs. They are extended with the corpus from workdir.
	// The maze target starts from a single " " input by default.
	Seeds []string `json:"seeds"`
	// Mutation operators:
	// "basic": delete, insert and flip random characters (default for programs),
	// "dict": basic plus insertion of dictionary words,
	// "maze": dict plus deletion of the last character and appending of words (default for mazes).
	Mutator string `json:"mutator"`
	// Words for the dict and maze mutators (["L", "R", "U", "D"] for mazes by default).
	// In YAML configs words like y, n, on and off must be quoted,
	// unquoted they are parsed as booleans.
	Dictionary []string `json:"dictionary,omitempty"`
	// Range of random characters, [32, 126] by default.
	CharMin int `json:"char_min,omitempty"`
	CharMax int `json:"char_max,omitempty"`
	// Mutation steps per candidate are min(len(seed), 2^k) for k in
	// [min_trials_exp, max_trials_exp], [1, 5] by default.
	MinTrialsExp int `json:"min_trials_exp,omitempty"`
	MaxTrialsExp int `json:"max_trials_exp,omitempty"`
	// Let a multi-armed bandit choose mutation operators.
	AdaptiveMutation bool `json:"adaptive_mutation,omitempty"`

	// Power schedule: "uniform" (default), "aflfast", or, for mazes,
	// "directed" and "aflgo" that favor seeds close to the target tile.
	Schedule string `json:"schedule"`
	// Exponent of the aflfast and directed schedules (5 and 3 by default).
	Exponent float64 `json:"exponent,omitempty"`

	// Number of executions, 0 means until interrupted.
	Trials int `json:"trials"`
	// Number of parallel workers.
	Procs int `json:"procs"`
	// Random seed, 0 means current time.
	RandomSeed int64 `json:"random_seed,omitempty"`

	// Implementation details beyond this point.
	CorpusDB       string        `json:"-"`
	FailuresDir    string        `json:"-"`
	SavedConfig    string        `json:"-"`
	ProgramTimeout time.Duration `json:"-"`
}

const (
	TargetMaze    = "maze"
	TargetProgram = "program"

	MutatorBasic = "basic"
	MutatorDict  = "dict"
	MutatorMaze  = "maze"
)
