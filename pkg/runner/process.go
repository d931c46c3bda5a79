// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/greyfuzz/greyfuzz/pkg/osutil"
)

// ProcessResult is the Value of a process run.
// ExitStatus is negative (the negated signal number) if the process was
// terminated by a signal.
type ProcessResult struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
}

// ProcessRunner runs an external program with the input on stdin.
type ProcessRunner struct {
	// Command is the program and its arguments.
	// With Shell set, the words are joined and passed to /bin/sh -c.
	Command []string
	Shell   bool
	// Binary passes the input bytes as is. Otherwise the input is
	// converted to valid UTF-8 first.
	Binary  bool
	Timeout time.Duration
	Dir     string
}

const DefaultProcessTimeout = 10 * time.Second

func (r *ProcessRunner) Run(ctx context.Context, input string) Result {
	res := Result{Input: input, Outcome: Unresolved}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if len(r.Command) == 0 {
		res.Err = fmt.Errorf("no command to run")
		return res
	}
	bin, args := r.Command[0], r.Command[1:]
	if r.Shell {
		bin, args = "/bin/sh", []string{"-c", strings.Join(r.Command, " ")}
	}
	cmd := osutil.Command(bin, args...)
	cmd.Dir = r.Dir
	data := []byte(input)
	if !r.Binary {
		data = []byte(strings.ToValidUTF8(input, "�"))
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultProcessTimeout
	}
	out, err := osutil.RunInput(timeout, cmd, data)
	if err != nil {
		res.Err = err
		return res
	}
	pres := &ProcessResult{
		ExitStatus: out.Status,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		TimedOut:   out.TimedOut,
	}
	res.Value = pres
	res.Outcome = ExitOutcome(pres.ExitStatus)
	var title string
	switch {
	case pres.TimedOut:
		title = fmt.Sprintf("timed out after %v", timeout)
	case pres.ExitStatus < 0:
		title = fmt.Sprintf("killed by %v", osutil.SignalName(-pres.ExitStatus))
	case pres.ExitStatus > 0:
		title = fmt.Sprintf("exit status %v", pres.ExitStatus)
	default:
		return res
	}
	res.Err = &osutil.VerboseError{
		Title:    title,
		Output:   pres.Stderr,
		ExitCode: pres.ExitStatus,
	}
	return res
}

// ExitOutcome maps a process exit status to an outcome:
// zero passes, termination by a signal fails, anything else is unresolved.
func ExitOutcome(status int) Outcome {
	switch {
	case status == 0:
		return Pass
	case status < 0:
		return Fail
	default:
		return Unresolved
	}
}
