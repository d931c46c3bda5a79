// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
)

// ExecResult describes how a process finished.
// Status is the exit code, or the negated signal number if the process
// was terminated by a signal.
type ExecResult struct {
	Status   int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration
}

// RunInput runs cmd feeding input on stdin and captures stdout and stderr
// separately. A non-zero exit is not an error: it is reported in Status.
// The error is set only if the process could not be started or waited for.
// On timeout the whole process group is killed.
func RunInput(timeout time.Duration, cmd *exec.Cmd, input []byte) (*ExecResult, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	res, err := wait(timeout, cmd)
	if err != nil {
		return nil, err
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res, nil
}

func wait(timeout time.Duration, cmd *exec.Cmd) (*ExecResult, error) {
	setPdeathsig(cmd)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v %+v: %w", cmd.Path, cmd.Args, err)
	}
	done := make(chan bool)
	timedout := make(chan bool, 1)
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	go func() {
		select {
		case <-timerC:
			timedout <- true
			killPgroup(cmd)
			cmd.Process.Kill()
		case <-done:
			timedout <- false
		}
	}()
	err := cmd.Wait()
	close(done)
	res := &ExecResult{
		TimedOut: <-timedout,
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %q: %w", cmd.Args, err)
		}
	}
	res.Status = ProcessExitStatus(cmd.ProcessState)
	return res, nil
}

// Command is similar to os/exec.Command, but also puts the process into its
// own process group and sets PDEATHSIG on linux.
func Command(bin string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	setPdeathsig(cmd)
	return cmd
}

// VerboseError is a process failure with the output the process produced.
type VerboseError struct {
	Title    string
	Output   []byte
	ExitCode int
}

func (err *VerboseError) Error() string {
	if len(err.Output) == 0 {
		return err.Title
	}
	return fmt.Sprintf("%v\n%s", err.Title, err.Output)
}

// IsExist returns true if the file name exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	if err := MkdirAll(filepath.Dir(filename)); err != nil {
		return err
	}
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// ListDir returns names of all files in a directory.
func ListDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
