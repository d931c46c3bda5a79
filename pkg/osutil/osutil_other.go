// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !freebsd && !netbsd && !openbsd && !linux && !darwin

package osutil

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
)

func HandleInterrupts(shutdown chan struct{}) {
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		close(shutdown)
		fmt.Fprint(os.Stderr, "SIGINT: shutting down...\n")
		<-c
		os.Exit(1)
	}()
}

func ProcessExitStatus(ps *os.ProcessState) int {
	return ps.ExitCode()
}

func SignalName(sig int) string {
	return fmt.Sprintf("signal %v", sig)
}

func setPdeathsig(cmd *exec.Cmd) {
}

func killPgroup(cmd *exec.Cmd) {
}
