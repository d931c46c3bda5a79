// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package runner executes one input against a target and classifies the
// result as PASS, FAIL or UNRESOLVED.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/greyfuzz/greyfuzz/pkg/cover"
	"github.com/greyfuzz/greyfuzz/pkg/tracer"
)

type Outcome int

const (
	Pass Outcome = iota
	Fail
	Unresolved
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Unresolved:
		return "UNRESOLVED"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is what one execution produced.
// Value is the target's return value (nil on fault).
// Err describes the fault for Fail and the reason for Unresolved, if any.
type Result struct {
	Input   string
	Value   any
	Outcome Outcome
	Err     error
	Cover   cover.Cover
}

type Runner interface {
	Run(ctx context.Context, input string) Result
}

// Target is something that can be invoked with an input.
// Faults are reported either as a returned error or as a panic.
type Target interface {
	Invoke(ctx context.Context, input string) (any, error)
}

type TargetFunc func(ctx context.Context, input string) (any, error)

func (fn TargetFunc) Invoke(ctx context.Context, input string) (any, error) {
	return fn(ctx, input)
}

// PanicError is the fault recorded when a target panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", err.Value)
}

// FuncRunner runs an in-process target.
// In-process targets never produce Unresolved.
type FuncRunner struct {
	Target Target
}

func NewFuncRunner(target Target) *FuncRunner {
	return &FuncRunner{Target: target}
}

func (r *FuncRunner) Run(ctx context.Context, input string) Result {
	value, err := invoke(ctx, r.Target, input)
	return classify(input, value, err)
}

func invoke(ctx context.Context, target Target, input string) (value any, err error) {
	defer func() {
		if v := recover(); v != nil {
			value = nil
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return target.Invoke(ctx, input)
}

func classify(input string, value any, err error) Result {
	res := Result{Input: input, Value: value, Outcome: Pass}
	if err != nil {
		res.Value = nil
		res.Outcome = Fail
		res.Err = err
	}
	return res
}

// CoverageRunner runs an in-process target and records the locations it
// visits using the collector. Coverage is collected on both the normal and
// the fault path.
type CoverageRunner struct {
	Target    Target
	Collector tracer.Collector
	cov       cover.Cover
}

func NewCoverageRunner(target Target) *CoverageRunner {
	return &CoverageRunner{
		Target:    target,
		Collector: tracer.Tracer{},
	}
}

func (r *CoverageRunner) Run(ctx context.Context, input string) Result {
	value, cov, err := r.traced(ctx, input)
	r.cov = cov
	res := classify(input, value, err)
	res.Cover = cov
	return res
}

func (r *CoverageRunner) traced(ctx context.Context, input string) (value any, cov cover.Cover, err error) {
	ctx, trace := r.Collector.BeginRun(ctx)
	defer func() {
		cov = r.Collector.Coverage(trace)
	}()
	value, err = invoke(ctx, r.Target, input)
	return
}

// Coverage returns the locations visited during the last Run.
// The set is valid until the next Run.
func (r *CoverageRunner) Coverage() cover.Cover {
	return r.cov
}

type blackbox struct {
	r Runner
}

// BlackboxRunner hides any coverage the wrapped runner reports.
// With it the fuzzer admits only the first seed and mutates blindly.
func BlackboxRunner(r Runner) Runner {
	return blackbox{r}
}

func (b blackbox) Run(ctx context.Context, input string) Result {
	res := b.r.Run(ctx, input)
	res.Cover = nil
	return res
}
