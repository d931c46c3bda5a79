// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tracer collects the locations an in-process target visits during
// one run. The run's trace travels in the context passed to the target;
// instrumented code reports visits with Hit or Line.
package tracer

import (
	"context"
	"sync"

	"github.com/greyfuzz/greyfuzz/pkg/cover"
)

// Collector hands out one trace per run and reports what it recorded.
// Coverage must be usable after the target returned or faulted.
type Collector interface {
	BeginRun(ctx context.Context) (context.Context, *Trace)
	Coverage(trace *Trace) cover.Cover
}

// Trace accumulates visited locations of a single run.
// Hit may be called from goroutines spawned by the target.
type Trace struct {
	mu     sync.Mutex
	cov    cover.Cover
	closed bool
}

func (tr *Trace) Hit(loc cover.Location) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return
	}
	tr.cov.Add(loc)
}

// Close freezes the trace: late hits from leaked goroutines are dropped.
func (tr *Trace) Close() cover.Cover {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closed = true
	return tr.cov
}

func (tr *Trace) Cover() cover.Cover {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.cov.Copy()
}

// Tracer is the default context-based Collector.
type Tracer struct{}

func (Tracer) BeginRun(ctx context.Context) (context.Context, *Trace) {
	tr := new(Trace)
	return context.WithValue(ctx, traceKey{}, tr), tr
}

func (Tracer) Coverage(tr *Trace) cover.Cover {
	return tr.Close()
}

type traceKey struct{}

// FromContext returns the trace of the current run, or nil.
func FromContext(ctx context.Context) *Trace {
	tr, _ := ctx.Value(traceKey{}).(*Trace)
	return tr
}

// Hit records loc in the run attached to ctx. Without a run it does nothing,
// so instrumented targets can be called directly.
func Hit(ctx context.Context, loc cover.Location) {
	if tr := FromContext(ctx); tr != nil {
		tr.Hit(loc)
	}
}

func Line(ctx context.Context, fn string, line int) {
	Hit(ctx, cover.Location{Func: fn, Line: line})
}
