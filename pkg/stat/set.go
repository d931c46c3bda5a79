// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

// Package stat provides counters, distributions and external values (Val)
// grouped in named sets (Set) that render for logs and web pages and
// optionally export to Prometheus.
//
//	set := stat.NewSet(prometheus.DefaultRegisterer)
//	statExecs := set.New("exec total", "Total executions", stat.Rate{}, stat.Prometheus("execs"))
//	statExecs.Add(1)
//
// Binaries use the process-wide Global set, tests create their own sets.

type UI struct {
	Name  string
	Desc  string
	Link  string
	Level Level
	Value string
	V     int
}

// Global returns the process-wide default set.
func Global() *Set {
	return global
}

var global = newSet(prometheus.DefaultRegisterer, true)

type Set struct {
	mu         sync.Mutex
	vals       map[string]*Val
	reg        prometheus.Registerer
	start      time.Time
	totalTicks atomic.Int64
}

const (
	tickPeriod       = time.Second
	histogramBuckets = 255
)

// NewSet returns an empty set. Values with the Prometheus option are
// registered in reg, if it's not nil.
func NewSet(reg prometheus.Registerer) *Set {
	return newSet(reg, false)
}

func newSet(reg prometheus.Registerer, tick bool) *Set {
	s := &Set{
		vals:  make(map[string]*Val),
		reg:   reg,
		start: time.Now(),
	}
	if tick {
		go func() {
			for range time.NewTicker(tickPeriod).C {
				s.totalTicks.Add(1)
			}
		}()
	}
	return s
}

func (s *Set) period() time.Duration {
	period := time.Duration(s.totalTicks.Load()) * tickPeriod
	if period == 0 {
		period = time.Since(s.start)
	}
	if period < tickPeriod {
		period = tickPeriod
	}
	return period
}

func (s *Set) Collect(level Level) []UI {
	period := s.period()
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []UI
	for _, v := range s.vals {
		if v.level < level {
			continue
		}
		val := v.Val()
		res = append(res, UI{
			Name:  v.name,
			Desc:  v.desc,
			Link:  v.link,
			Level: v.level,
			Value: v.fmt(val, period),
			V:     val,
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Level != res[j].Level {
			return res[i].Level > res[j].Level
		}
		return res[i].Name < res[j].Name
	})
	return res
}

// Get returns the value registered under name, or nil.
func (s *Set) Get(name string) *Val {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[name]
}

// Additional options for Val metrics.

// Level controls if the metric should be printed to console in periodic heartbeat logs,
// or showed on the simple web interface, or showed in the expert interface only.
type Level int

const (
	All Level = iota
	Simple
	Console
)

// Link adds a hyperlink to metric name.
type Link string

// Prometheus exports the metric to Prometheus under the given name.
type Prometheus string

// Rate says to collect/visualize metric rate per unit of time rather then total value.
type Rate struct{}

// Distribution says to collect/visualize histogram of individual sample distributions.
type Distribution struct{}

// Addittionally a custom 'func() int' can be passed to read the metric value from the function.
// and 'func(int, time.Duration) string' can be passed for custom formatting of the metric value.

func (s *Set) New(name, desc string, opts ...any) *Val {
	v := &Val{
		name: name,
		desc: desc,
		fmt:  func(v int, period time.Duration) string { return strconv.Itoa(v) },
	}
	var promName string
	for _, o := range opts {
		switch opt := o.(type) {
		case Level:
			v.level = opt
		case Link:
			v.link = string(opt)
		case Rate:
			v.rate = true
			v.fmt = formatRate
		case Distribution:
			v.hist = true
			v.fmt = v.formatDistribution
		case func() int:
			v.ext = opt
		case func(int, time.Duration) string:
			v.fmt = opt
		case Prometheus:
			promName = string(opt)
		default:
			panic(fmt.Sprintf("unknown stats option %#v", o))
		}
	}
	if promName != "" && s.reg != nil {
		// Prometheus Instrumentation https://prometheus.io/docs/guides/go-application.
		// Re-registration of the same name keeps the first collector.
		s.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: promName,
			Help: desc,
		},
			func() float64 { return float64(v.Val()) },
		))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[name] = v
	return v
}

type Val struct {
	name    string
	desc    string
	link    string
	level   Level
	val     atomic.Uint64
	ext     func() int
	fmt     func(int, time.Duration) string
	rate    bool
	hist    bool
	histMu  sync.Mutex
	histVal *gohistogram.NumericHistogram
}

func (v *Val) Add(val int) {
	if v.ext != nil {
		panic(fmt.Sprintf("stat %v is in external mode", v.name))
	}
	if v.hist {
		v.histMu.Lock()
		if v.histVal == nil {
			v.histVal = gohistogram.NewHistogram(histogramBuckets)
		}
		v.histVal.Add(float64(val))
		v.histMu.Unlock()
		return
	}
	v.val.Add(uint64(val))
}

// Val returns the current value (the mean for distributions).
func (v *Val) Val() int {
	if v.ext != nil {
		return v.ext()
	}
	if v.hist {
		v.histMu.Lock()
		defer v.histMu.Unlock()
		if v.histVal == nil {
			return 0
		}
		return int(v.histVal.Mean())
	}
	return int(v.val.Load())
}

// Quantile returns the q-quantile of a distribution value.
func (v *Val) Quantile(q float64) float64 {
	if !v.hist {
		panic(fmt.Sprintf("stat %v is not a distribution", v.name))
	}
	v.histMu.Lock()
	defer v.histMu.Unlock()
	if v.histVal == nil {
		return 0
	}
	return v.histVal.Quantile(q)
}

func (v *Val) Name() string {
	return v.name
}

func (v *Val) formatDistribution(mean int, period time.Duration) string {
	return fmt.Sprintf("%v (p50 %.0f, p90 %.0f)", mean, v.Quantile(0.5), v.Quantile(0.9))
}

func formatRate(v int, period time.Duration) string {
	secs := int(period.Seconds())
	if x := v / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/sec)", v, x)
	}
	if x := v * 60 / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/min)", v, x)
	}
	x := v * 60 * 60 / secs
	return fmt.Sprintf("%v (%v/hour)", v, x)
}
