// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// greyfuzz runs a greybox fuzzing campaign against the built-in maze target
// or an external program, as described by the config file.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/greyfuzz/greyfuzz/pkg/log"
	"github.com/greyfuzz/greyfuzz/pkg/mgrconfig"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	flagConfig = flag.String("config", "", "configuration file")
	flagSet    = flag.String("set", "", "JSON object with config fields overriding the config file")
	flagDebug  = flag.Bool("debug", false, "print per-execution debug output")
)

func main() {
	flag.Parse()
	log.EnableLogCaching(1000, 1<<20)
	cfg, err := mgrconfig.LoadFileOverride(*flagConfig, []byte(*flagSet))
	if err != nil {
		log.Fatal(err)
	}
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-shutdown
		cancel()
	}()
	mgr, err := NewManager(ctx, cfg, stat.Global(), *flagDebug)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.HTTP != "" {
		go func() {
			if err := mgr.serveHTTP(ctx, cfg.HTTP, prometheus.DefaultGatherer); err != nil {
				log.Fatalf("failed to serve http: %v", err)
			}
		}()
	}
	if err := mgr.Run(ctx); err != nil {
		log.Fatal(err)
	}
	mgr.Summary().Write(os.Stdout)
}
