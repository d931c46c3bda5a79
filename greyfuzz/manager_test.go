// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/greyfuzz/greyfuzz/pkg/db"
	"github.com/greyfuzz/greyfuzz/pkg/hash"
	"github.com/greyfuzz/greyfuzz/pkg/mgrconfig"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfgData string) (*Manager, *prometheus.Registry) {
	cfg, err := mgrconfig.LoadData([]byte(cfgData))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	mgr, err := NewManager(context.Background(), cfg, stat.NewSet(reg), false)
	require.NoError(t, err)
	return mgr, reg
}

func TestManagerMaze(t *testing.T) {
	workdir := t.TempDir()
	cfgData := fmt.Sprintf(`{"workdir": %q, "trials": 1000, "procs": 2, "random_seed": 1}`, workdir)
	mgr, _ := newTestManager(t, cfgData)
	require.NoError(t, mgr.Run(context.Background()))

	summary := mgr.Summary()
	assert.Equal(t, 1000, summary.Execs)
	assert.Greater(t, summary.Seeds, 1)
	assert.GreaterOrEqual(t, summary.Paths, summary.Seeds)
	total := 0
	for _, oc := range summary.Outcomes {
		total += oc.Count
		assert.Contains(t, []string{"VALID", "INVALID", "SOLVED"}, oc.Outcome)
	}
	assert.Equal(t, 1000, total)

	saved, err := mgrconfig.LoadFile(filepath.Join(workdir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.RandomSeed)
	assert.Equal(t, 1000, saved.Trials)
	assert.Equal(t, mgrconfig.TargetMaze, saved.Target)

	// All admitted seeds are persisted and used on restart.
	stored, err := db.ReadCorpus(filepath.Join(workdir, "corpus.db"))
	require.NoError(t, err)
	assert.ElementsMatch(t, mgr.fuzzer.Population().Inputs(), stored)

	mgr2, _ := newTestManager(t, cfgData)
	assert.Len(t, mgr2.fuzzer.Config.Seeds, len(stored)+1)
	require.NoError(t, mgr2.Run(context.Background()))
	assert.GreaterOrEqual(t, mgr2.Summary().Seeds, len(stored))
}

func TestManagerProgram(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	workdir := t.TempDir()
	mgr, _ := newTestManager(t, fmt.Sprintf(`{
		"target": "program",
		"workdir": %q,
		"program": ["sh", "-c", "read l; case \"$l\" in *x*) kill -SEGV $$;; esac"],
		"seeds": ["x", "abc"],
		"trials": 30,
		"random_seed": 1
	}`, workdir))
	require.NoError(t, mgr.Run(context.Background()))

	summary := mgr.Summary()
	assert.Equal(t, 30, summary.Execs)
	assert.GreaterOrEqual(t, summary.Fails, 1)
	// Without coverage feedback only the first input gets admitted.
	assert.Equal(t, 1, summary.Seeds)
	assert.True(t, osutil.IsExist(filepath.Join(workdir, "failures", hash.String([]byte("x")))))
}

func TestManagerCancel(t *testing.T) {
	mgr, _ := newTestManager(t, `{"procs": 2}`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for mgr.fuzzer.Execs() < 100 {
			runtime.Gosched()
		}
		cancel()
	}()
	require.NoError(t, mgr.Run(ctx))
	assert.GreaterOrEqual(t, mgr.Summary().Execs, 100)
}

func TestManagerSavesRandomSeed(t *testing.T) {
	workdir := t.TempDir()
	mgr, _ := newTestManager(t, fmt.Sprintf(`{"workdir": %q, "trials": 10}`, workdir))
	require.NoError(t, mgr.Run(context.Background()))
	saved, err := mgrconfig.LoadFile(filepath.Join(workdir, "config.json"))
	require.NoError(t, err)
	assert.NotZero(t, saved.RandomSeed)
}

func TestHTTP(t *testing.T) {
	mgr, reg := newTestManager(t, fmt.Sprintf(`{"name": "test", "workdir": %q, "trials": 200, "random_seed": 1}`,
		t.TempDir()))
	require.NoError(t, mgr.Run(context.Background()))
	handler := mgr.httpHandler(reg)

	get := func(url string) (int, string) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		return rec.Code, rec.Body.String()
	}
	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "exec total")
	assert.Contains(t, body, mgr.fuzzer.RunID().String())

	code, body = get("/corpus")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, fmt.Sprintf("Population: %v seeds", mgr.fuzzer.Population().Len()))

	code, body = get("/stats?raw=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "exec total: 200")

	code, body = get("/config?raw=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"name": "test"`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "greyfuzz_exec_total 200")

	code, _ = get("/corpus.db")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/nonexistent")
	assert.Equal(t, http.StatusNotFound, code)
}
