// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/greyfuzz/greyfuzz/pkg/maze"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	m, err := maze.Parse(maze.Classic)
	require.NoError(t, err)
	inputs := []string{"L", "D", "DD", "D"}
	buf := new(bytes.Buffer)
	require.NoError(t, report(context.Background(), m, inputs, true, buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Greater(t, len(lines), len(inputs))
	assert.Equal(t, []string{"#", "cover", "cumulative", "state", "input"}, strings.Fields(lines[0]))

	var cumulative []string
	for i := range inputs {
		fields := strings.Fields(lines[i+1])
		require.Len(t, fields, 5, lines[i+1])
		cumulative = append(cumulative, fields[2])
	}
	// Re-executing a known input adds no coverage.
	assert.Equal(t, cumulative[2], cumulative[3])
	assert.Contains(t, lines[len(inputs)+1:], maze.EntryFunc)
}

func TestReportCancel(t *testing.T) {
	m, err := maze.Parse(maze.Classic)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, report(ctx, m, []string{"D"}, false, new(bytes.Buffer)), context.Canceled)
}
