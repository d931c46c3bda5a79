// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	if RaceEnabled {
		iters /= 10
	}
	return iters
}

// RandSource returns a logged random source. GREYFUZZ_SEED pins the seed,
// CI runs always use seed 0.
func RandSource(t testing.TB) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("GREYFUZZ_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	if os.Getenv("CI") != "" {
		seed = 0
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

// RandString returns a string of up to maxLen printable characters.
func RandString(r *rand.Rand, maxLen int) string {
	buf := make([]byte, r.Intn(maxLen+1))
	for i := range buf {
		buf[i] = byte(32 + r.Intn(95))
	}
	return string(buf)
}
