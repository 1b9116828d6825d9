// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package randutil provides seeded random number generators for tests.
package randutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"

	"github.com/vexecdb/vexec/pkg/util/timeutil"
)

// NewPseudoSeed generates a seed from crypto-independent sources. The seed can
// be forced with the VEXEC_RANDOM_SEED environment variable to reproduce a
// failing run.
func NewPseudoSeed() int64 {
	if s := os.Getenv("VEXEC_RANDOM_SEED"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return seed
		}
	}
	return timeutil.Now().UnixNano()
}

// NewPseudoRand returns an instance of math/rand.Rand seeded from NewPseudoSeed
// and its seed so that the generated values can be reproduced later.
func NewPseudoRand() (*rand.Rand, int64) {
	seed := NewPseudoSeed()
	return rand.New(rand.NewSource(seed)), seed
}

// NewTestRand returns an instance of math/rand.Rand seeded from NewPseudoSeed
// and logs the seed so that a failing test can be rerun deterministically.
func NewTestRand(t testing.TB) *rand.Rand {
	rng, seed := NewPseudoRand()
	t.Logf("random seed: %d", seed)
	return rng
}

// RandIntInRange returns a value in [min, max).
func RandIntInRange(r *rand.Rand, min, max int) int {
	return min + r.Intn(max-min)
}

var randLetters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// RandBytes returns a byte slice of the given length with random data.
func RandBytes(r *rand.Rand, size int) []byte {
	if size <= 0 {
		return nil
	}
	arr := make([]byte, size)
	for i := range arr {
		arr[i] = randLetters[r.Intn(len(randLetters))]
	}
	return arr
}
