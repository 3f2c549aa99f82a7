// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinCommandLine(t *testing.T) {
	require.Equal(t, "", joinCommandLine(nil))
	require.Equal(t, "/bin/stress", joinCommandLine([]string{"/bin/stress"}))
	require.Equal(t, "/bin/stress --iters 10", joinCommandLine([]string{"/bin/stress", "--iters", "10"}))
}

// fakeSampler is a canned sampler double, letting newExecutor be constructed
// without touching real MSR state.
type fakeSampler struct {
	banks []MCABank
	err   error
}

func (f *fakeSampler) Sample() ([]MCABank, error) { return f.banks, f.err }

func TestNewExecutorConstantChecksDisabled(t *testing.T) {
	e := newExecutor(&fakeSampler{banks: []MCABank{{CoreID: 0, BankID: 0}}}, false)
	require.False(t, e.constantMCAChecks)
}
