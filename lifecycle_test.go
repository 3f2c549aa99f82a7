// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStateString(t *testing.T) {
	testCases := []struct {
		state RunState
		want  string
	}{
		{StateInit, "INIT"},
		{StateProbe, "PROBE"},
		{StateConfigured, "CONFIGURED"},
		{StateRunning, "RUNNING"},
		{StateSampling, "SAMPLING"},
		{StateFinished, "FINISHED"},
		{StateFault, "FAULT"},
		{RunState(99), "UNKNOWN"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, tc.state.String())
	}
}

func TestControllerStateTransitions(t *testing.T) {
	c := &Controller{state: StateInit}
	require.Equal(t, StateInit, c.State())

	c.SetState(StateRunning)
	require.Equal(t, StateRunning, c.State())

	c.Fault()
	require.Equal(t, StateFault, c.State())
}

func TestSysctlIntReadsValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knob")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))
	require.Equal(t, 1, sysctlInt(path))
}

func TestSysctlIntMissingFileReturnsNegativeOne(t *testing.T) {
	require.Equal(t, -1, sysctlInt("/nonexistent/path/for/ofhc/tests"))
}

func TestSysctlIntNonIntegerReturnsNegativeOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knob")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0644))
	require.Equal(t, -1, sysctlInt(path))
}

func TestWarnIfNotDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		warnIfNot(0, 0, "matched, no warning")
		warnIfNot(1, 0, "mismatched, logs a warning")
	})
}
