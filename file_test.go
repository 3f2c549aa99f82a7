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

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))

	exists, err := fileExists(present)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = fileExists(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = fileExists("")
	require.Error(t, err)
	require.False(t, exists)
}

// TestFileExistsPropagatesStatError checks that a stat failure other than
// "not exist" (here, a path component that isn't a directory) is reported as
// an error rather than folded into a false "doesn't exist" result.
func TestFileExistsPropagatesStatError(t *testing.T) {
	dir := t.TempDir()
	notADir := filepath.Join(dir, "plain-file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))

	_, err := fileExists(filepath.Join(notADir, "child"))
	require.Error(t, err)
}
