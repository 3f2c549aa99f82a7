// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
Log_Directory: /var/log/ofhc
Log_Level: debug
Run_Directory: /opt/ofhc/run
Constant_MCE_Checking: false
Tests:
  - Name: stress
    Binary: /bin/stress
    Args:
      - Option: --iters
        Values: ["10", "20"]
Core_Config:
  SMT: true
  Sockets: [0, 1]
`

const sampleJSON = `{
  "Log_Directory": "/var/log/ofhc",
  "Log_Level": "debug",
  "Run_Directory": "/opt/ofhc/run",
  "Tests": [{"Name": "stress", "Binary": "/bin/stress", "Args": []}],
  "Core_Config": {"SMT": false}
}`

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/log/ofhc", cfg.LogDirectory)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Tests, 1)
	require.Equal(t, "stress", cfg.Tests[0].Name)
	require.NotNil(t, cfg.ConstantMCEChecking)
	require.False(t, *cfg.ConstantMCEChecking)
	require.True(t, cfg.CoreConfig.SMT)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/log/ofhc", cfg.LogDirectory)
	require.Len(t, cfg.Tests, 1)
	require.Nil(t, cfg.ConstantMCEChecking)
}

func TestLoadInlineJSON(t *testing.T) {
	cfg, err := Load(sampleJSON)
	require.NoError(t, err)
	require.Equal(t, "/var/log/ofhc", cfg.LogDirectory)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadInvalidInline(t *testing.T) {
	_, err := Load("not json and not an existing file")
	require.Error(t, err)
}

func TestAsBoolOrIntList(t *testing.T) {
	allSel, indices, err := AsBoolOrIntList(nil)
	require.NoError(t, err)
	require.False(t, allSel)
	require.Nil(t, indices)

	allSel, indices, err = AsBoolOrIntList(true)
	require.NoError(t, err)
	require.True(t, allSel)
	require.Nil(t, indices)

	allSel, indices, err = AsBoolOrIntList([]interface{}{0.0, 2.0, 3.0})
	require.NoError(t, err)
	require.False(t, allSel)
	require.Equal(t, []int{0, 2, 3}, indices)

	_, _, err = AsBoolOrIntList([]interface{}{"nope"})
	require.Error(t, err)

	_, _, err = AsBoolOrIntList("bogus")
	require.Error(t, err)
}

func TestSocketSelectorDefault(t *testing.T) {
	groups, err := SocketSelector(nil)
	require.NoError(t, err)
	require.Equal(t, [][]int{{0, 1}}, groups)
}

func TestSocketSelectorMixedEntries(t *testing.T) {
	groups, err := SocketSelector([]interface{}{0.0, []interface{}{0.0, 1.0}})
	require.NoError(t, err)
	require.Equal(t, [][]int{{0}, {0, 1}}, groups)
}

func TestSocketSelectorInvalidGroupSize(t *testing.T) {
	_, err := SocketSelector([]interface{}{[]interface{}{0.0, 1.0, 2.0}})
	require.Error(t, err)
}

func TestSocketSelectorNotAList(t *testing.T) {
	_, err := SocketSelector("bogus")
	require.Error(t, err)
}
