// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

// Package config loads the harness's settings document: a YAML or JSON file,
// or an inline JSON string passed directly on the command line.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Arg is one test argument specification as it appears in the settings
// document.
type Arg struct {
	Option   string   `yaml:"Option" json:"Option"`
	Constant bool     `yaml:"Constant" json:"Constant"`
	Flag     bool     `yaml:"Flag" json:"Flag"`
	Values   []string `yaml:"Values" json:"Values"`
}

// Test is one stress test entry in the settings document.
type Test struct {
	Name   string `yaml:"Name" json:"Name"`
	Binary string `yaml:"Binary" json:"Binary"`
	Args   []Arg  `yaml:"Args" json:"Args"`
}

// CoreConfig is the raw Core_Config object. Sockets/All/Halfs/Quarters/CCDs/
// Cores are left as interface{} since each accepts either a boolean or a list
// of integers in the settings document.
type CoreConfig struct {
	SMT      bool        `yaml:"SMT" json:"SMT"`
	Sockets  interface{} `yaml:"Sockets,omitempty" json:"Sockets,omitempty"`
	All      interface{} `yaml:"All,omitempty" json:"All,omitempty"`
	Halfs    interface{} `yaml:"Halfs,omitempty" json:"Halfs,omitempty"`
	Quarters interface{} `yaml:"Quarters,omitempty" json:"Quarters,omitempty"`
	CCDs     interface{} `yaml:"CCDs,omitempty" json:"CCDs,omitempty"`
	Cores    interface{} `yaml:"Cores,omitempty" json:"Cores,omitempty"`
}

// Config is the parsed settings document.
type Config struct {
	LogDirectory        string     `yaml:"Log_Directory" json:"Log_Directory"`
	LogLevel            string     `yaml:"Log_Level" json:"Log_Level"`
	RunDirectory        string     `yaml:"Run_Directory" json:"Run_Directory"`
	ConstantMCEChecking *bool      `yaml:"Constant_MCE_Checking" json:"Constant_MCE_Checking"`
	Tests               []Test     `yaml:"Tests" json:"Tests"`
	CoreConfig          CoreConfig `yaml:"Core_Config" json:"Core_Config"`
}

// Load reads settings from a path to a .yaml/.yml/.json file, or, when
// settingsArg is not an existing file, parses it directly as an inline JSON
// string.
func Load(settingsArg string) (*Config, error) {
	if info, err := os.Stat(settingsArg); err == nil && !info.IsDir() {
		switch ext := filepath.Ext(settingsArg); ext {
		case ".json":
			return loadJSONFile(settingsArg)
		case ".yaml", ".yml":
			return loadYAMLFile(settingsArg)
		default:
			return nil, fmt.Errorf("settings file %q has unsupported extension %q: only YAML or JSON are supported", settingsArg, ext)
		}
	}

	var cfg Config
	if err := json.Unmarshal([]byte(settingsArg), &cfg); err != nil {
		return nil, fmt.Errorf("settings argument is neither an existing file nor valid inline JSON: %w", err)
	}
	return &cfg, nil
}

func loadJSONFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("reading settings file %q", path))
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("parsing JSON settings file %q", path))
	}
	return &cfg, nil
}

func loadYAMLFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("reading settings file %q", path))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("parsing YAML settings file %q", path))
	}
	return &cfg, nil
}

// AsBoolOrIntList normalizes one of the CoreConfig division fields (All,
// Halfs, Quarters, CCDs, Cores), which the settings document allows as either
// a bare boolean or a list of integers, into (allSelected, indices). A field
// left as nil yields (false, nil, nil).
func AsBoolOrIntList(field interface{}) (allSelected bool, indices []int, err error) {
	switch v := field.(type) {
	case nil:
		return false, nil, nil
	case bool:
		return v, nil, nil
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, ok := toInt(item)
			if !ok {
				return false, nil, fmt.Errorf("expected a list of integers, found %T", item)
			}
			out = append(out, n)
		}
		return false, out, nil
	default:
		return false, nil, fmt.Errorf("expected a boolean or a list of integers, found %T", field)
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// SocketSelector normalizes Core_Config.Sockets into a list of selector
// entries, one per configured socket group: each entry is either a single
// socket index or the two-element set representing "all" (both sockets).
func SocketSelector(field interface{}) ([][]int, error) {
	if field == nil {
		// Sockets not specified in the settings document: default to all
		// sockets combined, mirroring the source's default of ["all"].
		return [][]int{{0, 1}}, nil
	}
	list, ok := field.([]interface{})
	if !ok {
		return nil, fmt.Errorf("Sockets must be a list, found %T", field)
	}
	out := make([][]int, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case []interface{}:
			if len(v) != 2 {
				return nil, fmt.Errorf("socket group must have exactly 2 entries to mean \"both\", got %d", len(v))
			}
			a, aok := toInt(v[0])
			b, bok := toInt(v[1])
			if !aok || !bok {
				return nil, fmt.Errorf("socket group entries must be integers")
			}
			out = append(out, []int{a, b})
		default:
			n, ok := toInt(item)
			if !ok {
				return nil, fmt.Errorf("socket entry must be an integer or a 2-element list, found %T", item)
			}
			out = append(out, []int{n})
		}
	}
	return out, nil
}
