// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import "fmt"

// ArgSpec describes one command-line argument of a TestSpec: an option
// string, and how its value is produced — a fixed constant, a present/absent
// flag, or a value drawn from an ordered list across runs.
//
// Invariants: Constant implies at most one entry in Values; Flag implies an
// empty Values; a non-flag non-constant ArgSpec requires a non-empty Values.
type ArgSpec struct {
	Option   string
	Constant bool
	Flag     bool
	Values   []string
}

// validate enforces the ArgSpec invariants, returning ConfigInvalidError on
// violation.
func (a *ArgSpec) validate() error {
	switch {
	case a.Constant && a.Flag:
		return &ConfigInvalidError{Reason: fmt.Sprintf("arg %q cannot be both constant and flag", a.Option)}
	case a.Constant && len(a.Values) > 1:
		return &ConfigInvalidError{Reason: fmt.Sprintf("arg %q is constant but has %d values", a.Option, len(a.Values))}
	case a.Flag && len(a.Values) > 0:
		return &ConfigInvalidError{Reason: fmt.Sprintf("arg %q is a flag but has values", a.Option)}
	case !a.Constant && !a.Flag && len(a.Values) == 0:
		return &ConfigInvalidError{Reason: fmt.Sprintf("arg %q requires a non-empty value list", a.Option)}
	}
	return nil
}

// isConstant reports whether this ArgSpec sits outside the parameter
// odometer, merged verbatim into every yielded command line.
func (a *ArgSpec) isConstant() bool {
	return a.Constant
}

// TestSpec is a named stress test: an executable path plus its ordered
// argument specification.
type TestSpec struct {
	Name string
	Path string
	Args []ArgSpec
}

// validate checks every ArgSpec and returns the first violation found.
func (t *TestSpec) validate() error {
	if t.Name == "" {
		return &ConfigInvalidError{Reason: "test is missing a name"}
	}
	if t.Path == "" {
		return &ConfigInvalidError{Reason: fmt.Sprintf("test %q is missing a binary path", t.Name)}
	}
	for i := range t.Args {
		if err := t.Args[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// constantArgs returns the option/value pairs contributed by this test's
// constant ArgSpecs, in declared order.
func (t *TestSpec) constantArgs() []string {
	var out []string
	for _, a := range t.Args {
		if !a.isConstant() {
			continue
		}
		out = append(out, a.Option)
		if len(a.Values) == 1 {
			out = append(out, a.Values[0])
		}
	}
	return out
}

// nonConstantArgs returns the ArgSpecs that participate in the parameter
// odometer, in declared order.
func (t *TestSpec) nonConstantArgs() []ArgSpec {
	var out []ArgSpec
	for _, a := range t.Args {
		if !a.isConstant() {
			out = append(out, a)
		}
	}
	return out
}

// buildCommandLine assembles the full command line for one odometer position:
// <binary> <opt> <val> <opt> <val> ... with constants merged in declaration
// order ahead of the odometer-driven arguments.
func (t *TestSpec) buildCommandLine(params map[string]string) []string {
	cmd := []string{t.Path}
	cmd = append(cmd, t.constantArgs()...)
	for _, a := range t.nonConstantArgs() {
		v, present := params[a.Option]
		if a.Flag {
			if present {
				cmd = append(cmd, a.Option)
			}
			continue
		}
		cmd = append(cmd, a.Option, v)
	}
	return cmd
}
