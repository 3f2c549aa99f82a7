// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"fmt"
	"strconv"

	"github.com/amd/ofhc/internal/config"
)

// partitionRequest is an unresolved (tag, thread, socket) triple, as produced
// from the settings document's Core_Config, awaiting resolution by the
// Partition Resolver.
type partitionRequest struct {
	tag    string
	thread string
	socket string
}

// buildTestSpecs converts the settings document's Tests list into TestSpecs,
// validating every ArgSpec invariant.
func buildTestSpecs(tests []config.Test) ([]*TestSpec, error) {
	if len(tests) == 0 {
		return nil, &ConfigInvalidError{Reason: "no tests found in configuration"}
	}
	specs := make([]*TestSpec, 0, len(tests))
	for _, t := range tests {
		spec := &TestSpec{Name: t.Name, Path: t.Binary}
		for _, a := range t.Args {
			spec.Args = append(spec.Args, ArgSpec{
				Option:   a.Option,
				Constant: a.Constant,
				Flag:     a.Flag,
				Values:   a.Values,
			})
		}
		if err := spec.validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// buildPartitionRequests expands Core_Config into the ordered set of
// unresolved partition requests: sockets outermost, then core divisions
// (All/Halfs/Quarters/CCDs), one request per division (thread "both" when SMT
// is enabled, else "0"), followed by any individually selected Cores (which
// ignore sockets/thread entirely, matching the source).
func buildPartitionRequests(cc config.CoreConfig, topo *Topology) ([]partitionRequest, error) {
	socketGroups, err := config.SocketSelector(cc.Sockets)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: err.Error()}
	}

	var divisions []string

	allSelected, _, err := config.AsBoolOrIntList(cc.All)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("Core_Config.All: %v", err)}
	}
	if allSelected {
		divisions = append(divisions, "all")
	}

	halfsAll, halfsIdx, err := config.AsBoolOrIntList(cc.Halfs)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("Core_Config.Halfs: %v", err)}
	}
	if halfsAll {
		divisions = append(divisions, "half0", "half1")
	} else {
		for _, n := range halfsIdx {
			if n < 0 || n > 1 {
				return nil, &ConfigInvalidError{Reason: fmt.Sprintf("invalid half %d, valid values are 0 or 1", n)}
			}
			divisions = append(divisions, "half"+strconv.Itoa(n))
		}
	}

	quartersAll, quartersIdx, err := config.AsBoolOrIntList(cc.Quarters)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("Core_Config.Quarters: %v", err)}
	}
	if quartersAll {
		divisions = append(divisions, "quart0", "quart1", "quart2", "quart3")
	} else {
		for _, n := range quartersIdx {
			if n < 0 || n > 3 {
				return nil, &ConfigInvalidError{Reason: fmt.Sprintf("invalid quarter %d, valid values are 0..3", n)}
			}
			divisions = append(divisions, "quart"+strconv.Itoa(n))
		}
	}

	ccdsAll, ccdsIdx, err := config.AsBoolOrIntList(cc.CCDs)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("Core_Config.CCDs: %v", err)}
	}
	if ccdsAll {
		for n := 0; n < topo.CCDsPerSocket(); n++ {
			divisions = append(divisions, "ccd"+strconv.Itoa(n))
		}
	} else {
		for _, n := range ccdsIdx {
			if n < 0 || n >= topo.CCDsPerSocket() {
				return nil, &ConfigInvalidError{Reason: fmt.Sprintf("invalid ccd %d, only %d CCDs per socket", n, topo.CCDsPerSocket())}
			}
			divisions = append(divisions, "ccd"+strconv.Itoa(n))
		}
	}

	// One request per division, not per thread: when SMT is enabled the
	// resolved partition merges both threads' core lists into a single
	// partition rather than doubling the partition count.
	thread := "0"
	if cc.SMT {
		thread = "both"
	}

	var requests []partitionRequest
	for _, sg := range socketGroups {
		arg, err := socketGroupArg(sg)
		if err != nil {
			return nil, err
		}
		for _, div := range divisions {
			requests = append(requests, partitionRequest{tag: div, thread: thread, socket: arg})
		}
	}

	coresAll, coresIdx, err := config.AsBoolOrIntList(cc.Cores)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("Core_Config.Cores: %v", err)}
	}
	if coresAll {
		for n := 0; n < topo.NumPhysicalCores(); n++ {
			requests = append(requests, partitionRequest{tag: "core" + strconv.Itoa(n), thread: "0", socket: "all"})
		}
	} else {
		for _, n := range coresIdx {
			if n < 0 || n >= topo.NumPhysicalCores() {
				return nil, &ConfigInvalidError{Reason: fmt.Sprintf("invalid core %d, only %d physical cores", n, topo.NumPhysicalCores())}
			}
			requests = append(requests, partitionRequest{tag: "core" + strconv.Itoa(n), thread: "0", socket: "all"})
		}
	}

	if len(requests) == 0 {
		return nil, &ConfigInvalidError{Reason: "no core division or specific core selected in Core_Config"}
	}
	return requests, nil
}

// socketGroupArg maps a normalized socket group — [n] or [0,1] — onto the
// partition helper's socket argument: a decimal index, or the literal "all".
func socketGroupArg(group []int) (string, error) {
	switch len(group) {
	case 1:
		return strconv.Itoa(group[0]), nil
	case 2:
		return "all", nil
	default:
		return "", &ConfigInvalidError{Reason: "socket group must have 1 or 2 entries"}
	}
}
