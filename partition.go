// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// listCoresHelperName is the external partition-helper script name, looked
	// up inside the configured run directory.
	listCoresHelperName = "list_cores.sh"
)

// CorePartition is a named, immutable selection of logical core IDs, resolved
// once at configuration load time.
type CorePartition struct {
	Tag     string // all | half0 | half1 | quart0..3 | ccd<k> | core<k>
	Thread  string // "0" | "1" | "both"
	Socket  string // "0" | "1" | "all"
	CoreIDs []int
}

// partitionResolver turns a (partition-tag, thread, socket) triple into a
// concrete, ordered list of logical core IDs by invoking the external
// core-list helper script.
type partitionResolver struct {
	runDir  string
	helper  string
	topo    *Topology
	smtWant bool
}

func newPartitionResolver(runDir string, topo *Topology, smtWant bool) (*partitionResolver, error) {
	helper := filepath.Join(runDir, listCoresHelperName)
	if exists, err := fileExists(helper); err != nil || !exists {
		return nil, &HelperFailedError{Reason: fmt.Sprintf("helper script %q not found", helper)}
	}
	if smtWant && !topo.SMTEnabled() {
		return nil, &SmtMismatchError{}
	}
	return &partitionResolver{runDir: runDir, helper: helper, topo: topo, smtWant: smtWant}, nil
}

// resolve validates the partition tuple against the topology, invokes the
// helper, and returns the ordered list of logical core IDs it reports. When
// thread is "both", the helper is invoked once per thread (0, then 1) and
// their core lists are concatenated in that order, mirroring the source's
// per-division thread-merge in SystemConfig._getCoreList.
func (r *partitionResolver) resolve(ctx context.Context, tag, thread, socket string) ([]int, error) {
	if err := r.validate(tag, thread, socket); err != nil {
		return nil, err
	}

	if thread == "both" {
		var cores []int
		for _, t := range []string{"0", "1"} {
			c, err := r.runHelper(ctx, tag, t, socket)
			if err != nil {
				return nil, err
			}
			cores = append(cores, c...)
		}
		return cores, nil
	}

	return r.runHelper(ctx, tag, thread, socket)
}

// runHelper invokes list_cores.sh for a single concrete thread and parses its
// whitespace-separated core-ID output.
func (r *partitionResolver) runHelper(ctx context.Context, tag, thread, socket string) ([]int, error) {
	cmd := exec.CommandContext(ctx, r.helper,
		strconv.Itoa(r.topo.CoresPerCCD()),
		strconv.Itoa(r.topo.CCDsPerSocket()),
		strconv.Itoa(r.topo.NumSockets()),
		tag, thread, socket,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &HelperFailedError{Reason: fmt.Sprintf("%v: %s", err, stderr.String())}
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return nil, &HelperFailedError{Reason: "helper produced no output"}
	}

	cores := make([]int, 0, len(fields))
	for _, f := range fields {
		c, err := strconv.Atoi(f)
		if err != nil {
			return nil, &HelperFailedError{Reason: fmt.Sprintf("non-numeric core id %q in helper output", f)}
		}
		cores = append(cores, c)
	}
	return cores, nil
}

// validate enforces the partition validity rules upstream of the helper
// invocation: halves in {0,1}, quarters in {0..3}, CCDs in {0..ccdsPerSocket-1},
// cores in {0..numPhysicalCores-1}; socket an integer < numSockets, or "all".
func (r *partitionResolver) validate(tag, thread, socket string) error {
	switch {
	case tag == "all", tag == "half0", tag == "half1",
		tag == "quart0", tag == "quart1", tag == "quart2", tag == "quart3":
		// well-known tags, nothing further to check here.
	case strings.HasPrefix(tag, "ccd"):
		idx, err := strconv.Atoi(strings.TrimPrefix(tag, "ccd"))
		if err != nil || idx < 0 || idx >= r.topo.CCDsPerSocket() {
			return &ConfigInvalidError{Reason: fmt.Sprintf("ccd index out of range in partition tag %q", tag)}
		}
	case strings.HasPrefix(tag, "core"):
		idx, err := strconv.Atoi(strings.TrimPrefix(tag, "core"))
		if err != nil || idx < 0 || idx >= r.topo.NumPhysicalCores() {
			return &ConfigInvalidError{Reason: fmt.Sprintf("core index out of range in partition tag %q", tag)}
		}
	default:
		return &ConfigInvalidError{Reason: fmt.Sprintf("unknown partition tag %q", tag)}
	}

	switch thread {
	case "0", "1", "both":
	default:
		return &ConfigInvalidError{Reason: fmt.Sprintf("invalid thread %q, expected 0, 1, or both", thread)}
	}

	if socket == "all" {
		return nil
	}
	socketID, err := strconv.Atoi(socket)
	if err != nil || socketID < 0 || socketID >= r.topo.NumSockets() {
		return &ConfigInvalidError{Reason: fmt.Sprintf("invalid socket %q", socket)}
	}
	return nil
}
