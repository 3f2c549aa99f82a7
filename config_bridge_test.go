// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"testing"

	"github.com/amd/ofhc/internal/config"
	"github.com/stretchr/testify/require"
)

func TestBuildTestSpecsRejectsEmpty(t *testing.T) {
	_, err := buildTestSpecs(nil)
	require.Error(t, err)
}

func TestBuildTestSpecsConvertsArgs(t *testing.T) {
	specs, err := buildTestSpecs([]config.Test{
		{
			Name: "stress", Binary: "/bin/stress",
			Args: []config.Arg{{Option: "--iters", Values: []string{"1", "2"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "stress", specs[0].Name)
	require.Equal(t, "/bin/stress", specs[0].Path)
	require.Len(t, specs[0].Args, 1)
	require.Equal(t, "--iters", specs[0].Args[0].Option)
}

func TestBuildTestSpecsPropagatesValidationError(t *testing.T) {
	_, err := buildTestSpecs([]config.Test{
		{Name: "bad", Binary: "/bin/bad", Args: []config.Arg{{Option: "-f", Flag: true, Values: []string{"x"}}}},
	})
	require.Error(t, err)
}

func TestSocketGroupArg(t *testing.T) {
	arg, err := socketGroupArg([]int{0})
	require.NoError(t, err)
	require.Equal(t, "0", arg)

	arg, err = socketGroupArg([]int{0, 1})
	require.NoError(t, err)
	require.Equal(t, "all", arg)

	_, err = socketGroupArg([]int{0, 1, 2})
	require.Error(t, err)
}

func testTopology() *Topology {
	topo := &Topology{
		numSockets: 2, ccdsPerSocket: 8, coresPerCCD: 8,
		numPhysicalCores: 128, numLogicalCores: 128,
	}
	return topo
}

func TestBuildPartitionRequestsAllDivision(t *testing.T) {
	cc := config.CoreConfig{SMT: false, All: true}
	reqs, err := buildPartitionRequests(cc, testTopology())
	require.NoError(t, err)

	// Default sockets (Sockets unset) expand to the "all" group; All division
	// yields one request per socket group, one thread.
	require.Equal(t, []partitionRequest{{tag: "all", thread: "0", socket: "all"}}, reqs)
}

// TestBuildPartitionRequestsHalfsWithSMT checks that enabling SMT merges
// both threads into a single "both"-tagged request per division, rather than
// doubling the partition count, matching SystemConfig._getCoreList's
// per-division thread merge.
func TestBuildPartitionRequestsHalfsWithSMT(t *testing.T) {
	cc := config.CoreConfig{SMT: true, Halfs: true, Sockets: []interface{}{0.0}}
	reqs, err := buildPartitionRequests(cc, testTopology())
	require.NoError(t, err)
	require.Equal(t, []partitionRequest{
		{tag: "half0", thread: "both", socket: "0"},
		{tag: "half1", thread: "both", socket: "0"},
	}, reqs)
}

func TestBuildPartitionRequestsInvalidHalfIndex(t *testing.T) {
	cc := config.CoreConfig{Halfs: []interface{}{5.0}}
	_, err := buildPartitionRequests(cc, testTopology())
	require.Error(t, err)
}

func TestBuildPartitionRequestsCCDsAllUsesTopology(t *testing.T) {
	cc := config.CoreConfig{CCDs: true, Sockets: []interface{}{0.0}}
	reqs, err := buildPartitionRequests(cc, testTopology())
	require.NoError(t, err)
	require.Len(t, reqs, 8) // ccdsPerSocket
	require.Equal(t, "ccd0", reqs[0].tag)
	require.Equal(t, "ccd7", reqs[len(reqs)-1].tag)
}

func TestBuildPartitionRequestsSpecificCores(t *testing.T) {
	cc := config.CoreConfig{Cores: []interface{}{0.0, 5.0}}
	reqs, err := buildPartitionRequests(cc, testTopology())
	require.NoError(t, err)
	require.Equal(t, []partitionRequest{
		{tag: "core0", thread: "0", socket: "all"},
		{tag: "core5", thread: "0", socket: "all"},
	}, reqs)
}

func TestBuildPartitionRequestsInvalidCoreIndex(t *testing.T) {
	cc := config.CoreConfig{Cores: []interface{}{9999.0}}
	_, err := buildPartitionRequests(cc, testTopology())
	require.Error(t, err)
}

// TestBuildPartitionRequestsCoresBoundByPhysicalCores checks that an SMT
// topology (numLogicalCores == 2*numPhysicalCores) bounds Core_Config.Cores
// selections against the physical core count, matching the "core<k>"
// partition tag's own validation in partition.go.
func TestBuildPartitionRequestsCoresBoundByPhysicalCores(t *testing.T) {
	topo := &Topology{
		numSockets: 1, ccdsPerSocket: 1, coresPerCCD: 64,
		numPhysicalCores: 64, numLogicalCores: 128, smtEnabled: true,
	}

	cc := config.CoreConfig{Cores: []interface{}{63.0}}
	reqs, err := buildPartitionRequests(cc, topo)
	require.NoError(t, err)
	require.Equal(t, []partitionRequest{{tag: "core63", thread: "0", socket: "all"}}, reqs)

	cc = config.CoreConfig{Cores: []interface{}{64.0}}
	_, err = buildPartitionRequests(cc, topo)
	require.Error(t, err, "core index 64 is a logical core ID, not a valid physical core index on a 64-physical-core topology")
}

func TestBuildPartitionRequestsNoDivisionsIsError(t *testing.T) {
	cc := config.CoreConfig{}
	_, err := buildPartitionRequests(cc, testTopology())
	require.Error(t, err)
}
