// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustSpec(t *testing.T, name string, args ...ArgSpec) *TestSpec {
	t.Helper()
	spec := &TestSpec{Name: name, Path: "/bin/" + name, Args: args}
	require.NoError(t, spec.validate())
	return spec
}

// TestTestIteratorPartitionInnermost checks that, for a single test with no
// odometer-driven args, the iterator walks every partition before reporting
// exhaustion, and that each yielded run carries the matching partition.
func TestTestIteratorPartitionInnermost(t *testing.T) {
	spec := mustSpec(t, "stress")
	partitions := []CorePartition{
		{Tag: "half0", CoreIDs: []int{0, 1}},
		{Tag: "half1", CoreIDs: []int{2, 3}},
	}
	it := newTestIterator([]*TestSpec{spec}, partitions)

	run1, err := it.getNextTest()
	require.NoError(t, err)
	require.Equal(t, "half0", run1.Partition.Tag)

	run2, err := it.getNextTest()
	require.NoError(t, err)
	require.Equal(t, "half1", run2.Partition.Tag)

	_, err = it.getNextTest()
	require.True(t, IsExhausted(err))
}

// TestTestIteratorMultiTestLockStep checks that, across two tests each with
// their own single-arg odometer, the parameter position advances in
// lock-step across both tests before either moves to its next value:
// test-name is the middle loop, parameter position the outer loop.
func TestTestIteratorMultiTestLockStep(t *testing.T) {
	specA := mustSpec(t, "a", ArgSpec{Option: "-x", Values: []string{"1", "2"}})
	specB := mustSpec(t, "b", ArgSpec{Option: "-y", Values: []string{"p", "q"}})
	partitions := []CorePartition{{Tag: "all", CoreIDs: []int{0}}}

	it := newTestIterator([]*TestSpec{specA, specB}, partitions)

	var seen []string
	for i := 0; i < 4; i++ {
		run, err := it.getNextTest()
		require.NoError(t, err)
		seen = append(seen, run.TestName+":"+run.CommandLine[len(run.CommandLine)-1])
	}

	require.Equal(t, []string{"a:1", "b:p", "a:2", "b:q"}, seen)

	_, err := it.getNextTest()
	require.True(t, IsExhausted(err))
}

// TestTestIteratorDropsExhaustedTest checks that once one test's odometer
// exhausts, it drops out of the active set while the other test keeps
// scheduling, per the testable property "skipping exhausted tests from the
// active set".
func TestTestIteratorDropsExhaustedTest(t *testing.T) {
	specA := mustSpec(t, "a", ArgSpec{Option: "-x", Values: []string{"1"}})
	specB := mustSpec(t, "b", ArgSpec{Option: "-y", Values: []string{"p", "q"}})
	partitions := []CorePartition{{Tag: "all", CoreIDs: []int{0}}}

	it := newTestIterator([]*TestSpec{specA, specB}, partitions)

	run1, err := it.getNextTest()
	require.NoError(t, err)
	require.Equal(t, "a", run1.TestName)

	run2, err := it.getNextTest()
	require.NoError(t, err)
	require.Equal(t, "b", run2.TestName)

	// Round 2: a's odometer is now exhausted and drops out; only b remains.
	run3, err := it.getNextTest()
	require.NoError(t, err)
	require.Equal(t, "b", run3.TestName)

	_, err = it.getNextTest()
	require.True(t, IsExhausted(err))
}
