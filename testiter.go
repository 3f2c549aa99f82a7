// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

// scheduledTest pairs a TestSpec with its own parameter odometer, the
// independent per-test Cartesian state the test iterator steps through in
// lock-step with every other active test.
type scheduledTest struct {
	spec     *TestSpec
	odometer *parameterOdometer
	active   bool
}

// ScheduledRun is one unit of work handed to the Executor: a fully-built
// command line for a single test at one parameter position, to be run on a
// specific core partition.
type ScheduledRun struct {
	TestName    string
	CommandLine []string
	Partition   CorePartition
}

// testIterator holds the ordered list of tests (each with its own odometer)
// and a partition iterator, and schedules work in the documented outer-to-
// inner order:
//
//	for parameter-position in each odometer (lock-step):
//	    for test-name in remaining tests:
//	        for partition in partitions:
//	            yield (test, params, partition)
//
// This breaks the source's cyclic test/core iterator reference: rather than
// the test iterator and core iterator notifying each other, both are owned
// here as plain indices, with no callback between them.
type testIterator struct {
	tests      []*scheduledTest
	partitions []CorePartition

	round        []int // indices into tests, active at the start of the current round
	roundPos     int   // index into round
	partitionIdx int
	started      bool
}

// newTestIterator builds a testIterator over specs, one scheduledTest each
// with a fresh odometer, and the resolved partitions in the order they were
// configured (sockets outermost, then divisions; with SMT, each partition
// holds thread 0's cores followed by thread 1's).
func newTestIterator(specs []*TestSpec, partitions []CorePartition) *testIterator {
	tests := make([]*scheduledTest, 0, len(specs))
	for _, s := range specs {
		tests = append(tests, &scheduledTest{
			spec:     s,
			odometer: newParameterOdometer(s.nonConstantArgs()),
			active:   true,
		})
	}
	return &testIterator{tests: tests, partitions: partitions}
}

// activeIndices returns the indices of currently active tests, in
// configuration order.
func (it *testIterator) activeIndices() []int {
	idx := make([]int, 0, len(it.tests))
	for i, t := range it.tests {
		if t.active {
			idx = append(idx, i)
		}
	}
	return idx
}

// getNextTest returns the next (test, params, partition) triple. It advances
// the partition cursor first; when that wraps it advances to the next test in
// the current round; when the round itself wraps it pulls a fresh parameter
// position for every test active at the start of the round, dropping any
// whose odometer is exhausted, and starts a new round. Returns ExhaustedError
// once every test has been dropped.
func (it *testIterator) getNextTest() (*ScheduledRun, error) {
	if len(it.partitions) == 0 {
		return nil, &ExhaustedError{What: "test iterator: no partitions configured"}
	}

	switch {
	case !it.started:
		it.round = it.activeIndices()
		if len(it.round) == 0 {
			return nil, &ExhaustedError{What: "test iterator"}
		}
		it.roundPos = 0
		it.partitionIdx = 0
		it.started = true

	case it.partitionIdx+1 < len(it.partitions):
		it.partitionIdx++

	case it.roundPos+1 < len(it.round):
		it.partitionIdx = 0
		it.roundPos++

	default:
		if err := it.advanceParams(); err != nil {
			return nil, err
		}
		it.round = it.activeIndices()
		if len(it.round) == 0 {
			return nil, &ExhaustedError{What: "test iterator"}
		}
		it.roundPos = 0
		it.partitionIdx = 0
	}

	t := it.tests[it.round[it.roundPos]]
	params := t.odometer.getParams()
	return &ScheduledRun{
		TestName:    t.spec.Name,
		CommandLine: t.spec.buildCommandLine(params),
		Partition:   it.partitions[it.partitionIdx],
	}, nil
}

// advanceParams calls getNextParams on every test active in the round just
// completed, deactivating any whose odometer is exhausted.
func (it *testIterator) advanceParams() error {
	for _, i := range it.round {
		t := it.tests[i]
		if _, err := t.odometer.getNextParams(); err != nil {
			if IsExhausted(err) {
				t.active = false
				continue
			}
			return err
		}
	}
	return nil
}
