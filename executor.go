// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

const affinityTool = "numactl"

// CoreResult is one core's outcome from a single command: its captured
// stdout/stderr and exit code. An ACF (application/core fault) is an
// exit code other than zero.
type CoreResult struct {
	CoreID   int
	Stdout   string
	Stderr   string
	ExitCode int
}

// TestRunRecord aggregates one executed command's full outcome, ready for the
// result log sink.
type TestRunRecord struct {
	CommandNumber int
	CommandLine   string
	Cores         []int
	ACF           bool
	ACFCores      []int
	ACFDetails    []string
	MCA           bool
	MCABanks      []MCABank
}

// sampler is the subset of mcaSampler the Executor depends on.
type sampler interface {
	Sample() ([]MCABank, error)
}

// executor spawns one process per core in a partition concurrently, each
// pinned to its core via the external affinity tool, collects per-core
// results, then asks the MCA sampler for a snapshot.
type executor struct {
	mca               sampler
	constantMCAChecks bool
}

func newExecutor(mca sampler, constantMCAChecks bool) *executor {
	return &executor{mca: mca, constantMCAChecks: constantMCAChecks}
}

// run executes run.CommandLine once per core in run.Partition.CoreIDs
// concurrently via numactl --physcpubind=<core>, joins all children, then — if
// constant MCA checking is enabled — samples MCA state for attribution to
// this command. commandNumber is carried through to the result record.
func (e *executor) run(ctx context.Context, commandNumber int, run *ScheduledRun) (*TestRunRecord, error) {
	cores := run.Partition.CoreIDs
	results := make([]CoreResult, len(cores))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, core := range cores {
		i, core := i, core
		g.Go(func() error {
			res, err := execOnCore(gctx, run.CommandLine, core)
			if err != nil {
				return &ExecSpawnFailedError{CoreID: core, Cause: err}
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var acfCores []int
	var acfDetails []string
	for _, r := range results {
		if r.ExitCode != 0 {
			acfCores = append(acfCores, r.CoreID)
			acfDetails = append(acfDetails, fmt.Sprintf(
				"core %d exit code %d, stdout: %s, stderr: %s", r.CoreID, r.ExitCode, r.Stdout, r.Stderr))
		}
	}
	sort.Ints(acfCores)

	var banks []MCABank
	if e.constantMCAChecks {
		var err error
		banks, err = e.mca.Sample()
		if err != nil {
			return nil, err
		}
	}

	record := &TestRunRecord{
		CommandNumber: commandNumber,
		CommandLine:   joinCommandLine(run.CommandLine),
		Cores:         cores,
		ACF:           len(acfCores) > 0,
		ACFCores:      acfCores,
		ACFDetails:    acfDetails,
		MCA:           len(banks) > 0,
		MCABanks:      banks,
	}
	return record, nil
}

// execOnCore pins cmdLine to core via the affinity tool and captures its
// stdout, stderr, and exit code. A non-zero exit is a normal CoreResult, not
// an error; only a spawn failure is an error here.
func execOnCore(ctx context.Context, cmdLine []string, core int) (CoreResult, error) {
	args := append([]string{"--physcpubind=" + strconv.Itoa(core)}, cmdLine...)
	cmd := exec.CommandContext(ctx, affinityTool, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return CoreResult{}, err
		}
		exitCode = exitErr.ExitCode()
	}

	return CoreResult{
		CoreID:   core,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

func joinCommandLine(parts []string) string {
	cmd := ""
	for i, p := range parts {
		if i > 0 {
			cmd += " "
		}
		cmd += p
	}
	return cmd
}
