// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amd/ofhc/internal/config"
	"github.com/amd/ofhc/internal/log"
)

// Harness is the fully wired fault-harvesting orchestrator: everything needed
// to drive one complete run of the configured test matrix.
type Harness struct {
	ctrl     *Controller
	topo     *Topology
	msr      *msrGateway
	mca      *mcaSampler
	exec     *executor
	sink     *resultLogSink
	testIter *testIterator

	runDir string
	logDir string
}

// harnessBuilder accumulates the options passed to New before the settings
// document is loaded and the subsystems are probed. Implements the
// functional options pattern.
type harnessBuilder struct {
	runDirOverride string
	logDirOverride string
	logger         log.Logger
}

// Option configures a Harness at construction time.
type Option func(*harnessBuilder)

// WithRunDir overrides the settings document's Run_Directory, matching the
// CLI's --run_dir flag.
func WithRunDir(dir string) Option {
	return func(b *harnessBuilder) {
		b.runDirOverride = dir
	}
}

// WithLogDir overrides the settings document's Log_Directory, matching the
// CLI's --log_dir flag.
func WithLogDir(dir string) Option {
	return func(b *harnessBuilder) {
		b.logDirOverride = dir
	}
}

// WithLogger returns a function closure that sets a user provided logger
// structure to be used to log messages. Note: this option is supposed to go
// first in the list of arguments passed to New(), same as the rest of the
// stack's builders.
func WithLogger(l log.Logger) Option {
	return func(b *harnessBuilder) {
		b.logger = l
	}
}

// New loads settingsArg (a path to a YAML/JSON file, or an inline JSON
// string), probes the host environment and topology, resolves every
// configured core partition, and returns a Harness ready to Run. Any
// precondition failure — environment, topology, or configuration — aborts
// construction and returns the offending error; nothing partially wired is
// returned.
func New(settingsArg string, opts ...Option) (*Harness, error) {
	b := &harnessBuilder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger != nil {
		log.SetLogger(b.logger)
	}

	cfg, err := config.Load(settingsArg)
	if err != nil {
		return nil, &ConfigInvalidError{Reason: err.Error()}
	}

	runDir := cfg.RunDirectory
	if b.runDirOverride != "" {
		runDir = b.runDirOverride
	}
	logDir := cfg.LogDirectory
	if b.logDirOverride != "" {
		logDir = b.logDirOverride
	}
	if runDir == "" {
		return nil, &ConfigInvalidError{Reason: "Run_Directory not set in configuration and --run_dir not given"}
	}
	if logDir == "" {
		return nil, &ConfigInvalidError{Reason: "Log_Directory not set in configuration and --log_dir not given"}
	}

	ctrl, err := newController()
	if err != nil {
		return nil, err
	}

	topo, err := probeTopology()
	if err != nil {
		ctrl.Fault()
		return nil, err
	}
	ctrl.SetState(StateConfigured)
	logTopologyDetails(topo)

	resolver, err := newPartitionResolver(runDir, topo, cfg.CoreConfig.SMT)
	if err != nil {
		ctrl.Fault()
		return nil, err
	}

	msrGW, err := newMsrGateway(topo.NumLogicalCores())
	if err != nil {
		ctrl.Fault()
		return nil, err
	}

	sockets := &socketResolverFromTopology{t: topo}
	mca := newMCASampler(msrGW, sockets, topo.NumLogicalCores())

	specs, err := buildTestSpecs(cfg.Tests)
	if err != nil {
		msrGW.Close()
		ctrl.Fault()
		return nil, err
	}

	requests, err := buildPartitionRequests(cfg.CoreConfig, topo)
	if err != nil {
		msrGW.Close()
		ctrl.Fault()
		return nil, err
	}

	partitions := make([]CorePartition, 0, len(requests))
	for _, req := range requests {
		coreIDs, err := resolver.resolve(context.Background(), req.tag, req.thread, req.socket)
		if err != nil {
			msrGW.Close()
			ctrl.Fault()
			return nil, err
		}
		partitions = append(partitions, CorePartition{
			Tag:     req.tag,
			Thread:  req.thread,
			Socket:  req.socket,
			CoreIDs: coreIDs,
		})
	}

	constantMCAChecks := true
	if cfg.ConstantMCEChecking != nil {
		constantMCAChecks = *cfg.ConstantMCEChecking
	}
	exec := newExecutor(mca, constantMCAChecks)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		msrGW.Close()
		ctrl.Fault()
		return nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}
	sink, err := newResultLogSink(logDir)
	if err != nil {
		msrGW.Close()
		ctrl.Fault()
		return nil, err
	}

	testIter := newTestIterator(specs, partitions)

	return &Harness{
		ctrl:     ctrl,
		topo:     topo,
		msr:      msrGW,
		mca:      mca,
		exec:     exec,
		sink:     sink,
		testIter: testIter,
		runDir:   runDir,
		logDir:   logDir,
	}, nil
}

// Topology exposes the probed host topology.
func (h *Harness) Topology() *Topology { return h.topo }

// Run drives the test iterator to exhaustion, executing each scheduled run
// and appending its outcome to the result log. It installs the MCA polling
// restore hook for the duration of the run, and flushes MCAs up front so
// stale banks from before this invocation are not attributed to the first
// command. Returns nil on ordinary exhaustion of the test matrix; any other
// error aborts the run and transitions the controller to StateFault.
func (h *Harness) Run(ctx context.Context) error {
	restore := h.ctrl.RegisterRestoreHook()
	defer restore()

	if err := h.ctrl.FlushMCAs(); err != nil {
		h.ctrl.Fault()
		return err
	}
	if err := h.checkMCEs("PRETEST Detection"); err != nil {
		h.ctrl.Fault()
		return err
	}

	h.ctrl.SetState(StateRunning)
	commandNumber := 0
	for {
		select {
		case <-ctx.Done():
			h.ctrl.Fault()
			return ctx.Err()
		default:
		}

		run, err := h.testIter.getNextTest()
		if err != nil {
			if IsExhausted(err) {
				if err := h.checkMCEs("POSTTEST Detection"); err != nil {
					h.ctrl.Fault()
					return err
				}
				h.ctrl.SetState(StateFinished)
				log.Info("Finished executing all tests")
				return nil
			}
			h.ctrl.Fault()
			return err
		}

		commandNumber++
		commandLine := joinCommandLine(run.CommandLine)
		if err := h.sink.WriteCurrentCommand(commandNumber, commandLine); err != nil {
			log.Warnf("could not write current-command file: %v", err)
		}

		h.ctrl.SetState(StateRunning)
		rec, err := h.exec.run(ctx, commandNumber, run)
		if err != nil {
			h.ctrl.Fault()
			return err
		}
		h.ctrl.SetState(StateSampling)

		uptime := readUptime()
		if err := h.sink.WriteResult(uptime, rec); err != nil {
			h.ctrl.Fault()
			return err
		}

		if rec.ACF {
			log.Warnf("command %d: ACF on cores %v", commandNumber, rec.ACFCores)
		}
		if rec.MCA {
			log.Warnf("command %d: %d MCA bank(s) recorded", commandNumber, len(rec.MCABanks))
		}
	}
}

// checkMCEs forces an MCA sample outside the context of any scheduled
// command and, if any bank reports a valid record, appends a result row
// tagged with description ("PRETEST Detection" / "POSTTEST Detection") so a
// fault present before the first command or surfacing after the last is
// never silently dropped. Mirrors the source's pre-run and post-run
// checkMces sweep.
func (h *Harness) checkMCEs(description string) error {
	banks, err := h.mca.Sample()
	if err != nil {
		return err
	}
	if len(banks) == 0 {
		return nil
	}
	log.Warnf("%s detected MCE, check log for details", description)
	rec := &TestRunRecord{
		CommandLine: description,
		MCA:         true,
		MCABanks:    banks,
	}
	return h.sink.WriteResult(readUptime(), rec)
}

// Close releases the harness's open resources: the MSR gateway's per-core
// device handles and the result log sink's file handle.
func (h *Harness) Close() error {
	var merr MultiError
	if err := h.msr.Close(); err != nil {
		merr.add(err.Error())
	}
	if err := h.sink.Close(); err != nil {
		merr.add(err.Error())
	}
	if len(merr.errs) > 0 {
		return &merr
	}
	return nil
}

// logTopologyDetails logs the probed topology once at startup.
func logTopologyDetails(t *Topology) {
	vendor, err := cpuVendor()
	if err != nil {
		log.Warnf("could not determine CPU vendor: %v", err)
		vendor = "unknown"
	}
	log.Infof("topology: vendor=%s sockets=%d ccds/socket=%d cores/ccd=%d physical_cores=%d logical_cores=%d smt=%v",
		vendor, t.NumSockets(), t.CCDsPerSocket(), t.CoresPerCCD(), t.NumPhysicalCores(), t.NumLogicalCores(), t.SMTEnabled())
}

// readUptime reads the system uptime in seconds as reported by the kernel,
// for the result log's "System Uptime" column. The read goes through
// readFileWithTimestamp so the call honors the package's fake-clock test
// seam; the timestamp itself is only used for the debug trace below. Returns
// "0" on any read failure rather than aborting a run over a cosmetic column.
func readUptime() string {
	raw, ts, err := readFileWithTimestamp("/proc/uptime")
	if err != nil {
		return "0"
	}
	log.Debugf("read /proc/uptime at %s", ts.Format(time.RFC3339))
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "0"
	}
	if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
		return "0"
	}
	return fields[0]
}
