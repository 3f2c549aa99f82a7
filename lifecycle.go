// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/amd/ofhc/internal/log"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	checkIntervalFile = "/sys/devices/system/machinecheck/machinecheck0/check_interval"
	edacSysfsDir       = "/sys/devices/system/edac/mc/mc0"
	defaultCheckIntervalHigh = 1000000
)

// RunState is the lifecycle controller's state machine position.
type RunState int

const (
	StateInit RunState = iota
	StateProbe
	StateConfigured
	StateRunning
	StateSampling
	StateFinished
	StateFault
)

func (s RunState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateProbe:
		return "PROBE"
	case StateConfigured:
		return "CONFIGURED"
	case StateRunning:
		return "RUNNING"
	case StateSampling:
		return "SAMPLING"
	case StateFinished:
		return "FINISHED"
	case StateFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// Controller drives the harness's whole-run state machine: environment
// validation, the MCA flush protocol, and a restore hook that runs on every
// exit path.
type Controller struct {
	state RunState

	restorePolling func() error
}

// newController validates the environment (root, EDAC, affinity tool) and
// logs non-fatal warnings for ASLR, fatal-signal printing, and NUMA
// balancing. Fatal preconditions return EnvironmentUnmetError.
func newController() (*Controller, error) {
	c := &Controller{state: StateInit}

	if err := checkRoot(); err != nil {
		c.state = StateFault
		return nil, err
	}
	if err := checkEDAC(); err != nil {
		c.state = StateFault
		return nil, err
	}
	if err := checkAffinityTool(); err != nil {
		c.state = StateFault
		return nil, err
	}

	warnIfNot(sysctlInt("/proc/sys/kernel/randomize_va_space"), 0,
		"/proc/sys/kernel/randomize_va_space not set to 0 (disabled)")
	warnIfNot(sysctlInt("/proc/sys/kernel/print-fatal-signals"), 1,
		"/proc/sys/kernel/print-fatal-signals not set to 1 (enabled)")
	warnIfNot(sysctlInt("/proc/sys/kernel/numa_balancing"), 0,
		"/proc/sys/kernel/numa_balancing not set to 0 (disabled)")

	if err := setResourceLimits(); err != nil {
		c.state = StateFault
		return nil, err
	}

	c.state = StateProbe
	return c, nil
}

// checkRoot fails with EnvironmentUnmetError unless running as root; MSR
// access requires administrative privilege.
func checkRoot() error {
	u, err := user.Current()
	if err != nil {
		return &EnvironmentUnmetError{Reason: fmt.Sprintf("could not determine current user: %v", err)}
	}
	if u.Uid != "0" {
		return &EnvironmentUnmetError{Reason: "must run as root to use MSR options"}
	}
	return nil
}

// checkEDAC fails unless the EDAC kernel module or sysfs tree is present.
func checkEDAC() error {
	if _, err := os.Stat(edacSysfsDir); err == nil {
		return nil
	}
	out, err := exec.Command("sh", "-c", "lsmod | grep -i -c edac").Output()
	if err != nil {
		return &EnvironmentUnmetError{Reason: errors.Wrap(err, "checking for EDAC kernel module").Error()}
	}
	if n, convErr := strconv.Atoi(strings.TrimSpace(string(out))); convErr == nil && n > 0 {
		return nil
	}
	return &EnvironmentUnmetError{Reason: "no EDAC (Error Detection and Correction) kernel support found"}
}

// checkAffinityTool fails unless numactl is available and functional.
func checkAffinityTool() error {
	if err := exec.Command(affinityTool, "-s").Run(); err != nil {
		return &EnvironmentUnmetError{Reason: errors.Wrap(err, "'numactl' is not installed or not in $PATH").Error()}
	}
	return nil
}

// sysctlInt reads a small integer-valued /proc/sys file. Returns -1 on any
// read failure, which warnIfNot treats as "not as expected".
func sysctlInt(path string) int {
	raw, err := readFile(path)
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return -1
	}
	return n
}

func warnIfNot(got, want int, msg string) {
	if got != want {
		log.Warn(msg)
	}
}

// setResourceLimits raises every resource limit the harness needs to
// unlimited, mirroring the source's _setResourceLimits (LOCKS and NOFILE are
// intentionally left untouched, as in the source).
func setResourceLimits() error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	resources := []int{
		unix.RLIMIT_AS, unix.RLIMIT_CORE, unix.RLIMIT_CPU, unix.RLIMIT_DATA,
		unix.RLIMIT_FSIZE, unix.RLIMIT_MEMLOCK, unix.RLIMIT_NPROC,
		unix.RLIMIT_RSS, unix.RLIMIT_SIGPENDING, unix.RLIMIT_STACK,
	}
	for _, r := range resources {
		if err := unix.Setrlimit(r, &limit); err != nil {
			return &EnvironmentUnmetError{Reason: fmt.Sprintf("setrlimit failed: %v", err)}
		}
	}
	return nil
}

// setCheckInterval writes the machine-check polling interval, in
// milliseconds, to the kernel knob.
func setCheckInterval(interval int) error {
	return os.WriteFile(checkIntervalFile, []byte(strconv.Itoa(interval)), 0644)
}

// FlushMCAs implements the MCA flush protocol: temporarily sets the polling
// interval to 1, sleeps 2 seconds so outstanding banks surface, then restores
// the large default so the OS neither auto-clears nor steals banks during
// test runs. This is a process-wide single-writer resource; callers must not
// run this concurrently with a test run.
func (c *Controller) FlushMCAs() error {
	if err := setCheckInterval(1); err != nil {
		return err
	}
	time.Sleep(2 * time.Second)
	return setCheckInterval(defaultCheckIntervalHigh)
}

// RegisterRestoreHook installs the scoped restore-on-exit handle for the
// polling interval: the returned func must be deferred immediately so it runs
// on every exit path (normal return, error return, or panic unwind).
func (c *Controller) RegisterRestoreHook() func() {
	c.restorePolling = func() error {
		return setCheckInterval(defaultCheckIntervalHigh)
	}
	return func() {
		if err := c.restorePolling(); err != nil {
			log.Errorf("failed to restore machine-check polling interval: %v", err)
		}
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() RunState { return c.state }

// SetState transitions the controller to a new state.
func (c *Controller) SetState(s RunState) { c.state = s }

// Fault transitions into the terminal FAULT state.
func (c *Controller) Fault() { c.state = StateFault }
