// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	cpuUtil "github.com/shirou/gopsutil/v3/cpu"
)

const (
	// cpuinfoPath is the kernel's per-logical-core descriptor table. gopsutil's
	// cpu.Info() parses the bulk of it, but it does not expose the apicid field
	// MCA topology inference needs, so it is re-read here directly.
	cpuinfoPath = "/proc/cpuinfo"
)

// logicalCore holds the subset of /proc/cpuinfo fields the topology probe
// needs for a single logical core.
type logicalCore struct {
	packageID int
	coreCount int
	family    int
	model     int
	apicID    int
}

// Topology is the immutable result of probing the host's CPU enumeration.
// Invariant: num_logical_cores == num_physical_cores * (2 if smtEnabled else 1).
type Topology struct {
	numSockets       int
	ccdsPerSocket    int
	coresPerCCD      int
	numPhysicalCores int
	numLogicalCores  int
	smtEnabled       bool

	cores map[int]*logicalCore // logical core ID -> descriptor, for socket lookups
}

// NumSockets returns the number of populated CPU sockets.
func (t *Topology) NumSockets() int { return t.numSockets }

// CCDsPerSocket returns the number of Core Complex Dies inferred per socket.
func (t *Topology) CCDsPerSocket() int { return t.ccdsPerSocket }

// CoresPerCCD returns the number of physical cores per CCD.
func (t *Topology) CoresPerCCD() int { return t.coresPerCCD }

// NumPhysicalCores returns the total number of physical cores across all sockets.
func (t *Topology) NumPhysicalCores() int { return t.numPhysicalCores }

// NumLogicalCores returns the total number of logical cores (threads) across all sockets.
func (t *Topology) NumLogicalCores() int { return t.numLogicalCores }

// SMTEnabled reports whether simultaneous multithreading is active.
func (t *Topology) SMTEnabled() bool { return t.smtEnabled }

// SocketOf returns the physical package ID a logical core belongs to.
func (t *Topology) SocketOf(coreID int) (int, error) {
	c, ok := t.cores[coreID]
	if !ok {
		return 0, fmt.Errorf("cpu: %d doesn't exist", coreID)
	}
	return c.packageID, nil
}

// socketResolverFromTopology adapts a *Topology to the mcaSampler's
// socketResolver interface.
type socketResolverFromTopology struct {
	t *Topology
}

func (s *socketResolverFromTopology) socketOf(coreID int) (int, error) {
	return s.t.SocketOf(coreID)
}

// probeTopology reads the host's CPU descriptor table and derives socket count,
// CCDs-per-socket, cores-per-CCD and SMT state from it.
//
// SMT is detected by comparing the number of logical cores reported on socket 0
// against that socket's cpu-cores field. CCDs-per-socket is inferred from the
// distinct high-order bits of each core's APIC-ID: the APIC-ID is right-shifted
// by 4 when SMT is enabled, by 1+(apicid of core 1 - apicid of core 0) when
// family 25 model >= 1, or by 3 otherwise; the result is masked with 0x1F and
// the distinct values per socket are counted.
func probeTopology() (*Topology, error) {
	cores, err := readLogicalCores()
	if err != nil {
		return nil, &TopologyUnavailableError{Reason: err.Error()}
	}
	if len(cores) == 0 {
		return nil, &TopologyUnavailableError{Reason: "no logical cores found in " + cpuinfoPath}
	}

	bySocket := make(map[int][]int) // socket -> logical core IDs, in ascending order
	ids := make([]int, 0, len(cores))
	for id := range cores {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		pkg := cores[id].packageID
		bySocket[pkg] = append(bySocket[pkg], id)
	}

	socket0, ok := bySocket[0]
	if !ok || len(socket0) == 0 {
		return nil, &TopologyUnavailableError{Reason: "socket 0 not present in cpuinfo"}
	}
	smtEnabled := len(socket0) != cores[socket0[0]].coreCount

	numLogicalCores := len(cores)
	divisor := 1
	if smtEnabled {
		divisor = 2
	}
	if numLogicalCores%divisor != 0 {
		return nil, &TopologyInconsistentError{
			Reason: fmt.Sprintf("%d logical cores does not divide evenly by %d (smt=%v)", numLogicalCores, divisor, smtEnabled),
		}
	}
	numPhysicalCores := numLogicalCores / divisor

	numSockets := len(bySocket)

	// div_fact, from the original implementation: apicid of logical core 1 minus
	// apicid of logical core 0, used only on the family==25 legacy shift path.
	divFact := 0
	if c1, ok := cores[1]; ok {
		divFact = c1.apicID - cores[0].apicID
	}

	ccdsBySocket := make(map[int]map[int]struct{}, numSockets)
	for socket := range bySocket {
		ccdsBySocket[socket] = make(map[int]struct{})
	}
	for _, id := range ids {
		c := cores[id]
		var shift uint
		switch {
		case smtEnabled:
			shift = 4
		case c.family == 25 && c.model >= 1:
			shift = uint(1 + divFact)
		default:
			shift = 3
		}
		ccd := (c.apicID >> shift) & 0x1F
		ccdsBySocket[c.packageID][ccd] = struct{}{}
	}

	ccdsPerSocket := -1
	for _, ccds := range ccdsBySocket {
		n := len(ccds)
		if ccdsPerSocket == -1 {
			ccdsPerSocket = n
			continue
		}
		if n != ccdsPerSocket {
			return nil, &TopologyInconsistentError{
				Reason: "sockets report differing CCD counts",
			}
		}
	}
	if ccdsPerSocket <= 0 {
		return nil, &TopologyInconsistentError{Reason: "inferred zero CCDs per socket"}
	}

	if numPhysicalCores%(ccdsPerSocket*numSockets) != 0 {
		return nil, &TopologyInconsistentError{
			Reason: fmt.Sprintf("%d physical cores does not divide evenly by %d ccds * %d sockets",
				numPhysicalCores, ccdsPerSocket, numSockets),
		}
	}
	coresPerCCD := numPhysicalCores / (ccdsPerSocket * numSockets)

	return &Topology{
		numSockets:       numSockets,
		ccdsPerSocket:    ccdsPerSocket,
		coresPerCCD:      coresPerCCD,
		numPhysicalCores: numPhysicalCores,
		numLogicalCores:  numLogicalCores,
		smtEnabled:       smtEnabled,
		cores:            cores,
	}, nil
}

// readLogicalCores parses /proc/cpuinfo into a map keyed by logical core (processor) ID.
func readLogicalCores() (map[int]*logicalCore, error) {
	raw, err := os.ReadFile(cpuinfoPath)
	if err != nil {
		return nil, err
	}

	cores := make(map[int]*logicalCore)
	var cur *logicalCore
	var curID int

	for _, line := range strings.Split(string(raw), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])

		switch key {
		case "processor":
			curID, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing processor id %q: %w", val, err)
			}
			cur = &logicalCore{}
			cores[curID] = cur
		case "physical id":
			if cur == nil {
				continue
			}
			cur.packageID, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing physical id %q: %w", val, err)
			}
		case "cpu cores":
			if cur == nil {
				continue
			}
			cur.coreCount, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing cpu cores %q: %w", val, err)
			}
		case "cpu family":
			if cur == nil {
				continue
			}
			cur.family, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing cpu family %q: %w", val, err)
			}
		case "model":
			if cur == nil {
				continue
			}
			cur.model, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing model %q: %w", val, err)
			}
		case "apicid":
			if cur == nil {
				continue
			}
			cur.apicID, err = strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("error parsing apicid %q: %w", val, err)
			}
		}
	}
	return cores, nil
}

// cpuVendor returns the vendor ID reported for any logical core, used only for
// diagnostic logging. gopsutil is used here rather than a second /proc/cpuinfo
// parse since vendor_id carries no topology-inference weight.
func cpuVendor() (string, error) {
	infos, err := cpuUtil.Info()
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("no CPUs reported by gopsutil")
	}
	return infos[0].VendorID, nil
}
