// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMsrReader maps (registerAddr, coreID) to a canned 64-bit value, for
// driving the MCA Sampler without touching real MSR device nodes.
type fakeMsrReader struct {
	values map[[2]uint64]uint64
}

func newFakeMsrReader() *fakeMsrReader {
	return &fakeMsrReader{values: make(map[[2]uint64]uint64)}
}

func (f *fakeMsrReader) set(registerAddr uint32, coreID int, value uint64) {
	f.values[[2]uint64{uint64(registerAddr), uint64(coreID)}] = value
}

func (f *fakeMsrReader) Read(registerAddr uint32, coreID int) (uint64, error) {
	return f.values[[2]uint64{uint64(registerAddr), uint64(coreID)}], nil
}

// oneSocketResolver reports every core as belonging to socket 0.
type oneSocketResolver struct{}

func (oneSocketResolver) socketOf(coreID int) (int, error) { return 0, nil }

// TestMCASamplerNoFault covers boundary scenario 4: one core, five banks,
// every STATUS read yields 0x0. Expects an empty bank list.
func TestMCASamplerNoFault(t *testing.T) {
	msr := newFakeMsrReader()
	msr.set(mcgCapAddr, 0, 5)

	s := newMCASampler(msr, oneSocketResolver{}, 1)
	banks, err := s.Sample()
	require.NoError(t, err)
	require.Empty(t, banks)
}

// TestMCASamplerSingleCoreFault covers boundary scenario 5: 128 cores, one
// bank each, only core 0's STATUS has the VAL bit set (0x8000000000000000),
// every other read is zero. Expects exactly one MCABank record.
func TestMCASamplerSingleCoreFault(t *testing.T) {
	const numCores = 128
	msr := newFakeMsrReader()
	for core := 0; core < numCores; core++ {
		msr.set(mcgCapAddr, core, 1)
	}
	msr.set(mcaStatusBaseAddr, 0, 0x8000000000000000)

	s := newMCASampler(msr, oneSocketResolver{}, numCores)
	banks, err := s.Sample()
	require.NoError(t, err)
	require.Len(t, banks, 1)

	b := banks[0]
	require.Equal(t, 0, b.CoreID)
	require.Equal(t, 0, b.BankID)
	require.True(t, b.Val())
	require.False(t, b.UC())
	require.False(t, b.AddrV())
	require.False(t, b.HasAddr)
}

// TestMCASamplerZeroBanks covers boundary scenario 6: MCG_CAP.count == 0
// raises NoBanksError.
func TestMCASamplerZeroBanks(t *testing.T) {
	msr := newFakeMsrReader()
	msr.set(mcgCapAddr, 0, 0)

	s := newMCASampler(msr, oneSocketResolver{}, 1)
	_, err := s.Sample()
	require.Error(t, err)
	var nb *NoBanksError
	require.ErrorAs(t, err, &nb)
	require.Equal(t, 0, nb.CoreID)
}

// TestStatusBitFieldRoundTrip covers the round-trip law: decoding STATUS as
// bit-fields and re-encoding yields the original raw value, for every
// documented bit position.
func TestStatusBitFieldRoundTrip(t *testing.T) {
	raw := uint64(0xFEDCBA9876543210)

	var reencoded uint64
	reencoded |= uint64(statusErrorCode(raw))
	reencoded |= uint64(statusErrorCodeExt(raw)) << 16
	reencoded |= uint64(statusAddrLSB(raw)) << 24
	reencoded |= uint64(statusErrorCodeID(raw)) << 32
	setBit := func(v bool, bit uint) uint64 {
		if v {
			return 1 << bit
		}
		return 0
	}
	reencoded |= setBit(statusScrub(raw), 40)
	reencoded |= setBit(statusPoison(raw), 43)
	reencoded |= setBit(statusDeferred(raw), 44)
	reencoded |= setBit(statusUECC(raw), 45)
	reencoded |= setBit(statusCECC(raw), 46)
	reencoded |= setBit(statusTransparent(raw), 52)
	reencoded |= setBit(statusSyndV(raw), 53)
	reencoded |= setBit(statusTCC(raw), 55)
	reencoded |= setBit(statusErrCoreIDVal(raw), 56)
	reencoded |= setBit(statusPCC(raw), 57)
	reencoded |= setBit(statusAddrV(raw), 58)
	reencoded |= setBit(statusMiscV(raw), 59)
	reencoded |= setBit(statusEn(raw), 60)
	reencoded |= setBit(statusUC(raw), 61)
	reencoded |= setBit(statusOverflow(raw), 62)
	reencoded |= setBit(statusVal(raw), 63)

	// Bits outside the documented fields (e.g. bits 38-39, 41-42, 47-51, 54)
	// carry no decoded meaning and are masked out of both sides.
	const documentedMask = uint64(0xFFFF) | // error_code
		0x3F<<16 | // error_code_ext
		0x3F<<24 | // addr_lsb
		0x3F<<32 | // error_code_id
		1<<40 | 1<<43 | 1<<44 | 1<<45 | 1<<46 | 1<<52 | 1<<53 |
		1<<55 | 1<<56 | 1<<57 | 1<<58 | 1<<59 | 1<<60 | 1<<61 | 1<<62 | 1<<63

	require.Equal(t, raw&documentedMask, reencoded&documentedMask)
}
