// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import "fmt"

const (
	// mcgCapAddr is the Global Machine Check Capabilities register; its low
	// byte reports the number of banks visible to the reading core.
	mcgCapAddr uint32 = 0x179

	// mcaStatusBaseAddr is the STATUS register address for bank 0. Each bank's
	// register group occupies 16 consecutive addresses starting here, laid out
	// STATUS(+0) ADDR(+1) MISC0(+2) CONFIG(+3) IPID(+4) SYND(+5) DESTAT(+6) DEADDR(+7).
	mcaStatusBaseAddr uint32 = 0xC0002001

	bankStride = 16
)

// mcaReg identifies a register within a bank's group, as an offset from that
// bank's STATUS address.
const (
	regStatus = iota
	regAddr
	regMisc0
	regConfig
	regIPID
	regSynd
	regDestat
	regDeaddr
)

// MCABank is a structured fault record for one (core, bank) pair, emitted only
// when the STATUS register's VAL bit is set.
type MCABank struct {
	CoreID   int
	BankID   int
	SocketID int

	Status uint64 // raw STATUS register

	// Conditional raw payloads; ADDR, SYND and MISC0 are present only when the
	// corresponding STATUS validity bit is set. IPID and DESTAT are always read;
	// DEADDR is read too, but HasDeaddr is set only when DESTAT's VAL bit is set.
	Addr      uint64
	HasAddr   bool
	Synd      uint64
	HasSynd   bool
	IPID      uint64
	Misc0     uint64
	HasMisc0  bool
	Destat    uint64
	Deaddr    uint64
	HasDeaddr bool
}

// The STATUS bit-field accessors below replace the Python source's ctypes
// bit-packed struct: each named field of the 64-bit STATUS register is an
// explicit mask/shift over the raw value, rather than an overlaid struct.

func statusErrorCode(raw uint64) uint16    { return uint16(raw & 0xFFFF) }
func statusErrorCodeExt(raw uint64) uint8  { return uint8((raw >> 16) & 0x3F) }
func statusAddrLSB(raw uint64) uint8       { return uint8((raw >> 24) & 0x3F) }
func statusErrorCodeID(raw uint64) uint8   { return uint8((raw >> 32) & 0x3F) }
func statusScrub(raw uint64) bool          { return bitSet(raw, 40) }
func statusPoison(raw uint64) bool         { return bitSet(raw, 43) }
func statusDeferred(raw uint64) bool       { return bitSet(raw, 44) }
func statusUECC(raw uint64) bool           { return bitSet(raw, 45) }
func statusCECC(raw uint64) bool           { return bitSet(raw, 46) }
func statusTransparent(raw uint64) bool    { return bitSet(raw, 52) }
func statusSyndV(raw uint64) bool          { return bitSet(raw, 53) }
func statusTCC(raw uint64) bool            { return bitSet(raw, 55) }
func statusErrCoreIDVal(raw uint64) bool   { return bitSet(raw, 56) }
func statusPCC(raw uint64) bool            { return bitSet(raw, 57) }
func statusAddrV(raw uint64) bool          { return bitSet(raw, 58) }
func statusMiscV(raw uint64) bool          { return bitSet(raw, 59) }
func statusEn(raw uint64) bool             { return bitSet(raw, 60) }
func statusUC(raw uint64) bool             { return bitSet(raw, 61) }
func statusOverflow(raw uint64) bool       { return bitSet(raw, 62) }
func statusVal(raw uint64) bool            { return bitSet(raw, 63) }

func bitSet(raw uint64, bit uint) bool {
	return (raw>>bit)&0x1 == 1
}

// ErrorCode returns the decoded error_code field (bits 0-15).
func (b *MCABank) ErrorCode() uint16 { return statusErrorCode(b.Status) }

// ErrorCodeExt returns the decoded error_code_ext field (bits 16-21).
func (b *MCABank) ErrorCodeExt() uint8 { return statusErrorCodeExt(b.Status) }

// AddrLSB returns the decoded addr_lsb field (bits 24-29).
func (b *MCABank) AddrLSB() uint8 { return statusAddrLSB(b.Status) }

// ErrorCodeID returns the decoded error_code_id field (bits 32-37).
func (b *MCABank) ErrorCodeID() uint8 { return statusErrorCodeID(b.Status) }

// Scrub reports the decoded scrub bit (40).
func (b *MCABank) Scrub() bool { return statusScrub(b.Status) }

// Poison reports the decoded poison bit (43).
func (b *MCABank) Poison() bool { return statusPoison(b.Status) }

// Deferred reports the decoded deferred bit (44).
func (b *MCABank) Deferred() bool { return statusDeferred(b.Status) }

// UECC reports the decoded uncorrected-ECC bit (45).
func (b *MCABank) UECC() bool { return statusUECC(b.Status) }

// CECC reports the decoded corrected-ECC bit (46).
func (b *MCABank) CECC() bool { return statusCECC(b.Status) }

// Transparent reports the decoded transparent bit (52).
func (b *MCABank) Transparent() bool { return statusTransparent(b.Status) }

// SyndV reports whether the SYND payload is valid (bit 53).
func (b *MCABank) SyndV() bool { return statusSyndV(b.Status) }

// TCC reports the decoded task-context-corrupt bit (55).
func (b *MCABank) TCC() bool { return statusTCC(b.Status) }

// ErrCoreIDVal reports whether the error-reporting core ID is valid (bit 56).
func (b *MCABank) ErrCoreIDVal() bool { return statusErrCoreIDVal(b.Status) }

// PCC reports the decoded processor-context-corrupt bit (57).
func (b *MCABank) PCC() bool { return statusPCC(b.Status) }

// AddrV reports whether the ADDR payload is valid (bit 58).
func (b *MCABank) AddrV() bool { return statusAddrV(b.Status) }

// MiscV reports whether the MISC0 payload is valid (bit 59).
func (b *MCABank) MiscV() bool { return statusMiscV(b.Status) }

// En reports the decoded error-reporting-enabled bit (60).
func (b *MCABank) En() bool { return statusEn(b.Status) }

// UC reports whether the error is uncorrected (bit 61).
func (b *MCABank) UC() bool { return statusUC(b.Status) }

// Overflow reports the decoded overflow bit (62).
func (b *MCABank) Overflow() bool { return statusOverflow(b.Status) }

// Val reports whether this bank's STATUS register holds a valid record (bit 63).
func (b *MCABank) Val() bool { return statusVal(b.Status) }

// String renders a record the way the harness's command log embeds MCA
// descriptions: a semicolon-joined sequence of key:value fields.
func (b *MCABank) String() string {
	if !b.Val() {
		return ""
	}
	sev := "CORRECTED"
	if b.UC() {
		sev = "UNCORRECTED"
	}
	s := fmt.Sprintf("MCE DETECTED [%s];CORE:%d;SOCKET:%d;BANK:%d;ERROR CODE EXT:%d;STATUS:%s;MCA_STATUS:0x%x;",
		sev, b.CoreID, b.SocketID, b.BankID, b.ErrorCodeExt(), sev, b.Status)
	if b.HasAddr {
		s += fmt.Sprintf("MCA_ADDR:0x%x;", b.Addr)
	}
	if b.HasSynd {
		s += fmt.Sprintf("MCA_SYND:0x%x;", b.Synd)
	}
	s += fmt.Sprintf("MCA_IPID:0x%x;", b.IPID)
	if b.HasMisc0 {
		s += fmt.Sprintf("MCA_MISC0:0x%x;", b.Misc0)
	}
	if b.HasDeaddr {
		s += fmt.Sprintf("MCA_DESTAT:0x%x;MCA_DEADDR:0x%x;", b.Destat, b.Deaddr)
	}
	return s
}

// msrReader is the subset of msrGateway the sampler depends on, isolated for tests.
type msrReader interface {
	Read(registerAddr uint32, coreID int) (uint64, error)
}

// socketResolver reports the socket ID a logical core belongs to, backed by
// the topology probe's per-core package IDs.
type socketResolver interface {
	socketOf(coreID int) (int, error)
}

// mcaSampler walks every core x every bank, constructing structured MCABank
// records for banks whose VALID bit is set.
type mcaSampler struct {
	msr      msrReader
	sockets  socketResolver
	numCores int
}

func newMCASampler(msr msrReader, sockets socketResolver, numCores int) *mcaSampler {
	return &mcaSampler{msr: msr, sockets: sockets, numCores: numCores}
}

// Sample walks cores in ascending order (core-major) and, within a core,
// banks in ascending order (bank-minor), returning every bank whose STATUS.val
// bit is set.
func (s *mcaSampler) Sample() ([]MCABank, error) {
	var banks []MCABank
	for core := 0; core < s.numCores; core++ {
		capRaw, err := s.msr.Read(mcgCapAddr, core)
		if err != nil {
			return nil, err
		}
		count := int(capRaw & 0xFF)
		if count == 0 {
			return nil, &NoBanksError{CoreID: core}
		}

		socketID, err := s.sockets.socketOf(core)
		if err != nil {
			return nil, err
		}

		for bankIdx := 0; bankIdx < count; bankIdx++ {
			b, err := s.readBank(core, bankIdx, socketID)
			if err != nil {
				return nil, err
			}
			if b != nil {
				banks = append(banks, *b)
			}
		}
	}
	return banks, nil
}

// readBank reads and decodes a single bank's register group, returning nil
// when the bank's STATUS.val bit is clear.
func (s *mcaSampler) readBank(core, bankIdx, socketID int) (*MCABank, error) {
	statusAddr := mcaStatusBaseAddr + uint32(bankIdx)*bankStride

	status, err := s.msr.Read(statusAddr+uint32(regStatus), core)
	if err != nil {
		return nil, err
	}
	if !statusVal(status) {
		return nil, nil
	}

	b := &MCABank{
		CoreID:   core,
		BankID:   bankIdx,
		SocketID: socketID,
		Status:   status,
	}

	if statusMiscV(status) {
		v, err := s.msr.Read(statusAddr+uint32(regMisc0), core)
		if err != nil {
			return nil, err
		}
		b.Misc0, b.HasMisc0 = v, true
	}
	if statusAddrV(status) {
		v, err := s.msr.Read(statusAddr+uint32(regAddr), core)
		if err != nil {
			return nil, err
		}
		b.Addr, b.HasAddr = v, true
	}
	if statusSyndV(status) {
		v, err := s.msr.Read(statusAddr+uint32(regSynd), core)
		if err != nil {
			return nil, err
		}
		b.Synd, b.HasSynd = v, true
	}

	ipid, err := s.msr.Read(statusAddr+uint32(regIPID), core)
	if err != nil {
		return nil, err
	}
	b.IPID = ipid

	destat, err := s.msr.Read(statusAddr+uint32(regDestat), core)
	if err != nil {
		return nil, err
	}
	b.Destat = destat

	deaddr, err := s.msr.Read(statusAddr+uint32(regDeaddr), core)
	if err != nil {
		return nil, err
	}
	b.Deaddr, b.HasDeaddr = deaddr, statusVal(destat)

	return b, nil
}
