// Package jtagcore is the JTAG façade (C4): it exclusively owns the TAP
// engine, the chain manager, and the probe, and exposes the handful of
// operations (shiftDR, shiftIR, toggleClk, goTestLogicReset, setState) that
// every higher-level consumer — the XVC bridge, the SPI-over-JTAG façade,
// illustrative clients like pkg/zynqmp — is built from.
package jtagcore

import (
	"fmt"

	"github.com/OpenTraceLab/xvcjtag/pkg/chain"
	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
	"github.com/OpenTraceLab/xvcjtag/pkg/tap"
)

// IRTooWideError is returned by ShiftIRScalar when the requested instruction
// register width exceeds what fits in a single byte-sized scalar value.
type IRTooWideError struct {
	Bits int
}

func (e *IRTooWideError) Error() string {
	return fmt.Sprintf("jtagcore: IR width %d bits exceeds the 8-bit scalar shiftIR overload", e.Bits)
}

// Facade composes C1–C3 into the operations spec.md describes under C4.
type Facade struct {
	probe probe.Capability
	tap   *tap.Engine
	chain *chain.Manager
}

// New constructs a Facade over the given probe, wiring a fresh TAP engine
// and chain manager to it.
func New(p probe.Capability, chainOpts ...chain.Option) *Facade {
	tapEngine := tap.NewEngine(p)
	chainMgr := chain.NewManager(tapEngine, chainOpts...)
	return &Facade{probe: p, tap: tapEngine, chain: chainMgr}
}

// Probe exposes the underlying Capability for callers that need passthrough
// access (Info, SetSpeed, or the raw WriteTMSTDI bypass used by the XVC
// server).
func (f *Facade) Probe() probe.Capability { return f.probe }

// State reports the TAP controller's last-committed state.
func (f *Facade) State() tap.State { return f.tap.State() }

// SetState drives the TAP to target via the shortest TMS sequence.
func (f *Facade) SetState(target tap.State) error { return f.tap.SetState(target) }

// GoTestLogicReset drives the TAP to Test-Logic-Reset.
func (f *Facade) GoTestLogicReset() error { return f.tap.GoTestLogicReset() }

// ToggleClk issues n idle TCK cycles without changing TAP state.
func (f *Facade) ToggleClk(n int) error { return f.tap.ToggleClk(n) }

// CalculateTMSBuffer simulates nbits of LSB-first packed TMS bits from the
// current committed state without performing any I/O.
func (f *Facade) CalculateTMSBuffer(buf []byte, nbits int) tap.State {
	return f.tap.CalculateTMSBuffer(buf, nbits)
}

// Resync forces the TAP engine's committed state, used by the XVC server
// after a raw WriteTMSTDI bypass shift.
func (f *Facade) Resync(s tap.State) { f.tap.Resync(s) }

// DetectChain re-enumerates the scan chain.
func (f *Facade) DetectChain(maxDevices int) error { return f.chain.DetectChain(maxDevices) }

// InsertFirst synthesizes a chain entry, used by clients that reconfigure a
// device in place (e.g. pkg/zynqmp after bringing up the PL/ARM DAP taps).
func (f *Facade) InsertFirst(idcode uint32, irlen uint16) { f.chain.InsertFirst(idcode, irlen) }

// DeviceSelect marks the device at index i as the active target.
func (f *Facade) DeviceSelect(i int) error { return f.chain.DeviceSelect(i) }

// ChainLen reports how many devices are on the chain.
func (f *Facade) ChainLen() int { return f.chain.Len() }

// ChainEntries returns a copy of the chain descriptor.
func (f *Facade) ChainEntries() []chain.Entry { return f.chain.Entries() }

func onesBuf(nbits int) []byte {
	buf := make([]byte, (nbits+7)/8)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// ShiftDR shifts drlen bits of tdi into the data register of the selected
// device, bypassing every other device on the chain with an all-ones pad,
// and leaves the TAP in endState (or in Shift-DR, enabling back-to-back
// shifts without re-padding, when endState is tap.StateShiftDR itself). If
// tdo is non-nil it is filled with the captured response bits.
func (f *Facade) ShiftDR(tdi, tdo []byte, drlen int, endState tap.State) error {
	if f.tap.State() != tap.StateShiftDR {
		if err := f.tap.SetState(tap.StateShiftDR); err != nil {
			return err
		}
		if before := f.chain.BitsBeforeDR(); before > 0 {
			if err := f.tap.ReadWrite(tap.DomainDR, onesBuf(before), nil, before, false); err != nil {
				return err
			}
		}
	}

	after := f.chain.BitsAfterDR()
	last := after == 0 && endState != tap.StateShiftDR
	if err := f.tap.ReadWrite(tap.DomainDR, tdi, tdo, drlen, last); err != nil {
		return err
	}

	if endState != tap.StateShiftDR {
		if after > 0 {
			if err := f.tap.ReadWrite(tap.DomainDR, onesBuf(after), nil, after, true); err != nil {
				return err
			}
		}
		if err := f.tap.SetState(endState); err != nil {
			return err
		}
	}
	return nil
}

// ShiftIR is the IR-scan analogue of ShiftDR: the bypass padding is measured
// in bits summed from neighboring devices' IR widths rather than one bit per
// device.
func (f *Facade) ShiftIR(tdi, tdo []byte, irlen int, endState tap.State) error {
	if f.tap.State() != tap.StateShiftIR {
		if err := f.tap.SetState(tap.StateShiftIR); err != nil {
			return err
		}
		if before := f.chain.BitsBeforeIR(); before > 0 {
			if err := f.tap.ReadWrite(tap.DomainIR, onesBuf(before), nil, before, false); err != nil {
				return err
			}
		}
	}

	after := f.chain.BitsAfterIR()
	last := after == 0 && endState != tap.StateShiftIR
	if err := f.tap.ReadWrite(tap.DomainIR, tdi, tdo, irlen, last); err != nil {
		return err
	}

	if endState != tap.StateShiftIR {
		if after > 0 {
			if err := f.tap.ReadWrite(tap.DomainIR, onesBuf(after), nil, after, true); err != nil {
				return err
			}
		}
		if err := f.tap.SetState(endState); err != nil {
			return err
		}
	}
	return nil
}

// ShiftIRScalar is a convenience overload for instruction registers no wider
// than 8 bits: it packs instr into a single byte, shifts it, and decodes the
// captured TDO back into a scalar. Widths beyond 8 bits must use ShiftIR
// directly with a byte buffer.
func (f *Facade) ShiftIRScalar(instr uint8, bits int, endState tap.State) (int, error) {
	if bits > 8 {
		return -1, &IRTooWideError{Bits: bits}
	}
	tdi := []byte{instr}
	tdo := make([]byte, 1)
	if err := f.ShiftIR(tdi, tdo, bits, endState); err != nil {
		return -1, err
	}
	return int(tdo[0]), nil
}
