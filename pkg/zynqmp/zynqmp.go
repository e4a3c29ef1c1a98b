// Package zynqmp is an illustrative bring-up client for Xilinx ZynqMP
// devices built entirely from the jtagcore façade (C4). A powered-on ZynqMP
// exposes only its PS TAP until its JTAG_CTRL register is told to enable the
// PL TAP and ARM DAP; Init performs that sequence and re-enumerates the
// chain, grounded on original_source/src/xvc.cpp's zynqmp_init.
package zynqmp

import (
	"fmt"

	"github.com/OpenTraceLab/xvcjtag/pkg/jtagcore"
	"github.com/OpenTraceLab/xvcjtag/pkg/tap"
)

// PSTAPIDCode is the IDCODE reported by the PS TAP that is visible before PL
// and ARM DAP are enabled.
const PSTAPIDCode = 0xFFFFFE

// ARMDAPIDCode is the Cortex-A53 ARM DAP IDCODE expected at chain index 1
// once bring-up succeeds.
const ARMDAPIDCode = 0x5BA00477

// plIDCode is the synthetic IDCODE Init assigns the PL TAP entry after
// bring-up; the real PL IDCODE is not readable until detectChain has already
// run, so the original client hard-codes a placeholder (0xdeadbeef in the
// reference source) rather than re-reading it.
const plIDCode = 0xDEADBEEF

// BringUpError reports a chain shape that does not match what Init expects
// after enabling PL and ARM DAP.
type BringUpError struct {
	Reason string
}

func (e *BringUpError) Error() string { return fmt.Sprintf("zynqmp: %s", e.Reason) }

// Client wraps a jtagcore.Facade already holding a freshly detected chain
// whose device 0 is the ZynqMP PS TAP.
type Client struct {
	facade *jtagcore.Facade
}

// New wraps an existing façade. The caller is expected to have already run
// DetectChain so device 0 is the PS TAP.
func New(facade *jtagcore.Facade) *Client {
	return &Client{facade: facade}
}

// Init drives the PS TAP's JTAG_CTRL register to enable the PL TAP and ARM
// DAP, re-enumerates the chain, and checks that it holds two devices with the
// ARM DAP at index 1 (the IDCODE at index 0 is not checked). It then prepends
// the placeholder PL TAP entry and selects chain index 1, the device that
// re-enumeration placed at index 0.
func (c *Client) Init() error {
	if err := c.facade.DeviceSelect(0); err != nil {
		return fmt.Errorf("zynqmp: select PS TAP: %w", err)
	}

	// JTAG_CTRL is addressed via a 12-bit IR code split across two shifts
	// because the PS TAP's IR is wider than the scalar 8-bit overload.
	const ctrlIR = 0x824
	if _, err := c.facade.ShiftIRScalar(ctrlIR&0xFF, 8, tap.StateShiftIR); err != nil {
		return fmt.Errorf("zynqmp: shift JTAG_CTRL low byte: %w", err)
	}
	if _, err := c.facade.ShiftIRScalar((ctrlIR>>8)&0x0F, 4, tap.StateRunTestIdle); err != nil {
		return fmt.Errorf("zynqmp: shift JTAG_CTRL high nibble: %w", err)
	}

	// Writing 0x3 into the data register enables both the PL TAP and ARM DAP.
	enable := []byte{0x03, 0x00, 0x00, 0x00}
	if err := c.facade.ShiftDR(enable, nil, 32, tap.StateRunTestIdle); err != nil {
		return fmt.Errorf("zynqmp: shift JTAG_CTRL enable word: %w", err)
	}

	if err := c.facade.GoTestLogicReset(); err != nil {
		return fmt.Errorf("zynqmp: reset after enabling PL/ARM: %w", err)
	}
	if err := c.facade.ToggleClk(10); err != nil {
		return err
	}
	if err := c.facade.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	if err := c.facade.ToggleClk(100); err != nil {
		return err
	}

	if err := c.facade.DetectChain(5); err != nil {
		return fmt.Errorf("zynqmp: re-detect chain after bring-up: %w", err)
	}

	entries := c.facade.ChainEntries()
	if len(entries) != 2 {
		return &BringUpError{Reason: fmt.Sprintf("wrong chain length: %d devices, want 2", len(entries))}
	}
	if entries[1].IDCode != ARMDAPIDCode {
		return &BringUpError{Reason: fmt.Sprintf("second device is not the ARM DAP: 0x%08X", entries[1].IDCode)}
	}

	c.facade.InsertFirst(plIDCode, 6)
	if err := c.facade.DeviceSelect(1); err != nil {
		return fmt.Errorf("zynqmp: select PL TAP after bring-up: %w", err)
	}
	return nil
}
