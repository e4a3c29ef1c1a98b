// Package spiflash implements the generic SPI-over-JTAG flash orchestration
// (C6): bring the target into SPI bypass mode, drive a flash transport
// through reset/protect/program/verify, and restore the target to normal
// operation regardless of whether the flash operation succeeded. The SPI
// command opcode set itself (the "flash" side) is left external, behind
// FlashTransport, matching spec.md's stated scope.
package spiflash

import (
	"fmt"
	"log"
)

// FlashTransport is satisfied by a concrete SPI-over-JTAG flash driver (for
// example, one that shifts SPI opcodes through a device's BSCAN/JTAG-to-SPI
// bridge). Facade never talks SPI directly; it only sequences these calls.
type FlashTransport interface {
	// Reset issues whatever sequence returns the flash to a known state
	// (software reset opcode, or a bus-level reset) before any other command.
	Reset() error

	// ReadStatus reads the flash status register. Write calls it before
	// erasing and fails if it returns an error; the status value itself is
	// not examined.
	ReadStatus() (byte, error)

	// EnableProtection configures block protection covering at least len
	// bytes from the start of the device.
	EnableProtection(len uint32) error

	// DisableProtection clears whatever protection bits EnableProtection set.
	DisableProtection() error

	// EraseAndProgram erases and writes data at offset, returning the number
	// of bytes actually programmed.
	EraseAndProgram(offset uint32, data []byte) (int, error)

	// Verify reads back data at offset and reports whether it matches.
	Verify(offset uint32, data []byte) (bool, error)
}

// TargetAccess brackets a flash operation with whatever target-specific
// sequencing is needed to reach and leave SPI bypass mode: typically driving
// the device's JTAG TAP through a bridge instruction before, and pulsing a
// reconfiguration/reload sequence after.
type TargetAccess interface {
	// PrepareFlashAccess moves the target into SPI bypass mode.
	PrepareFlashAccess() error

	// PostFlashAccess restores normal operation (e.g. triggers bitstream
	// reload). Called even when the flash operation itself failed, so the
	// target is never left stuck in bypass mode.
	PostFlashAccess() error
}

// Facade sequences a FlashTransport through a TargetAccess bracket, matching
// original_source/src/spiInterface.cpp's protect_flash/unprotect_flash/write
// behavior: prepare, operate (logging any transport error and returning it
// rather than panicking), post, and report the conjunction of both phases.
type Facade struct {
	target    TargetAccess
	transport FlashTransport
	logger    *log.Logger
}

// New constructs a Facade. If logger is nil, log.Default() is used.
func New(target TargetAccess, transport FlashTransport, logger *log.Logger) *Facade {
	if logger == nil {
		logger = log.Default()
	}
	return &Facade{target: target, transport: transport, logger: logger}
}

// ProtectFlash enables block protection covering at least len bytes,
// bracketed by the target's SPI-bypass prepare/post sequence.
func (f *Facade) ProtectFlash(length uint32) error {
	f.logger.Print("spiflash: protect_flash")

	if err := f.target.PrepareFlashAccess(); err != nil {
		return fmt.Errorf("spiflash: prepare flash access: %w", err)
	}

	opErr := f.runProtected(func() error {
		if err := f.transport.Reset(); err != nil {
			return err
		}
		return f.transport.EnableProtection(length)
	})

	postErr := f.target.PostFlashAccess()
	return conjoin(opErr, postErr)
}

// UnprotectFlash clears block protection, bracketed the same way.
func (f *Facade) UnprotectFlash() error {
	f.logger.Print("spiflash: unprotect_flash")

	if err := f.target.PrepareFlashAccess(); err != nil {
		return fmt.Errorf("spiflash: prepare flash access: %w", err)
	}

	opErr := f.runProtected(func() error {
		if err := f.transport.Reset(); err != nil {
			return err
		}
		return f.transport.DisableProtection()
	})

	postErr := f.target.PostFlashAccess()
	return conjoin(opErr, postErr)
}

// Write erases and programs data at offset, optionally verifying and
// optionally clearing protection first. It always runs PostFlashAccess, even
// when the write or verify fails, so the target is never left in bypass
// mode.
func (f *Facade) Write(offset uint32, data []byte, verify, unprotect bool) error {
	f.logger.Print("spiflash: write generic")

	if err := f.target.PrepareFlashAccess(); err != nil {
		return fmt.Errorf("spiflash: prepare flash access: %w", err)
	}

	opErr := f.runProtected(func() error {
		if unprotect {
			if err := f.transport.DisableProtection(); err != nil {
				return err
			}
		}
		if _, err := f.transport.ReadStatus(); err != nil {
			return err
		}
		if _, err := f.transport.EraseAndProgram(offset, data); err != nil {
			return err
		}
		if verify {
			ok, err := f.transport.Verify(offset, data)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("spiflash: verify mismatch at offset 0x%X", offset)
			}
		}
		return nil
	})

	postErr := f.target.PostFlashAccess()
	return conjoin(opErr, postErr)
}

// runProtected logs and swallows a transport failure into a returned error
// rather than letting it propagate as a panic, mirroring spiInterface.cpp's
// try/catch around the SPIFlash operations.
func (f *Facade) runProtected(op func() error) error {
	if err := op(); err != nil {
		f.logger.Printf("spiflash: %v", err)
		return err
	}
	return nil
}

// conjoin reports the operation as failed if either phase failed, preferring
// the operation error as the primary cause.
func conjoin(opErr, postErr error) error {
	if opErr != nil {
		return opErr
	}
	if postErr != nil {
		return fmt.Errorf("spiflash: post flash access: %w", postErr)
	}
	return nil
}
