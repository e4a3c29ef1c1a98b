package chain

import (
	"testing"

	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
	"github.com/OpenTraceLab/xvcjtag/pkg/tap"
)

func onShiftIDCodes(idcodes []uint32) func(op probe.ShiftOp) ([]byte, error) {
	call := 0
	return func(op probe.ShiftOp) ([]byte, error) {
		tdo := make([]byte, (op.Bits+7)/8)
		if call < len(idcodes) {
			tdo[0] = byte(idcodes[call])
			tdo[1] = byte(idcodes[call] >> 8)
			tdo[2] = byte(idcodes[call] >> 16)
			tdo[3] = byte(idcodes[call] >> 24)
		}
		call++
		return tdo, nil
	}
}

func TestDetectChainSingleDevice(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	sim.OnShift = onShiftIDCodes([]uint32{0x0362F093})

	e := tap.NewEngine(sim)
	m := NewManager(e)

	if err := m.DetectChain(1); err != nil {
		t.Fatalf("DetectChain error: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	entries := m.Entries()
	if entries[0].IDCode != 0x0362F093 || entries[0].IRLen != 6 {
		t.Fatalf("entries[0] = %+v, want {0x0362F093 6}", entries[0])
	}
}

func TestDetectChainUnknownDevice(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	sim.OnShift = onShiftIDCodes([]uint32{0xDEADBEE1})

	e := tap.NewEngine(sim)
	m := NewManager(e)

	err := m.DetectChain(1)
	if err == nil {
		t.Fatal("DetectChain returned nil error, want UnknownDeviceError")
	}
	unk, ok := err.(*UnknownDeviceError)
	if !ok {
		t.Fatalf("error type = %T, want *UnknownDeviceError", err)
	}
	if unk.IDCode != 0xDEADBEE1 {
		t.Fatalf("unk.IDCode = 0x%X, want 0xDEADBEE1", unk.IDCode)
	}
}

func TestDetectChainUnknownDeviceRejectsZynqMPPlaceholder(t *testing.T) {
	// 0xDEADBEEF is the synthetic IDCODE pkg/zynqmp assigns the PL TAP via
	// InsertFirst after bring-up; it must never resolve through the device
	// tables, or detectChain would silently accept a chain that was never
	// actually scanned.
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	sim.OnShift = onShiftIDCodes([]uint32{0xDEADBEEF})

	e := tap.NewEngine(sim)
	m := NewManager(e)

	err := m.DetectChain(1)
	if err == nil {
		t.Fatal("DetectChain returned nil error, want UnknownDeviceError for 0xDEADBEEF")
	}
	unk, ok := err.(*UnknownDeviceError)
	if !ok {
		t.Fatalf("error type = %T, want *UnknownDeviceError", err)
	}
	if unk.IDCode != 0xDEADBEEF {
		t.Fatalf("unk.IDCode = 0x%X, want 0xDEADBEEF", unk.IDCode)
	}
}

func TestDetectChainTwoDeviceOrdering(t *testing.T) {
	// First word shifted out belongs to the device closest to TDO, which
	// must land at index 0.
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	sim.OnShift = onShiftIDCodes([]uint32{0xFFFFFE, 0x5BA00477})

	e := tap.NewEngine(sim)
	m := NewManager(e)

	if err := m.DetectChain(2); err != nil {
		t.Fatalf("DetectChain error: %v", err)
	}
	entries := m.Entries()
	if len(entries) != 2 {
		t.Fatalf("Len() = %d, want 2", len(entries))
	}
	if entries[0].IDCode != 0xFFFFFE || entries[1].IDCode != 0x5BA00477 {
		t.Fatalf("entries = %+v, want [{0xFFFFFE} {0x5BA00477}]", entries)
	}

	if err := m.DeviceSelect(1); err != nil {
		t.Fatalf("DeviceSelect(1) error: %v", err)
	}
	if m.ActiveIndex() != 1 {
		t.Fatalf("ActiveIndex() = %d, want 1", m.ActiveIndex())
	}
	if got := m.BitsBeforeDR(); got != 0 {
		t.Fatalf("BitsBeforeDR() = %d, want 0", got)
	}
	if got := m.BitsAfterDR(); got != 1 {
		t.Fatalf("BitsAfterDR() = %d, want 1", got)
	}
	if got := m.BitsBeforeIR(); got != 0 {
		t.Fatalf("BitsBeforeIR() = %d, want 0", got)
	}
	if got := m.BitsAfterIR(); got != 12 {
		t.Fatalf("BitsAfterIR() = %d, want 12", got)
	}
}

func TestDeviceSelectOutOfRange(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := tap.NewEngine(sim)
	m := NewManager(e)
	m.InsertFirst(0x0362F093, 6)

	err := m.DeviceSelect(1)
	if err == nil {
		t.Fatal("DeviceSelect(1) returned nil error, want IndexOutOfRangeError")
	}
	if _, ok := err.(*IndexOutOfRangeError); !ok {
		t.Fatalf("error type = %T, want *IndexOutOfRangeError", err)
	}
}
