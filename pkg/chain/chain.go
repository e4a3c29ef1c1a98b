// Package chain implements JTAG chain enumeration and device selection (C3):
// detecting the IDCODEs present on a scan chain, resolving each against a
// static device table, and computing the bypass padding needed to talk to
// one selected device among several.
package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/OpenTraceLab/xvcjtag/pkg/idcode"
	"github.com/OpenTraceLab/xvcjtag/pkg/tap"
)

// Entry is one resolved device on the chain: its IDCODE (as matched — masked
// or full, see Manager.resolve) and instruction register width.
type Entry struct {
	IDCode uint32
	IRLen  uint16
}

// UnknownDeviceError is returned by DetectChain when a shifted-out IDCODE
// matches neither the FPGA nor the misc-device table.
type UnknownDeviceError struct {
	IDCode           uint32
	ManufacturerCode uint16
	ManufacturerName string
	PartNumber       uint16
	Version          uint8
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("chain: unknown device idcode=0x%08X mfg=%s(0x%03X) part=0x%04X ver=%d",
		e.IDCode, e.ManufacturerName, e.ManufacturerCode, e.PartNumber, e.Version)
}

// IndexOutOfRangeError is returned by DeviceSelect when the requested index
// does not name a device currently on the chain.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("chain: device index %d out of range (chain has %d devices)", e.Index, e.Len)
}

// Manager owns the ordered chain descriptor and the active-device index; it
// drives the TAP engine directly to perform the raw IDCODE scan used by
// DetectChain.
type Manager struct {
	tap *tap.Engine

	entries     []Entry
	activeIndex int

	fpgaList map[uint32]Descriptor
	miscList map[uint32]Descriptor
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithFPGAList overrides the default FPGA IDCODE table.
func WithFPGAList(list map[uint32]Descriptor) Option {
	return func(m *Manager) { m.fpgaList = list }
}

// WithMiscDevList overrides the default non-FPGA IDCODE table.
func WithMiscDevList(list map[uint32]Descriptor) Option {
	return func(m *Manager) { m.miscList = list }
}

// NewManager constructs a chain Manager bound to tapEngine, seeded with the
// default device tables unless overridden by opts.
func NewManager(tapEngine *tap.Engine, opts ...Option) *Manager {
	m := &Manager{
		tap:      tapEngine,
		fpgaList: DefaultFPGAList(),
		miscList: DefaultMiscDevList(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len reports the number of devices currently on the chain.
func (m *Manager) Len() int { return len(m.entries) }

// Entries returns a copy of the chain descriptor, ordered with index 0
// closest to TDO.
func (m *Manager) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ActiveIndex reports the currently selected device's position.
func (m *Manager) ActiveIndex() int { return m.activeIndex }

// InsertFirst prepends a device to the chain descriptor (index 0, closest to
// TDO), used by clients (e.g. pkg/zynqmp) that synthesize a chain entry
// after reconfiguring a device in place.
func (m *Manager) InsertFirst(idc uint32, irlen uint16) {
	m.entries = append([]Entry{{IDCode: idc, IRLen: irlen}}, m.entries...)
}

// DeviceSelect marks the device at index i as the active target for
// subsequent shiftDR/shiftIR bypass-padding computations.
func (m *Manager) DeviceSelect(i int) error {
	if i < 0 || i >= len(m.entries) {
		return &IndexOutOfRangeError{Index: i, Len: len(m.entries)}
	}
	m.activeIndex = i
	return nil
}

// DetectChain resets the TAP, then reads up to maxDevices 32-bit IDCODE
// words while holding TDI at all-ones, asserting the SHIFT-DR exit only on
// the final read. Each non-trivial IDCODE (not all-zero, not all-one) is
// resolved against the device tables and appended to the chain descriptor in
// read order, giving index 0 to the device closest to TDO — the first word
// shifted out.
func (m *Manager) DetectChain(maxDevices int) error {
	if maxDevices <= 0 {
		return fmt.Errorf("chain: maxDevices must be positive, got %d", maxDevices)
	}
	m.entries = nil
	m.activeIndex = 0

	if err := m.tap.GoTestLogicReset(); err != nil {
		return err
	}
	if err := m.tap.SetState(tap.StateShiftDR); err != nil {
		return err
	}

	tx := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	for i := 0; i < maxDevices; i++ {
		rx := make([]byte, 4)
		last := i == maxDevices-1
		if err := m.tap.ReadWrite(tap.DomainDR, tx, rx, 32, last); err != nil {
			return err
		}

		raw := binary.LittleEndian.Uint32(rx)
		if raw == 0 || raw == 0xFFFFFFFF {
			continue
		}

		entry, err := m.resolve(raw)
		if err != nil {
			return err
		}
		m.entries = append(m.entries, entry)
	}

	if err := m.tap.GoTestLogicReset(); err != nil {
		return err
	}
	return m.tap.FlushTMS(true)
}

func (m *Manager) lookup(idc uint32) (Descriptor, bool) {
	if d, ok := m.fpgaList[idc]; ok {
		return d, true
	}
	if d, ok := m.miscList[idc]; ok {
		return d, true
	}
	return Descriptor{}, false
}

// resolve matches a raw shifted-out IDCODE against the device tables. It
// first tries the version-nibble-masked value, then falls back to the full
// unmasked value — except for the single reserved IDCODE 0x20000001, which
// collides across vendors under the mask and so skips straight to the
// unmasked lookup.
func (m *Manager) resolve(raw uint32) (Entry, error) {
	if raw != 0x20000001 {
		masked := raw & 0x0FFFFFFF
		if d, ok := m.lookup(masked); ok {
			return Entry{IDCode: masked, IRLen: d.IRLen}, nil
		}
	}
	if d, ok := m.lookup(raw); ok {
		return Entry{IDCode: raw, IRLen: d.IRLen}, nil
	}

	id := idcode.ParseIDCode(raw)
	mfg, _ := idcode.LookupManufacturer(id.ManufacturerCode)
	return Entry{}, &UnknownDeviceError{
		IDCode:           raw,
		ManufacturerCode: id.ManufacturerCode,
		ManufacturerName: mfg.Name,
		PartNumber:       id.PartNumber,
		Version:          id.Version,
	}
}

// BitsBeforeDR and BitsAfterDR give the bypass padding (one bit per
// intervening device) a DR shift through the active device needs: devices
// closer to TDI (higher index) are shifted before the active device's data,
// devices closer to TDO (lower index) after.
func (m *Manager) BitsBeforeDR() int { return len(m.entries) - m.activeIndex - 1 }
func (m *Manager) BitsAfterDR() int  { return m.activeIndex }

// BitsBeforeIR and BitsAfterIR give the equivalent padding for an IR shift,
// measured in bits rather than devices since each bypassed device
// contributes its own instruction register width, not a single bit.
func (m *Manager) BitsBeforeIR() int {
	sum := 0
	for i := m.activeIndex + 1; i < len(m.entries); i++ {
		sum += int(m.entries[i].IRLen)
	}
	return sum
}

func (m *Manager) BitsAfterIR() int {
	sum := 0
	for i := 0; i < m.activeIndex; i++ {
		sum += int(m.entries[i].IRLen)
	}
	return sum
}
