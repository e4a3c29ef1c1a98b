package probe

import "fmt"

// ShiftOp captures the parameters of the last primitive issued to a SimProbe,
// useful for asserting on TAP/chain behavior in tests without real hardware.
type ShiftOp struct {
	Kind string // "tms", "tdi", "tmstdi", "clk"
	TMS  []byte
	TDI  []byte
	Bits int
}

// SimProbe is an in-memory Capability used by tests and by `xvcd serve
// --adapter simulator` when no hardware is attached. By default it loops TDI
// straight back to TDO, which is sufficient to exercise the XVC session's byte
// accounting and the TAP engine's buffering without a real device.
type SimProbe struct {
	InfoData Info
	SpeedHz  int

	// OnShift, if set, overrides the default loopback behavior for WriteTDI
	// and WriteTMSTDI calls; it receives the driven bits and returns tdo.
	OnShift func(op ShiftOp) ([]byte, error)

	last     ShiftOp
	flushes  int
	clkCalls int
}

// NewSimProbe constructs a simulator reporting the given static Info.
func NewSimProbe(info Info) *SimProbe {
	return &SimProbe{InfoData: info}
}

func (s *SimProbe) Info() (Info, error) { return s.InfoData, nil }

func (s *SimProbe) WriteTMS(buf []byte, nbits int, flush bool) error {
	if _, err := ValidateShiftBuffers(nbits, buf); err != nil {
		return err
	}
	s.last = ShiftOp{Kind: "tms", TMS: clone(buf), Bits: nbits}
	if flush {
		s.flushes++
	}
	return nil
}

func (s *SimProbe) WriteTDI(tdi, tdo []byte, nbits int, last bool) error {
	if _, err := ValidateShiftBuffers(nbits, tdi); err != nil {
		return err
	}
	op := ShiftOp{Kind: "tdi", TDI: clone(tdi), Bits: nbits}
	s.last = op
	return s.resolveTDO(op, tdi, tdo, nbits)
}

func (s *SimProbe) WriteTMSTDI(tms, tdi, tdo []byte, nbits int) error {
	if _, err := ValidateShiftBuffers(nbits, tms, tdi); err != nil {
		return err
	}
	op := ShiftOp{Kind: "tmstdi", TMS: clone(tms), TDI: clone(tdi), Bits: nbits}
	s.last = op
	return s.resolveTDO(op, tdi, tdo, nbits)
}

func (s *SimProbe) resolveTDO(op ShiftOp, tdi, tdo []byte, nbits int) error {
	if tdo == nil {
		if s.OnShift != nil {
			_, err := s.OnShift(op)
			return err
		}
		return nil
	}
	if s.OnShift != nil {
		out, err := s.OnShift(op)
		if err != nil {
			return err
		}
		copy(tdo, out)
		return nil
	}
	required := (nbits + 7) / 8
	if len(tdo) < required {
		return fmt.Errorf("probe: tdo buffer too short, need %d bytes", required)
	}
	copy(tdo, tdi)
	return nil
}

func (s *SimProbe) ToggleClk(tms, tdi bool, n int) error {
	if n < 0 {
		return fmt.Errorf("probe: negative clock count %d", n)
	}
	s.clkCalls++
	s.last = ShiftOp{Kind: "clk", Bits: n}
	return nil
}

func (s *SimProbe) Flush() error {
	s.flushes++
	return nil
}

func (s *SimProbe) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("probe: invalid speed %dHz", hz)
	}
	s.SpeedHz = hz
	return nil
}

// LastShift returns a copy of the most recent primitive issued.
func (s *SimProbe) LastShift() ShiftOp { return s.last }

// Flushes reports how many times Flush was invoked, directly or via
// WriteTMS(flush=true).
func (s *SimProbe) Flushes() int { return s.flushes }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
