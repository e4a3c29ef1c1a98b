package tap

import (
	"testing"

	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
)

func TestEngineReadWriteSetsExit1(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)

	if err := e.SetState(StateShiftDR); err != nil {
		t.Fatalf("SetState(ShiftDR) error: %v", err)
	}

	tdi := []byte{0xA5}
	tdo := make([]byte, 1)
	if err := e.ReadWrite(DomainDR, tdi, tdo, 8, true); err != nil {
		t.Fatalf("ReadWrite error: %v", err)
	}
	if tdo[0] != 0xA5 {
		t.Fatalf("tdo = 0x%02X, want 0xA5 (loopback)", tdo[0])
	}
	if e.State() != StateExit1DR {
		t.Fatalf("State() = %s, want %s", e.State(), StateExit1DR)
	}
}

func TestEngineToggleClkHoldsCurrentState(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)

	if err := e.ToggleClk(10); err != nil {
		t.Fatalf("ToggleClk error: %v", err)
	}
	if e.State() != StateTestLogicReset {
		t.Fatalf("State() = %s, want unchanged %s", e.State(), StateTestLogicReset)
	}

	if err := e.SetState(StateRunTestIdle); err != nil {
		t.Fatalf("SetState error: %v", err)
	}
	if err := e.ToggleClk(100); err != nil {
		t.Fatalf("ToggleClk error: %v", err)
	}
	if e.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want unchanged %s", e.State(), StateRunTestIdle)
	}
}

func TestEngineBufferAutoFlushesOnOverflow(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngineSize(sim, 1) // 8-bit capacity

	for i := 0; i < 10; i++ {
		if err := e.SetTMS(i%2 == 0); err != nil {
			t.Fatalf("SetTMS error at bit %d: %v", i, err)
		}
	}
	if sim.Flushes() != 0 {
		t.Fatalf("unexpected explicit flush count %d before FlushTMS(true)", sim.Flushes())
	}
	if err := e.FlushTMS(true); err != nil {
		t.Fatalf("FlushTMS error: %v", err)
	}
}
