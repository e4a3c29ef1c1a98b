package tap

import (
	"testing"

	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
)

func TestNextStateTable(t *testing.T) {
	type transition struct {
		start State
		tms   bool
		end   State
	}

	cases := []transition{
		{StateTestLogicReset, false, StateRunTestIdle},
		{StateTestLogicReset, true, StateTestLogicReset},
		{StateRunTestIdle, true, StateSelectDRScan},
		{StateSelectDRScan, false, StateCaptureDR},
		{StateShiftDR, true, StateExit1DR},
		{StateExit2DR, false, StateShiftDR},
		{StateSelectIRScan, true, StateTestLogicReset},
		{StateCaptureIR, false, StateShiftIR},
		{StatePauseIR, true, StateExit2IR},
		{StateExit2IR, true, StateUpdateIR},
	}

	for _, tc := range cases {
		got := NextState(tc.start, tc.tms)
		if got != tc.end {
			t.Fatalf("NextState(%s, %v) = %s, want %s", tc.start, tc.tms, got, tc.end)
		}
	}
}

func TestEngineGoTestLogicReset(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)

	if err := e.SetState(StateRunTestIdle); err != nil {
		t.Fatalf("SetState returned error: %v", err)
	}
	if e.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", e.State(), StateRunTestIdle)
	}

	if err := e.GoTestLogicReset(); err != nil {
		t.Fatalf("GoTestLogicReset returned error: %v", err)
	}
	if e.State() != StateTestLogicReset {
		t.Fatalf("State() after reset = %s, want %s", e.State(), StateTestLogicReset)
	}

	last := sim.LastShift()
	if last.Kind != "tms" || last.Bits != 6 {
		t.Fatalf("last shift = %+v, want 6-bit tms flush", last)
	}
	for i := 0; i < 6; i++ {
		if !getBit(last.TMS, i) {
			t.Fatalf("reset bit %d = 0, want 1", i)
		}
	}
}

func TestEngineSetStateShortestPath(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)

	if err := e.SetState(StateRunTestIdle); err != nil {
		t.Fatalf("SetState(RunTestIdle) error: %v", err)
	}

	path, err := computePath(e.State(), StateShiftIR)
	if err != nil {
		t.Fatalf("computePath error: %v", err)
	}
	wantBits := []bool{true, true, false, false}
	if len(path.TMS) != len(wantBits) {
		t.Fatalf("path length = %d, want %d", len(path.TMS), len(wantBits))
	}
	for i, want := range wantBits {
		if path.TMS[i] != want {
			t.Fatalf("path bit %d = %v, want %v", i, path.TMS[i], want)
		}
	}

	if err := e.SetState(StateShiftIR); err != nil {
		t.Fatalf("SetState(ShiftIR) error: %v", err)
	}
	if e.State() != StateShiftIR {
		t.Fatalf("State() = %s, want %s", e.State(), StateShiftIR)
	}
}

func TestEngineCalculateTMSMatchesFlush(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)
	if err := e.SetState(StateRunTestIdle); err != nil {
		t.Fatalf("SetState error: %v", err)
	}

	bits := []bool{true, true, false, false}
	predicted := e.CalculateTMS(bits)

	for _, b := range bits {
		if err := e.SetTMS(b); err != nil {
			t.Fatalf("SetTMS error: %v", err)
		}
	}
	if err := e.FlushTMS(true); err != nil {
		t.Fatalf("FlushTMS error: %v", err)
	}

	if e.State() != predicted {
		t.Fatalf("flushed state = %s, calculateTMS predicted %s", e.State(), predicted)
	}
}

func TestEngineCleanTMSDiscardsStagedBits(t *testing.T) {
	sim := probe.NewSimProbe(probe.Info{Name: "sim"})
	e := NewEngine(sim)

	if err := e.SetTMS(true); err != nil {
		t.Fatalf("SetTMS error: %v", err)
	}
	e.CleanTMS()
	if e.numBits != 0 {
		t.Fatalf("numBits = %d after CleanTMS, want 0", e.numBits)
	}
	if e.State() != StateTestLogicReset {
		t.Fatalf("State() = %s, want unchanged %s", e.State(), StateTestLogicReset)
	}
}
