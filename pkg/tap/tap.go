// Package tap implements the IEEE 1149.1 TAP controller state machine (C2):
// a pure state-transition table plus a buffered TMS engine that drives a
// probe.Capability backend.
package tap

import (
	"fmt"

	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR
)

var stateNames = map[State]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Sequence captures the TMS drive pattern and the sequence of states that
// result from applying that pattern to the TAP controller.
type Sequence struct {
	TMS    []bool
	States []State
}

type stateTransitions struct {
	onZero State
	onOne  State
}

var transitions = map[State]stateTransitions{
	StateTestLogicReset: {onZero: StateRunTestIdle, onOne: StateTestLogicReset},
	StateRunTestIdle:    {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectDRScan:   {onZero: StateCaptureDR, onOne: StateSelectIRScan},
	StateCaptureDR:      {onZero: StateShiftDR, onOne: StateExit1DR},
	StateShiftDR:        {onZero: StateShiftDR, onOne: StateExit1DR},
	StateExit1DR:        {onZero: StatePauseDR, onOne: StateUpdateDR},
	StatePauseDR:        {onZero: StatePauseDR, onOne: StateExit2DR},
	StateExit2DR:        {onZero: StateShiftDR, onOne: StateUpdateDR},
	StateUpdateDR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectIRScan:   {onZero: StateCaptureIR, onOne: StateTestLogicReset},
	StateCaptureIR:      {onZero: StateShiftIR, onOne: StateExit1IR},
	StateShiftIR:        {onZero: StateShiftIR, onOne: StateExit1IR},
	StateExit1IR:        {onZero: StatePauseIR, onOne: StateUpdateIR},
	StatePauseIR:        {onZero: StatePauseIR, onOne: StateExit2IR},
	StateExit2IR:        {onZero: StateShiftIR, onOne: StateUpdateIR},
	StateUpdateIR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
}

// NextState returns the next TAP state after clocking TCK with the provided
// TMS value. It panics if an invalid state is supplied, which should never
// happen when interacting through the exported API.
func NextState(current State, tms bool) State {
	row, ok := transitions[current]
	if !ok {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return row.onOne
	}
	return row.onZero
}

// computePath uses BFS across the TAP state diagram to find the shortest set
// of transitions between two states.
func computePath(from, to State) (Sequence, error) {
	if _, ok := transitions[from]; !ok {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if _, ok := transitions[to]; !ok {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type node struct {
		state  State
		tms    []bool
		states []State
	}

	queue := []node{{state: from, states: []State{from}}}
	visited := map[State]struct{}{from: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		candidates := []struct {
			bit  bool
			next State
		}{
			{bit: false, next: NextState(current.state, false)},
			{bit: true, next: NextState(current.state, true)},
		}

		for _, candidate := range candidates {
			if _, seen := visited[candidate.next]; seen {
				continue
			}

			newTMS := append(append([]bool{}, current.tms...), candidate.bit)
			newStates := append(append([]State{}, current.states...), candidate.next)

			if candidate.next == to {
				return Sequence{TMS: newTMS, States: newStates}, nil
			}

			visited[candidate.next] = struct{}{}
			queue = append(queue, node{state: candidate.next, tms: newTMS, states: newStates})
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}

// DefaultBufferBytes is the default capacity of the TMS staging buffer, 2048
// bytes (matching the XVC wire protocol's maximum shift size).
const DefaultBufferBytes = 2048

// Domain distinguishes data-register from instruction-register shifts, since
// ReadWrite needs to know which Exit1 state a final bit lands in.
type Domain uint8

const (
	DomainDR Domain = iota
	DomainIR
)

// Engine is the buffered TMS emitter described in SPEC_FULL.md/spec.md §4.1.
// It owns the committed TAP state S, a lookahead state computed as bits are
// staged, and a bit-packed TMS buffer that is flushed to the probe either
// automatically (on overflow) or explicitly.
type Engine struct {
	p probe.Capability

	state      State
	lookahead  State
	buf        []byte
	numBits    int
	capBits    int
}

// NewEngine constructs an Engine with the default buffer capacity, bound to
// p and initialized to Test-Logic-Reset.
func NewEngine(p probe.Capability) *Engine {
	return NewEngineSize(p, DefaultBufferBytes)
}

// NewEngineSize is like NewEngine but with an explicit buffer capacity in
// bytes.
func NewEngineSize(p probe.Capability, bufferBytes int) *Engine {
	if bufferBytes <= 0 {
		bufferBytes = DefaultBufferBytes
	}
	return &Engine{
		p:         p,
		state:     StateTestLogicReset,
		lookahead: StateTestLogicReset,
		buf:       make([]byte, bufferBytes),
		capBits:   bufferBytes * 8,
	}
}

// State returns the last committed TAP state (as of the most recent flush).
func (e *Engine) State() State { return e.state }

// setBit/getBit: LSB-first bit addressing within the byte-packed buffer.
func setBit(buf []byte, k int, v bool) {
	if v {
		buf[k>>3] |= 1 << uint(k&7)
	} else {
		buf[k>>3] &^= 1 << uint(k&7)
	}
}

func getBit(buf []byte, k int) bool {
	return buf[k>>3]&(1<<uint(k&7)) != 0
}

// SetTMS appends a single TMS bit to the staging buffer, auto-flushing
// (without finalizing) first if the buffer is full. The lookahead state is
// advanced as each bit is appended, so SetState plans from the staged
// position; State and CalculateTMS keep using the committed state until the
// next flush.
func (e *Engine) SetTMS(bit bool) error {
	if e.numBits >= e.capBits {
		if err := e.FlushTMS(false); err != nil {
			return err
		}
	}
	if e.numBits == 0 {
		e.lookahead = e.state
	}
	setBit(e.buf, e.numBits, bit)
	e.numBits++
	e.lookahead = NextState(e.lookahead, bit)
	return nil
}

// FlushTMS commits the lookahead state as the new current state, then
// forwards any staged bits to the probe. If no bits are staged and finalize
// is true, the probe's Flush is still invoked so a zero-length flush can
// still surface a probe-level error.
func (e *Engine) FlushTMS(finalize bool) error {
	e.state = e.lookahead
	if e.numBits > 0 {
		n := e.numBits
		buf := append([]byte(nil), e.buf[:(n+7)/8]...)
		e.numBits = 0
		if err := e.p.WriteTMS(buf, n, finalize); err != nil {
			return &probe.ProbeError{Op: "flushTMS", Err: err}
		}
		return nil
	}
	if finalize {
		if err := e.p.Flush(); err != nil {
			return &probe.ProbeError{Op: "flushTMS", Err: err}
		}
	}
	return nil
}

// CleanTMS discards any staged TMS bits without touching the committed or
// lookahead state.
func (e *Engine) CleanTMS() {
	e.numBits = 0
}

// CalculateTMS simulates applying bits to the current committed state
// without staging them or performing any I/O, returning the state that would
// result.
func (e *Engine) CalculateTMS(bits []bool) State {
	s := e.state
	for _, b := range bits {
		s = NextState(s, b)
	}
	return s
}

// CalculateTMSBuffer is like CalculateTMS but reads LSB-first bits packed
// into buf, as used by the XVC shift command to resync the committed state.
func (e *Engine) CalculateTMSBuffer(buf []byte, nbits int) State {
	s := e.state
	for i := 0; i < nbits; i++ {
		s = NextState(s, getBit(buf, i))
	}
	return s
}

// Resync forces the committed (and lookahead) state to s, discarding any
// staged bits. Used after a raw WriteTMSTDI bypass whose TMS pattern the
// caller has already simulated via CalculateTMSBuffer.
func (e *Engine) Resync(s State) {
	e.numBits = 0
	e.state = s
	e.lookahead = s
}

// GoTestLogicReset drives six consecutive TMS=1 clocks (one more than the
// IEEE-minimum five, for robustness against a controller that starts in an
// unknown state with an extra pipeline stage) and forces the committed state
// to Test-Logic-Reset.
func (e *Engine) GoTestLogicReset() error {
	for i := 0; i < 6; i++ {
		if err := e.SetTMS(true); err != nil {
			return err
		}
	}
	if err := e.FlushTMS(true); err != nil {
		return err
	}
	e.state = StateTestLogicReset
	e.lookahead = StateTestLogicReset
	return nil
}

// SetState drives the shortest TMS sequence from the current state to
// target, computed by BFS over the transition table, then forces a final
// (non-finalizing) flush that commits the new state and hands the staged
// bits to the probe without requesting a probe-level flush.
func (e *Engine) SetState(target State) error {
	seq, err := computePath(e.lookaheadOrState(), target)
	if err != nil {
		return err
	}
	for _, bit := range seq.TMS {
		if err := e.SetTMS(bit); err != nil {
			return err
		}
	}
	return e.FlushTMS(false)
}

func (e *Engine) lookaheadOrState() State {
	if e.numBits > 0 {
		return e.lookahead
	}
	return e.state
}

// ToggleClk issues n TCK cycles with TDI low and TMS held at 1 in
// Test-Logic-Reset (which self-loops on TMS=1) and at 0 everywhere else
// (which holds Run-Test-Idle, Shift-DR/IR and Pause-DR/IR on their TMS=0
// self-loops). The committed state is not changed. Any staged TMS bits are
// flushed first.
func (e *Engine) ToggleClk(n int) error {
	if n <= 0 {
		return nil
	}
	if err := e.FlushTMS(false); err != nil {
		return err
	}
	hold := e.state == StateTestLogicReset
	if err := e.p.ToggleClk(hold, false, n); err != nil {
		return &probe.ProbeError{Op: "toggleClk", Err: err}
	}
	return nil
}

// ReadWrite is the shared primitive behind shiftDR/shiftIR: it force-flushes
// any pending TMS bits, delegates to the probe's WriteTDI, and — when last is
// true — updates the committed state to the domain's Exit1 state, matching
// what driving the final bit's TMS=1 would have produced.
func (e *Engine) ReadWrite(domain Domain, tdi, tdo []byte, nbits int, last bool) error {
	if err := e.FlushTMS(false); err != nil {
		return err
	}
	if err := e.p.WriteTDI(tdi, tdo, nbits, last); err != nil {
		return &probe.ProbeError{Op: "readWrite", Err: err}
	}
	if last {
		if domain == DomainDR {
			e.state = StateExit1DR
		} else {
			e.state = StateExit1IR
		}
		e.lookahead = e.state
	}
	return nil
}

// Probe returns the underlying Capability, for callers (e.g. the XVC server)
// that need the raw WriteTMSTDI bypass or Info/SetSpeed passthrough.
func (e *Engine) Probe() probe.Capability { return e.p }
