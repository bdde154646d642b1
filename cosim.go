// cosim.go - the cosimulation bridge: lock-steps this emulator against a
// textual retirement-event stream from an external RTL model (spec.md
// §4.8/C8).
//
// Grounded on the teacher's debug_monitor.go line-oriented command reader
// (bufio.Scanner over a simple space-separated text protocol) - the same
// shape, pointed at an event stream instead of operator commands.

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RetireKind discriminates the four event kinds spec.md §4.8 names.
type RetireKind int

const (
	RetireRegWrite RetireKind = iota
	RetireVecWrite
	RetireMemWrite
	RetireHalt
)

// RetireEvent is one observable effect of retiring an instruction, as
// produced by Thread.Step and consumed by the cosim comparator.
type RetireEvent struct {
	Kind   RetireKind
	Thread int
	Reg    int
	Value  uint32
	Lanes  [numLanes]uint32
	Mask   uint32
	Addr   uint32
	ByteMask uint16
	Data   []byte
}

// CosimBridge reads expected events from src (the RTL model's stdout,
// typically piped to this emulator's stdin per spec.md §4.8) and steps the
// thread each event names directly (not through sched) until the event is
// matched or diverges.
type CosimBridge struct {
	proc  *Processor
	sched *Scheduler
	src   *bufio.Scanner
	out   io.Writer
}

func NewCosimBridge(proc *Processor, sched *Scheduler, src io.Reader, out io.Writer) *CosimBridge {
	return &CosimBridge{proc: proc, sched: sched, src: bufio.NewScanner(src), out: out}
}

// Run consumes the event stream to completion or until a mismatch is
// found, returning an error describing the first divergence.
func (c *CosimBridge) Run() error {
	for c.src.Scan() {
		line := strings.TrimSpace(c.src.Text())
		if line == "" {
			continue
		}
		want, err := parseCosimEvent(line)
		if err != nil {
			return err
		}
		if err := c.expect(want); err != nil {
			return err
		}
	}
	return c.src.Err()
}

// expect steps want.Thread until it retires an event and compares it
// against want, stepping at most a bounded number of instructions to avoid
// spinning forever on a guest that never produces the expected effect.
func (c *CosimBridge) expect(want RetireEvent) error {
	const maxSteps = 1_000_000
	th := c.proc.Thread(want.Thread)
	if th == nil {
		return fmt.Errorf("cosim: event references unknown thread %d", want.Thread)
	}

	for i := 0; i < maxSteps; i++ {
		if th.halted {
			if want.Kind == RetireHalt {
				return nil
			}
			return fmt.Errorf("cosim: thread %d halted before producing expected %s", want.Thread, describeEvent(want))
		}
		th.Step()
		for _, got := range th.retireLog {
			if eventsMatch(want, got) {
				return nil
			}
		}
		if len(th.retireLog) > 0 && !anyMatchable(want, th.retireLog) {
			return fmt.Errorf("cosim: thread %d expected %s, got %s", want.Thread, describeEvent(want), describeEvent(th.retireLog[0]))
		}
	}
	return fmt.Errorf("cosim: thread %d never produced expected %s within %d steps", want.Thread, describeEvent(want), maxSteps)
}

func anyMatchable(want RetireEvent, got []RetireEvent) bool {
	for _, g := range got {
		if g.Kind == want.Kind {
			return true
		}
	}
	return false
}

func eventsMatch(want, got RetireEvent) bool {
	if want.Kind != got.Kind || want.Thread != got.Thread {
		return false
	}
	switch want.Kind {
	case RetireRegWrite:
		return want.Reg == got.Reg && want.Value == got.Value
	case RetireVecWrite:
		if want.Reg != got.Reg {
			return false
		}
		for i := 0; i < numLanes; i++ {
			if want.Mask&(1<<uint(i)) == 0 {
				continue
			}
			if want.Lanes[i] != got.Lanes[i] {
				return false
			}
		}
		return true
	case RetireMemWrite:
		if want.Addr != got.Addr {
			return false
		}
		return compareMasked(want.ByteMask, want.Data, got.Data)
	case RetireHalt:
		return true
	}
	return false
}

// compareMasked compares only the bytes selected by mask, per spec.md
// §4.8: "Memory writes compare using the byte-mask so unwritten bytes are
// ignored."
func compareMasked(mask uint16, want, got []byte) bool {
	n := len(want)
	if len(got) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

func describeEvent(e RetireEvent) string {
	switch e.Kind {
	case RetireRegWrite:
		return fmt.Sprintf("R t%d r%d=0x%08x", e.Thread, e.Reg, e.Value)
	case RetireVecWrite:
		return fmt.Sprintf("V t%d r%d mask=0x%04x", e.Thread, e.Reg, e.Mask)
	case RetireMemWrite:
		return fmt.Sprintf("M t%d addr=0x%08x mask=0x%04x", e.Thread, e.Addr, e.ByteMask)
	case RetireHalt:
		return fmt.Sprintf("H t%d", e.Thread)
	default:
		return "?"
	}
}

// parseCosimEvent decodes one line of the wire format documented in
// spec.md §4.8:
//   R <thread> <reg> <value>
//   V <thread> <reg> <mask> <16 hex words>
//   M <thread> <addr> <mask> <data...>
//   H <thread>
func parseCosimEvent(line string) (RetireEvent, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return RetireEvent{}, fmt.Errorf("cosim: empty event")
	}
	thread, err := parseIntField(fields, 1, "thread")
	switch fields[0] {
	case "R":
		if err != nil || len(fields) < 4 {
			return RetireEvent{}, fmt.Errorf("cosim: malformed R event %q", line)
		}
		reg, _ := strconv.Atoi(fields[2])
		val, verr := strconv.ParseUint(fields[3], 0, 32)
		if verr != nil {
			return RetireEvent{}, fmt.Errorf("cosim: bad value in %q: %w", line, verr)
		}
		return RetireEvent{Kind: RetireRegWrite, Thread: thread, Reg: reg, Value: uint32(val)}, nil

	case "V":
		if err != nil || len(fields) < 4+numLanes {
			return RetireEvent{}, fmt.Errorf("cosim: malformed V event %q", line)
		}
		reg, _ := strconv.Atoi(fields[2])
		mask, _ := strconv.ParseUint(fields[3], 0, 32)
		ev := RetireEvent{Kind: RetireVecWrite, Thread: thread, Reg: reg, Mask: uint32(mask)}
		for i := 0; i < numLanes; i++ {
			v, verr := strconv.ParseUint(fields[4+i], 0, 32)
			if verr != nil {
				return RetireEvent{}, fmt.Errorf("cosim: bad lane value in %q: %w", line, verr)
			}
			ev.Lanes[i] = uint32(v)
		}
		return ev, nil

	case "M":
		if err != nil || len(fields) < 4 {
			return RetireEvent{}, fmt.Errorf("cosim: malformed M event %q", line)
		}
		addr, aerr := strconv.ParseUint(fields[2], 0, 32)
		mask, merr := strconv.ParseUint(fields[3], 0, 16)
		if aerr != nil || merr != nil {
			return RetireEvent{}, fmt.Errorf("cosim: bad addr/mask in %q", line)
		}
		data := make([]byte, 0, len(fields)-4)
		for _, f := range fields[4:] {
			b, berr := strconv.ParseUint(f, 0, 8)
			if berr != nil {
				return RetireEvent{}, fmt.Errorf("cosim: bad data byte in %q: %w", line, berr)
			}
			data = append(data, byte(b))
		}
		return RetireEvent{Kind: RetireMemWrite, Thread: thread, Addr: uint32(addr), ByteMask: uint16(mask), Data: data}, nil

	case "H":
		if err != nil {
			return RetireEvent{}, fmt.Errorf("cosim: malformed H event %q", line)
		}
		return RetireEvent{Kind: RetireHalt, Thread: thread}, nil

	default:
		return RetireEvent{}, fmt.Errorf("cosim: unknown event kind %q", fields[0])
	}
}

func parseIntField(fields []string, idx int, name string) (int, error) {
	if idx >= len(fields) {
		return 0, fmt.Errorf("cosim: missing %s field", name)
	}
	v, err := strconv.Atoi(fields[idx])
	if err != nil {
		return 0, fmt.Errorf("cosim: bad %s field %q: %w", name, fields[idx], err)
	}
	return v, nil
}
