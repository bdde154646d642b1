package main

import (
	"strings"
	"testing"
)

func TestParseCosimEventRegWrite(t *testing.T) {
	ev, err := parseCosimEvent("R 0 3 0xCAFEBABE")
	if err != nil {
		t.Fatalf("parseCosimEvent: %v", err)
	}
	if ev.Kind != RetireRegWrite || ev.Thread != 0 || ev.Reg != 3 || ev.Value != 0xCAFEBABE {
		t.Errorf("parsed R event = %+v", ev)
	}
}

func TestParseCosimEventVecWrite(t *testing.T) {
	fields := make([]string, numLanes)
	for i := range fields {
		fields[i] = "1"
	}
	line := "V 1 5 0xFFFF " + strings.Join(fields, " ")
	ev, err := parseCosimEvent(line)
	if err != nil {
		t.Fatalf("parseCosimEvent: %v", err)
	}
	if ev.Kind != RetireVecWrite || ev.Reg != 5 || ev.Mask != 0xFFFF {
		t.Errorf("parsed V event = %+v", ev)
	}
	for i := 0; i < numLanes; i++ {
		if ev.Lanes[i] != 1 {
			t.Errorf("lane %d = %d, want 1", i, ev.Lanes[i])
		}
	}
}

func TestParseCosimEventMemWrite(t *testing.T) {
	ev, err := parseCosimEvent("M 2 0x1000 0xF 0xDE 0xAD 0xBE 0xEF")
	if err != nil {
		t.Fatalf("parseCosimEvent: %v", err)
	}
	if ev.Kind != RetireMemWrite || ev.Addr != 0x1000 || ev.ByteMask != 0xF {
		t.Errorf("parsed M event = %+v", ev)
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if len(ev.Data) != len(want) {
		t.Fatalf("data = %v, want %v", ev.Data, want)
	}
	for i := range want {
		if ev.Data[i] != want[i] {
			t.Errorf("data[%d] = 0x%x, want 0x%x", i, ev.Data[i], want[i])
		}
	}
}

func TestParseCosimEventHalt(t *testing.T) {
	ev, err := parseCosimEvent("H 4")
	if err != nil {
		t.Fatalf("parseCosimEvent: %v", err)
	}
	if ev.Kind != RetireHalt || ev.Thread != 4 {
		t.Errorf("parsed H event = %+v", ev)
	}
}

func TestParseCosimEventUnknownKind(t *testing.T) {
	if _, err := parseCosimEvent("Q 0"); err == nil {
		t.Errorf("expected error for unknown event kind")
	}
}

func TestCompareMaskedIgnoresUnmaskedBytes(t *testing.T) {
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	got := []byte{0xAA, 0x00, 0xCC, 0x00}
	if !compareMasked(0x5, want, got) { // bits 0 and 2 only
		t.Errorf("expected masked bytes to compare equal")
	}
	if compareMasked(0xF, want, got) {
		t.Errorf("expected full-mask compare to fail on differing bytes")
	}
}

func TestCosimBridgeRunMatchesRegWriteEvent(t *testing.T) {
	proc, th := newTestRig(t)
	loadWord(t, proc, th, 0, Instruction{Format: FormatA, Op: OpAdd, Dest: 1, Src1: 0, Src2: 0})
	sched := NewScheduler(proc, false, 1)

	bridge := NewCosimBridge(proc, sched, strings.NewReader("R 0 1 0\n"), nil)
	if err := bridge.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCosimBridgeRunDetectsMismatch(t *testing.T) {
	proc, th := newTestRig(t)
	loadWord(t, proc, th, 0, Instruction{Format: FormatA, Op: OpAdd, Dest: 1, Src1: 0, Src2: 0})
	sched := NewScheduler(proc, false, 1)

	// The instruction retires a scalar register write; expecting a vector
	// write instead must fail on the first step rather than spin through
	// the bridge's bounded retry loop.
	fields := make([]string, numLanes)
	for i := range fields {
		fields[i] = "1"
	}
	line := "V 0 5 0xFFFF " + strings.Join(fields, " ")
	bridge := NewCosimBridge(proc, sched, strings.NewReader(line+"\n"), nil)
	if err := bridge.Run(); err == nil {
		t.Errorf("expected mismatch error, got nil")
	}
}

func TestCosimBridgeRunUnknownThreadErrors(t *testing.T) {
	proc, th := newTestRig(t)
	loadWord(t, proc, th, 0, Instruction{Format: FormatA, Op: OpAdd, Dest: 1, Src1: 0, Src2: 0})
	sched := NewScheduler(proc, false, 1)

	bridge := NewCosimBridge(proc, sched, strings.NewReader("R 7 1 0\n"), nil)
	if err := bridge.Run(); err == nil {
		t.Errorf("expected error for event referencing a nonexistent thread")
	}
}
