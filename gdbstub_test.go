package main

import (
	"bufio"
	"strings"
	"testing"
)

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	raw := encodePacket("OK")
	r := bufio.NewReader(strings.NewReader(string(raw)))
	body, ok := readPacket(r)
	if !ok {
		t.Fatalf("readPacket failed on a packet this module encoded")
	}
	if body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestReadPacketChecksum(t *testing.T) {
	// "OK" sums to 'O'(0x4f) + 'K'(0x4b) = 0x9a.
	r := bufio.NewReader(strings.NewReader("$OK#9a"))
	body, ok := readPacket(r)
	if !ok || body != "OK" {
		t.Fatalf("readPacket = (%q, %v), want (\"OK\", true)", body, ok)
	}
}

func TestReadPacketIgnoresLeadingNoise(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("+$g#67"))
	body, ok := readPacket(r)
	if !ok || body != "g" {
		t.Fatalf("readPacket = (%q, %v), want (\"g\", true)", body, ok)
	}
}

func TestParseAddrLen(t *testing.T) {
	addr, length, ok := parseAddrLen("1000,4")
	if !ok || addr != 0x1000 || length != 4 {
		t.Errorf("parseAddrLen = (0x%x, %d, %v), want (0x1000, 4, true)", addr, length, ok)
	}
	if _, _, ok := parseAddrLen("bad"); ok {
		t.Errorf("expected parseAddrLen to reject a malformed argument")
	}
}

func TestHexLE32RoundTrip(t *testing.T) {
	var b strings.Builder
	writeHexLE32(&b, 0x12345678)
	if got := readHexLE32(b.String()); got != 0x12345678 {
		t.Errorf("readHexLE32(writeHexLE32(x)) = 0x%x, want 0x12345678", got)
	}
}

func TestMonitorHexRoundTrip(t *testing.T) {
	encoded := encodeMonitorReply("regs\n")
	if decodeMonitorHex(encoded) != "regs\n" {
		t.Errorf("monitor hex round trip failed: got %q", decodeMonitorHex(encoded))
	}
}

func TestInsertAndRemoveBreakpointRestoresWord(t *testing.T) {
	proc, th := newTestRig(t)
	orig := Instruction{Format: FormatA, Op: OpAdd, Dest: 1, Src1: 0, Src2: 0}
	loadWord(t, proc, th, 0x40, orig)
	origWord := Encode(orig)

	stub := NewGDBStub(proc, NewScheduler(proc, false, 1), "")
	defer stub.Close()

	if reply := stub.insertBreakpoint("0,40,4"); reply != "OK" {
		t.Fatalf("insertBreakpoint reply = %q, want OK", reply)
	}
	w, _ := proc.mem.ReadWord(0x40)
	if w == origWord {
		t.Fatalf("expected breakpoint to patch in a different word")
	}
	brk := Encode(Instruction{Format: FormatB, Op: OpBreak})
	if w != brk {
		t.Errorf("patched word = 0x%x, want OpBreak encoding 0x%x", w, brk)
	}

	if reply := stub.removeBreakpoint("0,40"); reply != "OK" {
		t.Fatalf("removeBreakpoint reply = %q, want OK", reply)
	}
	w, _ = proc.mem.ReadWord(0x40)
	if w != origWord {
		t.Errorf("word after removal = 0x%x, want restored 0x%x", w, origWord)
	}
}
