package main

import "testing"

// newTestRig builds a minimal single-core, single-thread processor with a
// small memory, matching the teacher test pack's "rig" helper convention
// (cpu_z80_alu_test.go's newCPUZ80TestRig).
func newTestRig(t *testing.T) (*Processor, *Thread) {
	t.Helper()
	proc, err := NewProcessor(ProcessorConfig{
		NumCores:       1,
		ThreadsPerCore: 1,
		MemorySize:     64 * 1024,
	}, nil)
	if err != nil {
		t.Fatalf("newTestRig: %v", err)
	}
	th := proc.Thread(0)
	th.halted = false
	return proc, th
}

// loadWord places a single encoded instruction at addr and
// points pc at it.
func loadWord(t *testing.T, proc *Processor, th *Thread, addr uint32, inst Instruction) {
	t.Helper()
	if !proc.mem.WriteWord(addr, Encode(inst)) {
		t.Fatalf("loadWord: write at 0x%x out of bounds", addr)
	}
	th.pc = addr
}
