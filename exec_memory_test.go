package main

import "testing"

// TestGatherFaultMidSequenceResumesAtSubcycle exercises the invariant from
// spec.md §8: a gather-load that faults on lane k leaves cr[subcycle] = k,
// and a retried gather after the miss is serviced completes lanes k..15
// using their original addresses without redoing lanes 0..k-1.
func TestGatherFaultMidSequenceResumesAtSubcycle(t *testing.T) {
	proc, err := NewProcessor(ProcessorConfig{
		NumCores:       1,
		ThreadsPerCore: 1,
		MemorySize:     1 << 20,
	}, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	th := proc.Thread(0)
	th.halted = false
	th.cr[CrFlags] = FlagMMUEnable | FlagSupervisor
	th.mmu.InsertITlb(0, 0, 0, true, true, true, false) // identity-map the code page itself

	// Each lane addresses its own 4KiB page so a per-page DTLB miss hits
	// exactly one lane. Lanes 0-1 are mapped; lanes 2-15 are left
	// unmapped so the gather faults first on lane 2.
	var addrs [numLanes]uint32
	for i := 0; i < numLanes; i++ {
		addrs[i] = 0x10000 + uint32(i)*0x1000
	}
	th.mmu.InsertDTlb(0, addrs[0], 0x30000, true, true, true, true, false)
	th.mmu.InsertDTlb(0, addrs[1], 0x31000, true, true, true, true, false)
	proc.mem.WriteWord(0x30000, 0xAAAA0000)
	proc.mem.WriteWord(0x31000, 0xAAAA0001)

	th.vregs[2] = addrs
	inst := Instruction{Format: FormatC, Op: MemLoadGather, Dest: 1, Src1: 2}

	loadWord(t, proc, th, 0, inst)
	th.Step()

	if th.cr[CrSubcycle] != 2 {
		t.Fatalf("subcycle = %d, want 2 (first unmapped lane)", th.cr[CrSubcycle])
	}
	if th.vregs[1][0] != 0xAAAA0000 || th.vregs[1][1] != 0xAAAA0001 {
		t.Fatalf("completed lanes not retained across fault: %v", th.vregs[1])
	}

	// Simulate the fault handler servicing the miss and retrying: insert
	// mappings for the remaining lanes, then re-issue the same instruction.
	for i := 2; i < numLanes; i++ {
		phys := 0x30000 + uint32(i)*0x1000
		th.mmu.InsertDTlb(0, addrs[i], phys, true, true, true, true, false)
		proc.mem.WriteWord(phys, 0xAAAA0000+uint32(i))
	}
	th.eret() // the handler returns, restoring the MMU-enabled flags

	loadWord(t, proc, th, 0, inst)
	th.Step()

	if th.cr[CrSubcycle] != 0 {
		t.Fatalf("subcycle after completed retry = %d, want 0", th.cr[CrSubcycle])
	}
	for i := 0; i < numLanes; i++ {
		want := 0xAAAA0000 + uint32(i)
		if th.vregs[1][i] != want {
			t.Errorf("lane %d = 0x%x, want 0x%x", i, th.vregs[1][i], want)
		}
	}
}

func TestBlockLoadStoreRoundTrip(t *testing.T) {
	proc, th := newTestRig(t)
	th.regs[1] = 0x2000

	var in [numLanes]uint32
	for i := range in {
		in[i] = uint32(0x1000 + i)
	}
	th.vregs[3] = in

	loadWord(t, proc, th, 0, Instruction{Format: FormatC, Op: MemStoreBlock, Dest: 3, Src1: 1})
	th.Step()

	loadWord(t, proc, th, 4, Instruction{Format: FormatC, Op: MemLoadBlock, Dest: 4, Src1: 1})
	th.Step()

	if th.vregs[4] != in {
		t.Errorf("block load/store round trip mismatch: got %v, want %v", th.vregs[4], in)
	}
}

// TestDTlbInsertInstructionInstallsTranslation exercises the guest-reachable
// dtlbinsert opcode end to end: a supervisor-mode thread packs a physical
// page and permission flags into a register and the resulting DTLB entry
// satisfies a subsequent load, same as the OS-serviced miss path in spec.md
// §4.5/§8's TLB property.
func TestDTlbInsertInstructionInstallsTranslation(t *testing.T) {
	proc, th := newTestRig(t)
	th.cr[CrFlags] = FlagMMUEnable | FlagSupervisor
	th.cr[CrCurrentASID] = 3
	th.mmu.InsertITlb(3, 0, 0, true, true, true, false) // identity-map the code page itself
	proc.mem.WriteWord(0x5000, 0xCAFEF00D)

	th.regs[1] = 0x4000                                // virtual page
	th.regs[2] = 0x5000 | tlbFlagPresent | tlbFlagPerm // physical page + present|writable
	loadWord(t, proc, th, 0, Instruction{Format: FormatD, Op: CtlDTlbInsert, AddrReg: 1, Src1: 2})
	th.Step()

	r := th.mmu.TranslateData(3, 0x4000, true, false)
	if !r.ok || r.physAddr != 0x5000 {
		t.Fatalf("TranslateData after dtlbinsert = %+v, want hit at 0x5000", r)
	}

	th.regs[3] = 0x4000
	loadWord(t, proc, th, 4, Instruction{Format: FormatC, Op: MemLoad, Width: WidthWord, Dest: 5, Src1: 3})
	th.Step()
	if th.regs[5] != 0xCAFEF00D {
		t.Errorf("load through dtlbinsert-installed translation = 0x%x, want 0xCAFEF00D", th.regs[5])
	}
}

// TestDTlbInsertRequiresSupervisor mirrors the privilege check every other
// Format-D control opcode enforces.
func TestDTlbInsertRequiresSupervisor(t *testing.T) {
	proc, th := newTestRig(t)
	th.cr[CrTrapHandler] = 0x9000

	loadWord(t, proc, th, 0, Instruction{Format: FormatD, Op: CtlDTlbInsert, AddrReg: 1, Src1: 2})
	th.Step()

	if th.pc != 0x9000 {
		t.Errorf("expected PRIVILEGED_OP trap to handler 0x9000, pc = 0x%x", th.pc)
	}
}

func TestBlockLoadUnalignedFaults(t *testing.T) {
	proc, th := newTestRig(t)
	th.regs[1] = 0x2004 // not 64-byte aligned
	th.cr[CrTrapHandler] = 0x9000

	loadWord(t, proc, th, 0, Instruction{Format: FormatC, Op: MemLoadBlock, Dest: 4, Src1: 1})
	th.Step()

	if th.pc != 0x9000 {
		t.Errorf("expected trap to handler 0x9000 on unaligned block load, pc = 0x%x", th.pc)
	}
}
