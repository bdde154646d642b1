// exec_memory.go - Format C (load/store) and Format D (cache/TLB/atomic
// control) executors, per spec.md §4.4/§4.5.

package main

// syncLineSize is the granule synchronized load/store link-tracking and
// block vector transfers operate on (spec.md §4.4/§5: "any intervening store
// from any thread to the same 64-byte granule clears the link").
const syncLineSize = 64

func lineOf(addr uint32) uint32 { return addr &^ (syncLineSize - 1) }

func (t *Thread) translateAndCheck(vaddr uint32, write bool, faultPC uint32) (uint32, bool) {
	if !t.mmuEnabled() {
		return vaddr, true
	}
	r := t.mmu.TranslateData(t.cr[CrCurrentASID], vaddr, t.supervisor(), write)
	if !r.ok {
		if r.fault == FaultDTlbMiss {
			t.proc.timer.CountEvent(PerfEventDTlbMiss)
			t.enterTlbMissTrap(r.fault, vaddr, faultPC)
		} else if r.fault == FaultPageFault && write {
			t.enterTrap(r.fault, vaddr, faultPC)
			t.cr[CrTrapCause] |= PageFaultWriteSubcause << 8
		} else {
			t.enterTrap(r.fault, vaddr, faultPC)
		}
		return 0, false
	}
	return r.physAddr, true
}

func (t *Thread) execFormatC(inst Instruction, faultPC uint32) {
	switch inst.Op {
	case MemLoad:
		t.execScalarLoad(inst, faultPC, false)
	case MemStore:
		t.execScalarStore(inst, faultPC, false)
	case MemLoadSync:
		t.execScalarLoad(inst, faultPC, true)
	case MemStoreSync:
		t.execScalarStore(inst, faultPC, true)
	case MemLoadBlock:
		t.execBlockLoad(inst, faultPC)
	case MemStoreBlock:
		t.execBlockStore(inst, faultPC)
	case MemLoadGather:
		t.execGather(inst, faultPC)
	case MemStoreScatter:
		t.execScatter(inst, faultPC)
	}
}

func (t *Thread) effectiveAddr(inst Instruction) uint32 {
	return uint32(int32(t.getReg(inst.Src1)) + inst.Offset)
}

func (t *Thread) execScalarLoad(inst Instruction, faultPC uint32, sync bool) {
	vaddr := t.effectiveAddr(inst)
	if !aligned(vaddr, inst.Width) {
		t.enterTrap(FaultUnalignedAccess, vaddr, faultPC)
		return
	}
	phys, ok := t.translateAndCheck(vaddr, false, faultPC)
	if !ok {
		return
	}

	var raw uint32
	var got bool
	switch inst.Width {
	case WidthByte:
		var b byte
		b, got = t.proc.bus.ReadByte(phys)
		raw = uint32(b)
	case WidthHalf:
		var h uint16
		h, got = t.proc.bus.ReadHalf(phys)
		raw = uint32(h)
	default:
		raw, got = t.proc.bus.ReadWord(phys)
	}
	if !got {
		t.enterTrap(FaultPageFault, vaddr, faultPC)
		return
	}

	if inst.SignExt {
		switch inst.Width {
		case WidthByte:
			raw = uint32(int32(int8(raw)))
		case WidthHalf:
			raw = uint32(int32(int16(raw)))
		}
	}
	t.setReg(inst.Dest, raw)

	if sync {
		t.linkAddr = lineOf(vaddr)
		t.linkValid = true
		t.linkEpoch = t.proc.currentEpoch()
	}
}

func (t *Thread) execScalarStore(inst Instruction, faultPC uint32, sync bool) {
	vaddr := t.effectiveAddr(inst)
	if !aligned(vaddr, inst.Width) {
		t.enterTrap(FaultUnalignedAccess, vaddr, faultPC)
		return
	}

	if sync {
		ok := t.linkValid && t.linkAddr == lineOf(vaddr) && !t.proc.lineWrittenSince(t.id, t.linkAddr)
		t.linkValid = false
		if !ok {
			t.setReg(inst.Dest, 0)
			return
		}
	}

	phys, ok := t.translateAndCheck(vaddr, true, faultPC)
	if !ok {
		return
	}

	v := t.getReg(inst.Dest)
	var stored bool
	switch inst.Width {
	case WidthByte:
		stored = t.proc.bus.WriteByte(phys, byte(v))
	case WidthHalf:
		stored = t.proc.bus.WriteHalf(phys, uint16(v))
	default:
		stored = t.proc.bus.WriteWord(phys, v)
	}
	if !stored {
		t.enterTrap(FaultPageFault, vaddr, faultPC)
		return
	}
	t.proc.noteLineWrite(t.id, lineOf(vaddr))
	t.recordStoreEvent(phys, inst.Width, v)

	if sync {
		t.setReg(inst.Dest, 1)
	}
}

func aligned(addr uint32, w Width) bool {
	switch w {
	case WidthHalf:
		return addr&1 == 0
	case WidthWord:
		return addr&3 == 0
	default:
		return true
	}
}

// execBlockLoad/execBlockStore implement the 64-byte-aligned, all-or-
// nothing 16-lane transfer: "fault at any point aborts the op (no partial
// retire)".
func (t *Thread) execBlockLoad(inst Instruction, faultPC uint32) {
	base := t.getReg(inst.Src1)
	if base&(syncLineSize-1) != 0 {
		t.enterTrap(FaultUnalignedAccess, base, faultPC)
		return
	}
	phys, ok := t.translateAndCheck(base, false, faultPC)
	if !ok {
		return
	}
	buf, got := t.proc.bus.ReadBlock(phys, syncLineSize)
	if !got {
		t.enterTrap(FaultPageFault, base, faultPC)
		return
	}
	var out [numLanes]uint32
	for i := 0; i < numLanes; i++ {
		out[i] = u32le(buf[i*4 : i*4+4])
	}
	t.vregs[inst.Dest] = out
	t.recordVec(inst.Dest, out, maskAll)
}

func (t *Thread) execBlockStore(inst Instruction, faultPC uint32) {
	base := t.getReg(inst.Src1)
	if base&(syncLineSize-1) != 0 {
		t.enterTrap(FaultUnalignedAccess, base, faultPC)
		return
	}
	phys, ok := t.translateAndCheck(base, true, faultPC)
	if !ok {
		return
	}
	buf := make([]byte, syncLineSize)
	for i := 0; i < numLanes; i++ {
		putU32le(buf[i*4:i*4+4], t.vregs[inst.Dest][i])
	}
	if !t.proc.bus.WriteBlock(phys, buf) {
		t.enterTrap(FaultPageFault, base, faultPC)
		return
	}
	t.proc.noteLineWrite(t.id, lineOf(base))
	t.recordMem(phys, uint16(maskAll), buf)
}

// recordStoreEvent emits a cosim memory-write event with a byte mask sized
// to the access width, so unwritten bytes compare as "don't care" per
// spec.md §4.8.
func (t *Thread) recordStoreEvent(phys uint32, w Width, v uint32) {
	buf := make([]byte, 4)
	putU32le(buf, v)
	var mask uint16
	switch w {
	case WidthByte:
		mask = 0x1
	case WidthHalf:
		mask = 0x3
	default:
		mask = 0xF
	}
	t.recordMem(phys, mask, buf[:w.bytes()])
}

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32le(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// execGather/execScatter implement per-lane addressed memory access,
// resuming from cr[CrSubcycle] so a mid-sequence fault can be retried
// lane-wise after the OS services it (spec.md §4.4, invariant (d)).
func (t *Thread) execGather(inst Instruction, faultPC uint32) {
	mask := t.laneMask(inst)
	addrs := t.vregs[inst.Src1]
	start := t.cr[CrSubcycle]

	for i := int(start); i < numLanes; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		vaddr := addrs[i]
		phys, ok := t.translateAndCheck(vaddr, false, faultPC)
		if !ok {
			t.cr[CrSubcycle] = uint32(i)
			return
		}
		v, got := t.proc.bus.ReadWord(phys)
		if !got {
			t.enterTrap(FaultPageFault, vaddr, faultPC)
			t.cr[CrSubcycle] = uint32(i)
			return
		}
		// Commit the lane immediately so a later lane's fault leaves
		// 0..i completed, not discarded.
		t.vregs[inst.Dest][i] = v
	}
	t.recordVec(inst.Dest, t.vregs[inst.Dest], mask)
	t.cr[CrSubcycle] = 0
}

func (t *Thread) execScatter(inst Instruction, faultPC uint32) {
	mask := t.laneMask(inst)
	addrs := t.vregs[inst.Src1]
	data := t.vregs[inst.Dest]
	start := t.cr[CrSubcycle]

	for i := int(start); i < numLanes; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		vaddr := addrs[i]
		phys, ok := t.translateAndCheck(vaddr, true, faultPC)
		if !ok {
			t.cr[CrSubcycle] = uint32(i)
			return
		}
		if !t.proc.bus.WriteWord(phys, data[i]) {
			t.enterTrap(FaultPageFault, vaddr, faultPC)
			t.cr[CrSubcycle] = uint32(i)
			return
		}
		t.proc.noteLineWrite(t.id, lineOf(vaddr))
		t.recordStoreEvent(phys, WidthWord, data[i])
	}
	t.cr[CrSubcycle] = 0
}

// execFormatD handles cache-control, TLB-control and eret, per spec.md
// §4.4/§4.5: dflush/dinvalidate/iinvalidate/membar are no-ops functionally
// but still count as a retired instruction for cosim. itlbinsert/dtlbinsert
// are the TLB-miss handler's only way to install a translation: AddrReg
// holds the virtual page, Src1 the physical page with permission bits
// packed into its low, page-offset bits (tlbFlag* in isa.go).
func (t *Thread) execFormatD(inst Instruction, faultPC uint32) {
	switch inst.Op {
	case CtlDFlush, CtlDInvalidate, CtlIInvalidate, CtlMembar:
		// no-op; retirement alone is the observable effect under cosim.
	case CtlITlbInvalAll:
		t.requirePrivileged(faultPC, t.mmu.ITlbInvalAll)
	case CtlDTlbInvalAll:
		t.requirePrivileged(faultPC, t.mmu.DTlbInvalAll)
	case CtlTlbInval:
		addr := t.getReg(inst.AddrReg)
		t.requirePrivileged(faultPC, func() { t.mmu.TlbInval(t.cr[CrCurrentASID], addr) })
	case CtlITlbInsert:
		vaddr, phys := t.getReg(inst.AddrReg), t.getReg(inst.Src1)
		t.requirePrivileged(faultPC, func() {
			t.mmu.InsertITlb(t.cr[CrCurrentASID], vaddr, phys&^pageMask,
				phys&tlbFlagPresent != 0, phys&tlbFlagPerm != 0,
				phys&tlbFlagSupervisor != 0, phys&tlbFlagGlobal != 0)
		})
	case CtlDTlbInsert:
		vaddr, phys := t.getReg(inst.AddrReg), t.getReg(inst.Src1)
		t.requirePrivileged(faultPC, func() {
			t.mmu.InsertDTlb(t.cr[CrCurrentASID], vaddr, phys&^pageMask,
				phys&tlbFlagPresent != 0, phys&tlbFlagPerm != 0,
				phys&tlbFlagSupervisor != 0, phys&tlbFlagDirty != 0, phys&tlbFlagGlobal != 0)
		})
	case CtlDTlbSetDirty:
		addr := t.getReg(inst.AddrReg)
		t.requirePrivileged(faultPC, func() { t.mmu.SetDTlbDirty(t.cr[CrCurrentASID], addr) })
	case CtlEret:
		t.requirePrivileged(faultPC, t.eret)
	}
}

func (t *Thread) requirePrivileged(faultPC uint32, fn func()) {
	if !t.supervisor() {
		t.enterTrap(FaultPrivilegedOp, 0, faultPC)
		return
	}
	fn()
}
