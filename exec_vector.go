// exec_vector.go - vector and vector-scalar forms of Format A/B, per
// spec.md §4.3: 16 independent lanes, masked lanes left unchanged (not
// zeroed), vector-scalar broadcasting the second operand.

package main

func (t *Thread) laneMask(inst Instruction) uint32 {
	if !inst.Masked {
		return maskAll
	}
	return t.getReg(inst.MaskReg) & maskAll
}

func (t *Thread) execVectorA(inst Instruction, faultPC uint32) {
	if inst.Op == OpShuffle {
		t.execShuffle(inst)
		return
	}

	mask := t.laneMask(inst)
	src1 := t.vregs[inst.Src1]

	var src2 [numLanes]uint32
	if inst.VecScalar {
		scalar := t.getReg(inst.Src2)
		for i := range src2 {
			src2[i] = scalar
		}
	} else {
		src2 = t.vregs[inst.Src2]
	}

	var out [numLanes]uint32
	for i := 0; i < numLanes; i++ {
		if mask&(1<<uint(i)) == 0 {
			out[i] = t.vregs[inst.Dest][i]
			continue
		}
		v, _ := aluOp(inst.Op, src1[i], src2[i])
		out[i] = v
	}
	t.vregs[inst.Dest] = out
	t.recordVec(inst.Dest, out, mask)
}

func (t *Thread) execVectorB(inst Instruction, faultPC uint32) {
	mask := maskAll // Format B carries no mask-register field
	src1 := t.vregs[inst.Src1]
	imm := uint32(inst.Imm)

	var out [numLanes]uint32
	for i := 0; i < numLanes; i++ {
		if mask&(1<<uint(i)) == 0 {
			out[i] = t.vregs[inst.Dest][i]
			continue
		}
		v, _ := aluOp(inst.Op, src1[i], imm)
		out[i] = v
	}
	t.vregs[inst.Dest] = out
	t.recordVec(inst.Dest, out, mask)
}

// execShuffle implements spec.md §4.3's shuffle: dest[i] = src1[src2[i] mod
// 16], unmasked (shuffle has no defined masked form in this ISA).
func (t *Thread) execShuffle(inst Instruction) {
	src1 := t.vregs[inst.Src1]
	idx := t.vregs[inst.Src2]
	var out [numLanes]uint32
	for i := 0; i < numLanes; i++ {
		out[i] = src1[idx[i]%numLanes]
	}
	t.vregs[inst.Dest] = out
	t.recordVec(inst.Dest, out, maskAll)
}
