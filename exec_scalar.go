// exec_scalar.go - Format A/B executors, scalar case (spec.md §4.2/§4.3).
// Vector and vector-scalar forms of the same opcodes live in
// exec_vector.go; this file handles inst.Vector == false.

package main

// execFormatA handles register-register ALU instructions, routing to the
// vector executor when the instruction is a vector op.
func (t *Thread) execFormatA(inst Instruction, faultPC uint32) {
	if inst.Vector {
		t.execVectorA(inst, faultPC)
		return
	}
	if t.execControlOp(inst.Op, Opcode(inst.Src2), inst.Dest, inst.Src1, faultPC) {
		return
	}
	result, _ := aluOp(inst.Op, t.getReg(inst.Src1), t.getReg(inst.Src2))
	t.setReg(inst.Dest, result)
}

// execFormatB handles register-immediate ALU instructions and the
// control-register/syscall/break opcodes, which are conventionally encoded
// in this format since they need an immediate operand slot (the CR index).
func (t *Thread) execFormatB(inst Instruction, faultPC uint32) {
	if inst.Vector {
		t.execVectorB(inst, faultPC)
		return
	}
	if t.execControlOp(inst.Op, Opcode(uint32(inst.Imm)), inst.Dest, inst.Src1, faultPC) {
		return
	}
	result, _ := aluOp(inst.Op, t.getReg(inst.Src1), uint32(inst.Imm))
	t.setReg(inst.Dest, result)
}

// execControlOp handles the four opcodes that aren't plain ALU ops:
// getcr/setcr (crIdx taken from whichever field the format carries it in),
// syscall and break. Returns true if it handled the opcode.
func (t *Thread) execControlOp(op Opcode, crIdx Opcode, dest, valueReg Reg, faultPC uint32) bool {
	switch op {
	case OpGetCr:
		if v, ok := t.readCr(crIdx, faultPC); ok {
			t.setReg(dest, v)
		}
		return true
	case OpSetCr:
		t.writeCr(crIdx, t.getReg(valueReg), faultPC)
		return true
	case OpSyscall:
		t.enterTrap(FaultSyscall, 0, faultPC)
		return true
	case OpBreak:
		t.enterTrap(FaultBreakpoint, 0, faultPC)
		return true
	}
	return false
}
