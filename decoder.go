// decoder.go - maps a fetched 32-bit word to an Instruction descriptor.
//
// Grounded on the teacher pack's disassembler shape (debug_disasm_ie32.go
// pulls opcode/reg/mode/operand fields out of a fixed byte layout and
// returns a descriptor for the caller to render or execute); here the
// extraction feeds execution directly rather than a disassembly string.

package main

import "fmt"

// maskAll selects every lane; used as the sentinel for "unmasked".
const maskAll uint32 = 0xFFFF

// Instruction is the decoder's output: every field any executor needs,
// regardless of format. Fields that don't apply to a given format are left
// at their zero value.
type Instruction struct {
	Raw    uint32
	Format Format
	Op     Opcode

	Dest Reg
	Src1 Reg
	Src2 Reg

	Vector     bool
	VecScalar  bool // second operand broadcasts a scalar across all lanes
	Masked     bool
	MaskReg    Reg

	Imm      int32 // Format B immediate, sign- or zero-extended per opcode
	Width    Width // Format C
	SignExt  bool  // Format C
	Offset   int32 // Format C byte offset, Format E PC-relative word offset

	// Format D; Src1 doubles as the TLB-insert physical-page/flags operand
	// for CtlITlbInsert/CtlDTlbInsert
	AddrReg Reg

	// Format E
	BranchReg Reg
}

// Reg is a 5-bit register index (0-31).
type Reg uint8

func extractBits(word uint32, hi, lo int) uint32 {
	width := hi - lo + 1
	mask := uint32(1)<<uint(width) - 1
	return (word >> uint(lo)) & mask
}

func signExtend(value uint32, bits int) int32 {
	shift := 32 - bits
	return int32(value<<uint(shift)) >> uint(shift)
}

// Decode classifies a 32-bit word and extracts its operand fields.
// Unknown format bits (5, 6, 7) return an error the caller turns into an
// ILLEGAL_INSTRUCTION fault.
func Decode(word uint32) (Instruction, error) {
	format := Format(extractBits(word, 31, 29))
	if format >= formatCount {
		return Instruction{}, fmt.Errorf("decoder: unknown format %d in word 0x%08X", format, word)
	}

	inst := Instruction{Raw: word, Format: format}

	switch format {
	case FormatA:
		inst.Op = Opcode(extractBits(word, 28, 23))
		inst.Vector = extractBits(word, 22, 22) != 0
		inst.VecScalar = extractBits(word, 21, 21) != 0
		inst.Masked = extractBits(word, 20, 20) != 0
		inst.MaskReg = Reg(extractBits(word, 19, 15))
		inst.Dest = Reg(extractBits(word, 14, 10))
		inst.Src1 = Reg(extractBits(word, 9, 5))
		inst.Src2 = Reg(extractBits(word, 4, 0))

	case FormatB:
		inst.Op = Opcode(extractBits(word, 28, 23))
		inst.Vector = extractBits(word, 22, 22) != 0
		inst.Dest = Reg(extractBits(word, 21, 17))
		inst.Src1 = Reg(extractBits(word, 16, 12))
		rawImm := extractBits(word, 11, 0)
		if unsignedZeroExtendImm[inst.Op] {
			inst.Imm = int32(rawImm)
		} else {
			inst.Imm = signExtend(rawImm, 12)
		}

	case FormatC:
		inst.Op = Opcode(extractBits(word, 28, 26))
		inst.Width = Width(extractBits(word, 25, 24))
		inst.SignExt = extractBits(word, 23, 23) != 0
		inst.Vector = extractBits(word, 22, 22) != 0
		inst.Masked = extractBits(word, 21, 21) != 0
		inst.MaskReg = Reg(extractBits(word, 20, 16))
		inst.Dest = Reg(extractBits(word, 15, 11))
		inst.Src1 = Reg(extractBits(word, 10, 6))
		inst.Offset = signExtend(extractBits(word, 5, 0), 6)
		if inst.Vector {
			inst.Width = WidthWord
		}

	case FormatD:
		inst.Op = Opcode(extractBits(word, 28, 25))
		inst.AddrReg = Reg(extractBits(word, 24, 20))
		inst.Src1 = Reg(extractBits(word, 19, 15))

	case FormatE:
		inst.Op = Opcode(extractBits(word, 28, 26))
		inst.BranchReg = Reg(extractBits(word, 25, 21))
		inst.Offset = signExtend(extractBits(word, 20, 0), 21)
	}

	return inst, nil
}

// Encode is the inverse of Decode, used only by tests to build synthetic
// programs without hand-assembling bit patterns.
func Encode(inst Instruction) uint32 {
	word := uint32(inst.Format) << 29
	switch inst.Format {
	case FormatA:
		word |= uint32(inst.Op&0x3F) << 23
		word |= b2u(inst.Vector) << 22
		word |= b2u(inst.VecScalar) << 21
		word |= b2u(inst.Masked) << 20
		word |= uint32(inst.MaskReg&0x1F) << 15
		word |= uint32(inst.Dest&0x1F) << 10
		word |= uint32(inst.Src1&0x1F) << 5
		word |= uint32(inst.Src2 & 0x1F)
	case FormatB:
		word |= uint32(inst.Op&0x3F) << 23
		word |= b2u(inst.Vector) << 22
		word |= uint32(inst.Dest&0x1F) << 17
		word |= uint32(inst.Src1&0x1F) << 12
		word |= uint32(inst.Imm) & 0xFFF
	case FormatC:
		word |= uint32(inst.Op&0x7) << 26
		word |= uint32(inst.Width&0x3) << 24
		word |= b2u(inst.SignExt) << 23
		word |= b2u(inst.Vector) << 22
		word |= b2u(inst.Masked) << 21
		word |= uint32(inst.MaskReg&0x1F) << 16
		word |= uint32(inst.Dest&0x1F) << 11
		word |= uint32(inst.Src1&0x1F) << 6
		word |= uint32(inst.Offset) & 0x3F
	case FormatD:
		word |= uint32(inst.Op&0xF) << 25
		word |= uint32(inst.AddrReg&0x1F) << 20
		word |= uint32(inst.Src1&0x1F) << 15
	case FormatE:
		word |= uint32(inst.Op&0x7) << 26
		word |= uint32(inst.BranchReg&0x1F) << 21
		word |= uint32(inst.Offset) & 0x1FFFFF
	}
	return word
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (i Instruction) String() string {
	switch i.Format {
	case FormatA:
		return fmt.Sprintf("%s r%d, r%d, r%d", i.Op.aluString(), i.Dest, i.Src1, i.Src2)
	case FormatB:
		return fmt.Sprintf("%s r%d, r%d, #%d", i.Op.aluString(), i.Dest, i.Src1, i.Imm)
	case FormatC:
		return fmt.Sprintf("mem op=%d r%d, %d(r%d)", i.Op, i.Dest, i.Offset, i.Src1)
	case FormatD:
		return fmt.Sprintf("ctl op=%d r%d, r%d", i.Op, i.AddrReg, i.Src1)
	case FormatE:
		return fmt.Sprintf("br op=%d r%d, %d", i.Op, i.BranchReg, i.Offset)
	default:
		return "??"
	}
}
