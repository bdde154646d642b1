package main

import "testing"

func TestDecodeEncodeRoundTripFormatA(t *testing.T) {
	in := Instruction{Format: FormatA, Op: OpAdd, Dest: 3, Src1: 4, Src2: 5}
	word := Encode(in)
	out, err := Decode(word)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Format != FormatA || out.Op != OpAdd || out.Dest != 3 || out.Src1 != 4 || out.Src2 != 5 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDecodeEncodeRoundTripFormatB(t *testing.T) {
	in := Instruction{Format: FormatB, Op: OpAdd, Dest: 1, Src1: 2, Imm: -5}
	word := Encode(in)
	out, err := Decode(word)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Imm != -5 {
		t.Errorf("Imm = %d, want -5", out.Imm)
	}
}

func TestDecodeEncodeRoundTripFormatBUnsignedZeroExtend(t *testing.T) {
	in := Instruction{Format: FormatB, Op: OpAnd, Dest: 1, Src1: 2, Imm: 0xABC}
	word := Encode(in)
	out, err := Decode(word)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Imm != 0xABC {
		t.Errorf("zero-extended Imm = 0x%x, want 0xABC", out.Imm)
	}
}

func TestDecodeUnknownFormatIsError(t *testing.T) {
	word := uint32(0b111) << 29 // format bits 5,6,7 are unassigned
	if _, err := Decode(word); err == nil {
		t.Errorf("expected error decoding unknown format, got nil")
	}
}

func TestDecodeEncodeRoundTripFormatDTlbInsert(t *testing.T) {
	in := Instruction{Format: FormatD, Op: CtlDTlbInsert, AddrReg: 9, Src1: 17}
	word := Encode(in)
	out, err := Decode(word)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Format != FormatD || out.Op != CtlDTlbInsert || out.AddrReg != 9 || out.Src1 != 17 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDecodeFormatEBranchOffset(t *testing.T) {
	in := Instruction{Format: FormatE, Op: BrGoto, Offset: -100}
	word := Encode(in)
	out, err := Decode(word)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Offset != -100 {
		t.Errorf("Offset = %d, want -100", out.Offset)
	}
}
