package vm

import (
	"encoding/binary"
	"fmt"
)

// InstructionSize is the size of one instruction slot in bytes.
const InstructionSize = 8

// NumRegisters is the number of general-purpose registers (r0-r10).
const NumRegisters = 11

// Instruction class bits (bits 0-2).
const (
	ClassLd    = 0x00 // Load immediate
	ClassLdx   = 0x01 // Load from memory
	ClassSt    = 0x02 // Store immediate
	ClassStx   = 0x03 // Store register
	ClassAlu   = 0x04 // 32-bit ALU
	ClassJmp   = 0x05 // Jump, call and exit
	ClassAlu64 = 0x07 // 64-bit ALU

	classMask = 0x07
)

// Source bit (bit 3).
const (
	SrcK = 0x00 // Immediate
	SrcX = 0x08 // Register

	srcMask = 0x08
)

// ALU operation codes (bits 4-7).
const (
	AluAdd  = 0x00
	AluSub  = 0x10
	AluMul  = 0x20
	AluDiv  = 0x30
	AluOr   = 0x40
	AluAnd  = 0x50
	AluLsh  = 0x60
	AluRsh  = 0x70
	AluNeg  = 0x80
	AluMod  = 0x90
	AluXor  = 0xa0
	AluMov  = 0xb0
	AluArsh = 0xc0

	opMask = 0xf0
)

// Jump operation codes (bits 4-7).
const (
	JmpJa   = 0x00 // Unconditional
	JmpJeq  = 0x10 // ==
	JmpJgt  = 0x20 // > (unsigned)
	JmpJge  = 0x30 // >= (unsigned)
	JmpJset = 0x40 // &
	JmpJne  = 0x50 // !=
	JmpJsgt = 0x60 // > (signed)
	JmpJsge = 0x70 // >= (signed)
	JmpCall = 0x80 // Syscall
	JmpExit = 0x90 // Return
	JmpJlt  = 0xa0 // < (unsigned)
	JmpJle  = 0xb0 // <= (unsigned)
	JmpJslt = 0xc0 // < (signed)
	JmpJsle = 0xd0 // <= (signed)
)

// Memory size (bits 3-4 for load/store).
const (
	SizeW  = 0x00 // 32-bit word
	SizeH  = 0x08 // 16-bit half-word
	SizeB  = 0x10 // 8-bit byte
	SizeDW = 0x18 // 64-bit double-word

	ModeImm = 0x00
	ModeMem = 0x60
)

// Composed opcodes for 64-bit ALU.
const (
	OpAdd64Imm  = ClassAlu64 | SrcK | AluAdd  // 0x07
	OpAdd64Reg  = ClassAlu64 | SrcX | AluAdd  // 0x0f
	OpSub64Imm  = ClassAlu64 | SrcK | AluSub  // 0x17
	OpSub64Reg  = ClassAlu64 | SrcX | AluSub  // 0x1f
	OpMul64Imm  = ClassAlu64 | SrcK | AluMul  // 0x27
	OpMul64Reg  = ClassAlu64 | SrcX | AluMul  // 0x2f
	OpDiv64Imm  = ClassAlu64 | SrcK | AluDiv  // 0x37
	OpDiv64Reg  = ClassAlu64 | SrcX | AluDiv  // 0x3f
	OpOr64Imm   = ClassAlu64 | SrcK | AluOr   // 0x47
	OpOr64Reg   = ClassAlu64 | SrcX | AluOr   // 0x4f
	OpAnd64Imm  = ClassAlu64 | SrcK | AluAnd  // 0x57
	OpAnd64Reg  = ClassAlu64 | SrcX | AluAnd  // 0x5f
	OpLsh64Imm  = ClassAlu64 | SrcK | AluLsh  // 0x67
	OpLsh64Reg  = ClassAlu64 | SrcX | AluLsh  // 0x6f
	OpRsh64Imm  = ClassAlu64 | SrcK | AluRsh  // 0x77
	OpRsh64Reg  = ClassAlu64 | SrcX | AluRsh  // 0x7f
	OpNeg64     = ClassAlu64 | AluNeg         // 0x87
	OpMod64Imm  = ClassAlu64 | SrcK | AluMod  // 0x97
	OpMod64Reg  = ClassAlu64 | SrcX | AluMod  // 0x9f
	OpXor64Imm  = ClassAlu64 | SrcK | AluXor  // 0xa7
	OpXor64Reg  = ClassAlu64 | SrcX | AluXor  // 0xaf
	OpMov64Imm  = ClassAlu64 | SrcK | AluMov  // 0xb7
	OpMov64Reg  = ClassAlu64 | SrcX | AluMov  // 0xbf
	OpArsh64Imm = ClassAlu64 | SrcK | AluArsh // 0xc7
	OpArsh64Reg = ClassAlu64 | SrcX | AluArsh // 0xcf
)

// Composed opcodes for 32-bit ALU.
const (
	OpAdd32Imm  = ClassAlu | SrcK | AluAdd  // 0x04
	OpAdd32Reg  = ClassAlu | SrcX | AluAdd  // 0x0c
	OpSub32Imm  = ClassAlu | SrcK | AluSub  // 0x14
	OpSub32Reg  = ClassAlu | SrcX | AluSub  // 0x1c
	OpMul32Imm  = ClassAlu | SrcK | AluMul  // 0x24
	OpMul32Reg  = ClassAlu | SrcX | AluMul  // 0x2c
	OpDiv32Imm  = ClassAlu | SrcK | AluDiv  // 0x34
	OpDiv32Reg  = ClassAlu | SrcX | AluDiv  // 0x3c
	OpOr32Imm   = ClassAlu | SrcK | AluOr   // 0x44
	OpOr32Reg   = ClassAlu | SrcX | AluOr   // 0x4c
	OpAnd32Imm  = ClassAlu | SrcK | AluAnd  // 0x54
	OpAnd32Reg  = ClassAlu | SrcX | AluAnd  // 0x5c
	OpLsh32Imm  = ClassAlu | SrcK | AluLsh  // 0x64
	OpLsh32Reg  = ClassAlu | SrcX | AluLsh  // 0x6c
	OpRsh32Imm  = ClassAlu | SrcK | AluRsh  // 0x74
	OpRsh32Reg  = ClassAlu | SrcX | AluRsh  // 0x7c
	OpNeg32     = ClassAlu | AluNeg         // 0x84
	OpMod32Imm  = ClassAlu | SrcK | AluMod  // 0x94
	OpMod32Reg  = ClassAlu | SrcX | AluMod  // 0x9c
	OpXor32Imm  = ClassAlu | SrcK | AluXor  // 0xa4
	OpXor32Reg  = ClassAlu | SrcX | AluXor  // 0xac
	OpMov32Imm  = ClassAlu | SrcK | AluMov  // 0xb4
	OpMov32Reg  = ClassAlu | SrcX | AluMov  // 0xbc
	OpArsh32Imm = ClassAlu | SrcK | AluArsh // 0xc4
	OpArsh32Reg = ClassAlu | SrcX | AluArsh // 0xcc
)

// Double-width load opcodes. Each uses two instruction slots; the second
// slot's immediate holds the high 32 bits.
const (
	OpLddw  = 0x18 // Load 64-bit immediate
	OpLddwd = 0xb8 // Load 64-bit immediate relative to the data section
	OpLddwr = 0xd8 // Load 64-bit immediate relative to the rodata section
)

// Memory load opcodes.
const (
	OpLdxw  = ClassLdx | ModeMem | SizeW  // 0x61
	OpLdxh  = ClassLdx | ModeMem | SizeH  // 0x69
	OpLdxb  = ClassLdx | ModeMem | SizeB  // 0x71
	OpLdxdw = ClassLdx | ModeMem | SizeDW // 0x79
)

// Memory store immediate opcodes.
const (
	OpStw  = ClassSt | ModeMem | SizeW  // 0x62
	OpSth  = ClassSt | ModeMem | SizeH  // 0x6a
	OpStb  = ClassSt | ModeMem | SizeB  // 0x72
	OpStdw = ClassSt | ModeMem | SizeDW // 0x7a
)

// Memory store register opcodes.
const (
	OpStxw  = ClassStx | ModeMem | SizeW  // 0x63
	OpStxh  = ClassStx | ModeMem | SizeH  // 0x6b
	OpStxb  = ClassStx | ModeMem | SizeB  // 0x73
	OpStxdw = ClassStx | ModeMem | SizeDW // 0x7b
)

// Jump opcodes.
const (
	OpJa      = ClassJmp | JmpJa          // 0x05
	OpJeqImm  = ClassJmp | SrcK | JmpJeq  // 0x15
	OpJeqReg  = ClassJmp | SrcX | JmpJeq  // 0x1d
	OpJgtImm  = ClassJmp | SrcK | JmpJgt  // 0x25
	OpJgtReg  = ClassJmp | SrcX | JmpJgt  // 0x2d
	OpJgeImm  = ClassJmp | SrcK | JmpJge  // 0x35
	OpJgeReg  = ClassJmp | SrcX | JmpJge  // 0x3d
	OpJsetImm = ClassJmp | SrcK | JmpJset // 0x45
	OpJsetReg = ClassJmp | SrcX | JmpJset // 0x4d
	OpJneImm  = ClassJmp | SrcK | JmpJne  // 0x55
	OpJneReg  = ClassJmp | SrcX | JmpJne  // 0x5d
	OpJsgtImm = ClassJmp | SrcK | JmpJsgt // 0x65
	OpJsgtReg = ClassJmp | SrcX | JmpJsgt // 0x6d
	OpJsgeImm = ClassJmp | SrcK | JmpJsge // 0x75
	OpJsgeReg = ClassJmp | SrcX | JmpJsge // 0x7d
	OpCall    = ClassJmp | JmpCall        // 0x85
	OpExit    = ClassJmp | JmpExit        // 0x95
	OpJltImm  = ClassJmp | SrcK | JmpJlt  // 0xa5
	OpJltReg  = ClassJmp | SrcX | JmpJlt  // 0xad
	OpJleImm  = ClassJmp | SrcK | JmpJle  // 0xb5
	OpJleReg  = ClassJmp | SrcX | JmpJle  // 0xbd
	OpJsltImm = ClassJmp | SrcK | JmpJslt // 0xc5
	OpJsltReg = ClassJmp | SrcX | JmpJslt // 0xcd
	OpJsleImm = ClassJmp | SrcK | JmpJsle // 0xd5
	OpJsleReg = ClassJmp | SrcX | JmpJsle // 0xdd
)

// Instruction extracts fields from an encoded instruction.
type Instruction uint64

// Op returns the opcode (bits 0-7).
func (i Instruction) Op() uint8 {
	return uint8(i & 0xFF)
}

// Class returns the instruction class (bits 0-2).
func (i Instruction) Class() uint8 {
	return i.Op() & classMask
}

// Dst returns the destination register (bits 8-11).
func (i Instruction) Dst() uint8 {
	return uint8((i >> 8) & 0x0F)
}

// Src returns the source register (bits 12-15).
func (i Instruction) Src() uint8 {
	return uint8((i >> 12) & 0x0F)
}

// Off returns the offset (bits 16-31, signed).
func (i Instruction) Off() int16 {
	return int16(i >> 16)
}

// Imm returns the immediate value (bits 32-63, signed).
func (i Instruction) Imm() int32 {
	return int32(i >> 32)
}

// Uimm returns the immediate value as unsigned.
func (i Instruction) Uimm() uint32 {
	return uint32(i >> 32)
}

// isWide reports whether op occupies two instruction slots.
func isWide(op uint8) bool {
	return op == OpLddw || op == OpLddwd || op == OpLddwr
}

// fetch decodes the instruction in slot pc of text.
func fetch(text []byte, pc int) Instruction {
	return Instruction(binary.LittleEndian.Uint64(text[pc*InstructionSize:]))
}

// Encode creates an instruction from its components.
func Encode(op uint8, dst, src uint8, off int16, imm int32) uint64 {
	return uint64(op) |
		uint64(dst&0x0F)<<8 |
		uint64(src&0x0F)<<12 |
		uint64(uint16(off))<<16 |
		uint64(uint32(imm))<<32
}

// EncodeLddw creates the two slots of a double-width load of imm into dst.
// op must be OpLddw, OpLddwd or OpLddwr.
func EncodeLddw(op uint8, dst uint8, imm uint64) [2]uint64 {
	return [2]uint64{
		Encode(op, dst, 0, 0, int32(uint32(imm))),
		Encode(0, 0, 0, 0, int32(uint32(imm>>32))),
	}
}

// Assemble serialises instruction words into a little-endian text section.
func Assemble(words ...uint64) []byte {
	text := make([]byte, 0, len(words)*InstructionSize)
	for _, w := range words {
		text = binary.LittleEndian.AppendUint64(text, w)
	}
	return text
}

var mnemonics = map[uint8]string{
	OpAdd64Imm: "add64", OpAdd64Reg: "add64", OpSub64Imm: "sub64", OpSub64Reg: "sub64",
	OpMul64Imm: "mul64", OpMul64Reg: "mul64", OpDiv64Imm: "div64", OpDiv64Reg: "div64",
	OpOr64Imm: "or64", OpOr64Reg: "or64", OpAnd64Imm: "and64", OpAnd64Reg: "and64",
	OpLsh64Imm: "lsh64", OpLsh64Reg: "lsh64", OpRsh64Imm: "rsh64", OpRsh64Reg: "rsh64",
	OpNeg64: "neg64", OpMod64Imm: "mod64", OpMod64Reg: "mod64", OpXor64Imm: "xor64",
	OpXor64Reg: "xor64", OpMov64Imm: "mov64", OpMov64Reg: "mov64", OpArsh64Imm: "arsh64",
	OpArsh64Reg: "arsh64",

	OpAdd32Imm: "add32", OpAdd32Reg: "add32", OpSub32Imm: "sub32", OpSub32Reg: "sub32",
	OpMul32Imm: "mul32", OpMul32Reg: "mul32", OpDiv32Imm: "div32", OpDiv32Reg: "div32",
	OpOr32Imm: "or32", OpOr32Reg: "or32", OpAnd32Imm: "and32", OpAnd32Reg: "and32",
	OpLsh32Imm: "lsh32", OpLsh32Reg: "lsh32", OpRsh32Imm: "rsh32", OpRsh32Reg: "rsh32",
	OpNeg32: "neg32", OpMod32Imm: "mod32", OpMod32Reg: "mod32", OpXor32Imm: "xor32",
	OpXor32Reg: "xor32", OpMov32Imm: "mov32", OpMov32Reg: "mov32", OpArsh32Imm: "arsh32",
	OpArsh32Reg: "arsh32",

	OpLddw: "lddw", OpLddwd: "lddwd", OpLddwr: "lddwr",
	OpLdxw: "ldxw", OpLdxh: "ldxh", OpLdxb: "ldxb", OpLdxdw: "ldxdw",
	OpStw: "stw", OpSth: "sth", OpStb: "stb", OpStdw: "stdw",
	OpStxw: "stxw", OpStxh: "stxh", OpStxb: "stxb", OpStxdw: "stxdw",

	OpJa: "ja", OpJeqImm: "jeq", OpJeqReg: "jeq", OpJgtImm: "jgt", OpJgtReg: "jgt",
	OpJgeImm: "jge", OpJgeReg: "jge", OpJsetImm: "jset", OpJsetReg: "jset",
	OpJneImm: "jne", OpJneReg: "jne", OpJsgtImm: "jsgt", OpJsgtReg: "jsgt",
	OpJsgeImm: "jsge", OpJsgeReg: "jsge", OpCall: "call", OpExit: "exit",
	OpJltImm: "jlt", OpJltReg: "jlt", OpJleImm: "jle", OpJleReg: "jle",
	OpJsltImm: "jslt", OpJsltReg: "jslt", OpJsleImm: "jsle", OpJsleReg: "jsle",
}

// String renders the instruction in a compact assembly-like form.
func (i Instruction) String() string {
	op := i.Op()
	name, ok := mnemonics[op]
	if !ok {
		return fmt.Sprintf("unknown 0x%02x dst=r%d src=r%d off=%d imm=%d", op, i.Dst(), i.Src(), i.Off(), i.Imm())
	}

	switch i.Class() {
	case ClassAlu, ClassAlu64:
		if op&opMask == AluNeg {
			return fmt.Sprintf("%s r%d", name, i.Dst())
		}
		if op&srcMask == SrcX {
			return fmt.Sprintf("%s r%d, r%d", name, i.Dst(), i.Src())
		}
		return fmt.Sprintf("%s r%d, %d", name, i.Dst(), i.Imm())
	case ClassLdx:
		return fmt.Sprintf("%s r%d, [r%d%+d]", name, i.Dst(), i.Src(), i.Off())
	case ClassSt:
		return fmt.Sprintf("%s [r%d%+d], %d", name, i.Dst(), i.Off(), i.Imm())
	case ClassStx:
		return fmt.Sprintf("%s [r%d%+d], r%d", name, i.Dst(), i.Off(), i.Src())
	case ClassJmp:
		switch op {
		case OpExit:
			return name
		case OpCall:
			return fmt.Sprintf("%s 0x%x", name, i.Uimm())
		case OpJa:
			return fmt.Sprintf("%s %+d", name, i.Off())
		}
		if op&srcMask == SrcX {
			return fmt.Sprintf("%s r%d, r%d, %+d", name, i.Dst(), i.Src(), i.Off())
		}
		return fmt.Sprintf("%s r%d, %d, %+d", name, i.Dst(), i.Imm(), i.Off())
	}
	return fmt.Sprintf("%s r%d, 0x%x", name, i.Dst(), i.Uimm())
}

// Disassemble renders a text section one line per instruction. Double-width
// loads are printed as a single line with their full 64-bit immediate.
func Disassemble(text []byte) []string {
	n := len(text) / InstructionSize
	lines := make([]string, 0, n)
	for pc := 0; pc < n; pc++ {
		ins := fetch(text, pc)
		if isWide(ins.Op()) && pc+1 < n {
			imm := uint64(ins.Uimm()) | uint64(fetch(text, pc+1).Uimm())<<32
			lines = append(lines, fmt.Sprintf("%4d: %s r%d, 0x%x", pc, mnemonics[ins.Op()], ins.Dst(), imm))
			pc++
			continue
		}
		lines = append(lines, fmt.Sprintf("%4d: %s", pc, ins))
	}
	if rem := len(text) % InstructionSize; rem != 0 {
		lines = append(lines, fmt.Sprintf("%4d: <%d trailing bytes>", n, rem))
	}
	return lines
}
