package vm

import (
	"fmt"

	"go.uber.org/zap"
)

// run verifies the program, then interprets it from slot 0 until exit, a
// fault, or (with FlagNoReturn) the end of text.
func (in *Instance) run(r1 uint64) (r0 int64, err error) {
	in.state = StateInit
	if err := in.Verify(); err != nil {
		in.state = StateFaulted
		return 0, err
	}

	var r [NumRegisters]uint64
	r[1] = r1
	r[10] = VaddrStack + uint64(len(in.stack))
	in.budget.Reset()

	text := in.image.Text()
	n := len(text) / InstructionSize
	pc := 0

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("vm panic at pc %d: %v", pc, rec)
		}
		if err != nil {
			in.state = StateFaulted
			Logger().Debug("execution faulted", zap.Int("pc", pc), zap.Error(err))
		}
	}()

	in.state = StateRunning
	for ; pc < n; pc++ {
		ins := fetch(text, pc)
		op := ins.Op()
		dst := ins.Dst()

		switch ins.Class() {
		case ClassAlu64, ClassAlu:
			if f := alu(&r, ins); f != OK {
				return 0, faultAt(f, pc, "%s", ins)
			}

		case ClassJmp:
			switch op {
			case OpExit:
				in.state = StateHalted
				return int64(r[0]), nil
			case OpCall:
				ret, err := in.call(ins.Uimm(), &r)
				if err != nil {
					return 0, fmt.Errorf("pc %d: %w", pc, err)
				}
				r[0] = ret
				continue
			}
			taken, ok := jumpCond(op, r[dst], operand(&r, ins))
			if !ok {
				return 0, faultAt(IllegalInstruction, pc, "opcode 0x%02x", op)
			}
			if taken {
				if err := in.budget.Consume(); err != nil {
					return 0, faultAt(OutOfBranches, pc, "limit %d", in.budget.Limit())
				}
				pc += int(ins.Off())
			}

		case ClassLd:
			var base uint64
			switch op {
			case OpLddw:
			case OpLddwd:
				base = VaddrData
			case OpLddwr:
				base = VaddrRodata
			default:
				return 0, faultAt(IllegalInstruction, pc, "opcode 0x%02x", op)
			}
			imm := uint64(ins.Uimm()) | uint64(fetch(text, pc+1).Uimm())<<32
			r[dst] = base + imm
			pc++

		case ClassLdx:
			size, ok := accessSize(op)
			if !ok {
				return 0, faultAt(IllegalInstruction, pc, "opcode 0x%02x", op)
			}
			addr, ok := effectiveAddr(r[ins.Src()], ins.Off())
			if !ok {
				return 0, faultAt(IllegalMemory, pc, "address r%d%+d wraps", ins.Src(), ins.Off())
			}
			v, err := in.loadSized(addr, size)
			if err != nil {
				return 0, fmt.Errorf("pc %d: %w", pc, err)
			}
			r[dst] = v

		case ClassSt, ClassStx:
			size, ok := accessSize(op)
			if !ok {
				return 0, faultAt(IllegalInstruction, pc, "opcode 0x%02x", op)
			}
			addr, ok := effectiveAddr(r[dst], ins.Off())
			if !ok {
				return 0, faultAt(IllegalMemory, pc, "address r%d%+d wraps", dst, ins.Off())
			}
			v := uint64(int64(ins.Imm()))
			if ins.Class() == ClassStx {
				v = r[ins.Src()]
			}
			if err := in.storeSized(addr, size, v); err != nil {
				return 0, fmt.Errorf("pc %d: %w", pc, err)
			}

		default:
			return 0, faultAt(IllegalInstruction, pc, "opcode 0x%02x", op)
		}
	}

	// Fell off the end: NoReturn, or a jump targeting the last slot.
	in.state = StateHalted
	return int64(r[0]), nil
}

// call dispatches a syscall with r1-r5 as arguments.
func (in *Instance) call(code uint32, r *[NumRegisters]uint64) (uint64, error) {
	sc, ok := in.syscalls(code)
	if !ok {
		return 0, fmt.Errorf("%w: unknown syscall 0x%x", IllegalCall, code)
	}
	return sc.Invoke(in, r[1], r[2], r[3], r[4], r[5])
}

// operand returns the source operand: the src register when the X bit is
// set, otherwise the sign-extended immediate.
func operand(r *[NumRegisters]uint64, ins Instruction) uint64 {
	if ins.Op()&srcMask == SrcX {
		return r[ins.Src()]
	}
	return uint64(int64(ins.Imm()))
}

// alu applies an arithmetic instruction to r. ALU32 computes in 64 bits and
// keeps the low 32, zero-extended. Shift amounts are taken modulo 64.
func alu(r *[NumRegisters]uint64, ins Instruction) Fault {
	dst := &r[ins.Dst()]
	src := operand(r, ins)

	switch ins.Op() & opMask {
	case AluAdd:
		*dst += src
	case AluSub:
		*dst -= src
	case AluMul:
		*dst *= src
	case AluDiv:
		if src == 0 {
			return IllegalDivision
		}
		*dst /= src
	case AluOr:
		*dst |= src
	case AluAnd:
		*dst &= src
	case AluLsh:
		*dst <<= src & 63
	case AluRsh:
		*dst >>= src & 63
	case AluNeg:
		*dst = -*dst
	case AluMod:
		if src == 0 {
			return IllegalDivision
		}
		*dst %= src
	case AluXor:
		*dst ^= src
	case AluMov:
		*dst = src
	case AluArsh:
		*dst = uint64(int64(*dst) >> (src & 63))
	default:
		return IllegalInstruction
	}

	if ins.Class() == ClassAlu {
		*dst &= 0xFFFFFFFF
	}
	return OK
}

// jumpCond evaluates a conditional jump. ok is false for opcodes that are
// not branches.
func jumpCond(op uint8, dst, src uint64) (taken, ok bool) {
	switch op & opMask {
	case JmpJa:
		return true, true
	case JmpJeq:
		return dst == src, true
	case JmpJgt:
		return dst > src, true
	case JmpJge:
		return dst >= src, true
	case JmpJset:
		return dst&src != 0, true
	case JmpJne:
		return dst != src, true
	case JmpJsgt:
		return int64(dst) > int64(src), true
	case JmpJsge:
		return int64(dst) >= int64(src), true
	case JmpJlt:
		return dst < src, true
	case JmpJle:
		return dst <= src, true
	case JmpJslt:
		return int64(dst) < int64(src), true
	case JmpJsle:
		return int64(dst) <= int64(src), true
	}
	return false, false
}

// accessSize decodes the width of a load or store opcode.
func accessSize(op uint8) (uint64, bool) {
	if op&0xe0 != ModeMem {
		return 0, false
	}
	switch op & 0x18 {
	case SizeW:
		return 4, true
	case SizeH:
		return 2, true
	case SizeB:
		return 1, true
	default:
		return 8, true
	}
}

// effectiveAddr computes base+off, reporting false if the sum wraps.
func effectiveAddr(base uint64, off int16) (uint64, bool) {
	if off >= 0 {
		addr := base + uint64(off)
		return addr, addr >= base
	}
	d := uint64(-int64(off))
	return base - d, base >= d
}
