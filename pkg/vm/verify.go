package vm

import "go.uber.org/zap"

// Verify runs the preflight checks over the text section. A successful
// result is remembered, so later calls return immediately.
//
// Checks, in slot order: register indices in range; double-width loads have
// a second slot; a jump's target (pc + offset) lies inside the text and the
// slot it lands on is not the second half of a double-width load; call
// immediates resolve in the syscall registry. Finally the last slot must be exit unless the
// instance allows falling off the end.
func (in *Instance) Verify() error {
	if in.flags&FlagPreflightDone != 0 {
		return nil
	}
	if in.image == nil {
		return ErrNotSetup
	}
	if err := in.verify(); err != nil {
		Logger().Debug("preflight rejected program", zap.Error(err))
		return err
	}
	in.flags |= FlagPreflightDone
	return nil
}

func (in *Instance) verify() error {
	text := in.image.Text()
	if len(text) == 0 || len(text)%InstructionSize != 0 {
		return faultAt(IllegalLength, 0, "text is %d bytes", len(text))
	}
	n := len(text) / InstructionSize

	second := make([]bool, n)
	type jump struct{ from, to int }
	var jumps []jump

	for pc := 0; pc < n; pc++ {
		ins := fetch(text, pc)
		op := ins.Op()
		if ins.Dst() >= NumRegisters || ins.Src() >= NumRegisters {
			return faultAt(IllegalRegister, pc, "dst=r%d src=r%d", ins.Dst(), ins.Src())
		}
		if isWide(op) {
			if pc+1 >= n {
				return faultAt(IllegalInstruction, pc, "double-width load in final slot")
			}
			second[pc+1] = true
			pc++
			continue
		}
		if ins.Class() != ClassJmp {
			continue
		}
		switch op {
		case OpCall:
			if _, ok := in.syscalls(ins.Uimm()); !ok {
				return faultAt(IllegalCall, pc, "unknown syscall 0x%x", ins.Uimm())
			}
		case OpExit:
		default:
			jumps = append(jumps, jump{from: pc, to: pc + int(ins.Off())})
		}
	}

	for _, j := range jumps {
		if j.to < 0 || j.to >= n {
			return faultAt(IllegalJump, j.from, "target %d outside %d slots", j.to, n)
		}
		if j.to+1 < n && second[j.to+1] {
			return faultAt(IllegalJump, j.from, "lands inside double-width load at %d", j.to+1)
		}
	}

	if in.flags&FlagNoReturn == 0 && fetch(text, n-1).Op() != OpExit {
		return faultAt(NoReturn, n-1, "last instruction is not exit")
	}
	return nil
}
