package vm

import (
	"errors"
	"testing"

	"github.com/fortiblox/femtovm/pkg/container"
)

func TestVerify(t *testing.T) {
	exit := Encode(OpExit, 0, 0, 0, 0)

	tests := []struct {
		name  string
		text  []byte
		fault Fault
	}{
		{"empty text", nil, IllegalLength},
		{"partial slot", Assemble(exit)[:4], IllegalLength},
		{"trailing bytes", append(Assemble(exit), 0, 0, 0, 0), IllegalLength},
		{"dst register 11", Assemble(Encode(OpMov64Imm, 11, 0, 0, 0), exit), IllegalRegister},
		{"src register 15", Assemble(Encode(OpMov64Reg, 0, 15, 0, 0), exit), IllegalRegister},
		{"jump past end", Assemble(Encode(OpJa, 0, 0, 5, 0), exit), IllegalJump},
		{"jump before start", Assemble(Encode(OpJa, 0, 0, -2, 0), exit), IllegalJump},
		{"jump one before start", Assemble(Encode(OpJa, 0, 0, -1, 0), exit), IllegalJump},
		{"jump target at end", Assemble(Encode(OpJeqImm, 1, 0, 2, 0), exit), IllegalJump},
		{"jump into lddw", Assemble(prog(Encode(OpJa, 0, 0, 1, 0), lddw(OpLddw, 0, 1), exit)...), IllegalJump},
		{"lddw in final slot", Assemble(exit, Encode(OpLddw, 0, 0, 0, 0)), IllegalInstruction},
		{"unknown call", Assemble(Encode(OpCall, 0, 0, 0, 99), exit), IllegalCall},
		{"no exit", Assemble(Encode(OpMov64Imm, 0, 0, 0, 0)), NoReturn},
		{"lddw high slot last", Assemble(lddw(OpLddw, 0, 0)...), NoReturn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInstance(t, DefaultConfig(), container.Spec{Text: tt.text})
			err := in.Verify()
			if !IsFault(err, tt.fault) {
				t.Errorf("Verify = %v, want %s", err, tt.fault.Name())
			}
			if in.Flags()&FlagPreflightDone != 0 {
				t.Error("preflight flag set after failure")
			}
			if _, err := in.Execute(0); !IsFault(err, tt.fault) {
				t.Errorf("Execute = %v, want %s", err, tt.fault.Name())
			}
			if in.State() != StateFaulted {
				t.Errorf("State = %s, want faulted", in.State())
			}
		})
	}
}

func TestVerifyAccepts(t *testing.T) {
	exit := Encode(OpExit, 0, 0, 0, 0)
	programs := map[string][]uint64{
		"single exit":        {exit},
		"jump to last":       {Encode(OpJa, 0, 0, 0, 0), exit},
		"jump over lddw":     prog(Encode(OpJa, 0, 0, 2, 0), lddw(OpLddw, 0, 1), exit),
		"backward jump":      {Encode(OpMov64Imm, 0, 0, 0, 0), Encode(OpJeqImm, 0, 0, -1, 1), exit},
		"jump to first":      {Encode(OpMov64Imm, 0, 0, 0, 0), Encode(OpMov64Imm, 0, 0, 0, 0), Encode(OpJeqImm, 0, 0, -2, 1), exit},
		"target last slot":   {Encode(OpJeqImm, 1, 0, 1, 0), exit},
		"exit not last slot": {exit, Encode(OpMov64Imm, 0, 0, 0, 0), exit},
	}
	for name, p := range programs {
		t.Run(name, func(t *testing.T) {
			in := newInstance(t, DefaultConfig(), container.Spec{Text: Assemble(p...)})
			if err := in.Verify(); err != nil {
				t.Errorf("Verify failed: %v", err)
			}
		})
	}
}

func TestVerifyNoReturnFlag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoReturn = true
	in := newInstance(t, cfg, container.Spec{Text: Assemble(Encode(OpMov64Imm, 0, 0, 0, 0))})
	if err := in.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	lookups := 0
	cfg := DefaultConfig()
	cfg.Syscalls = func(code uint32) (Syscall, bool) {
		lookups++
		return SyscallFunc(func(VM, uint64, uint64, uint64, uint64, uint64) (uint64, error) {
			return 0, nil
		}), code == 7
	}
	in := newInstance(t, cfg, container.Spec{Text: Assemble(
		Encode(OpCall, 0, 0, 0, 7),
		Encode(OpCall, 0, 0, 0, 7),
		Encode(OpExit, 0, 0, 0, 0),
	)})

	for i := 0; i < 2; i++ {
		if err := in.Verify(); err != nil {
			t.Fatalf("Verify %d failed: %v", i, err)
		}
	}
	if lookups != 2 {
		t.Errorf("registry consulted %d times, want 2", lookups)
	}
	if in.Flags()&FlagPreflightDone == 0 {
		t.Error("preflight flag not set")
	}
}

func TestVerifyWithoutImage(t *testing.T) {
	in := New(nil, nil, DefaultConfig())
	if err := in.Verify(); !errors.Is(err, ErrNotSetup) {
		t.Errorf("Verify = %v, want ErrNotSetup", err)
	}
}
