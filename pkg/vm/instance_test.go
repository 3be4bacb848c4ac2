package vm

import (
	"errors"
	"testing"

	"github.com/fortiblox/femtovm/pkg/container"
)

func TestExecuteBeforeSetup(t *testing.T) {
	c := container.MustParse(container.Build(container.Spec{Text: Assemble(Encode(OpExit, 0, 0, 0, 0))}))
	in := New(c, nil, DefaultConfig())
	_, err := in.Execute(0)
	if !errors.Is(err, ErrNotSetup) {
		t.Errorf("Execute = %v, want ErrNotSetup", err)
	}
	if Code(err) != CodeNoMemory {
		t.Errorf("Code = %d, want %d", Code(err), CodeNoMemory)
	}
	if err := in.AddRegion("x", 0x10, nil, PermRead); !errors.Is(err, ErrNotSetup) {
		t.Errorf("AddRegion = %v, want ErrNotSetup", err)
	}
}

func TestSetupDataLimit(t *testing.T) {
	c := container.MustParse(container.Build(container.Spec{
		BssLen: 100,
		Text:   Assemble(Encode(OpExit, 0, 0, 0, 0)),
	}))
	cfg := DefaultConfig()
	cfg.MaxDataSize = 64
	in := New(c, nil, cfg)
	err := in.Setup()
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Setup = %v, want ErrNoMemory", err)
	}
	if Code(err) != CodeNoMemory {
		t.Errorf("Code = %d, want %d", Code(err), CodeNoMemory)
	}
	if in.Flags()&FlagSetupDone != 0 {
		t.Error("setup flag set after failure")
	}
}

func TestSetupRoundsDataLength(t *testing.T) {
	in := newInstance(t, DefaultConfig(), container.Spec{
		Data:   []byte{1, 2, 3},
		BssLen: 2,
		Text:   Assemble(Encode(OpExit, 0, 0, 0, 0)),
	})
	data := in.DataSection()
	if len(data) != 8 {
		t.Fatalf("data length = %d, want 8", len(data))
	}
	for i, b := range []byte{1, 2, 3, 0, 0, 0, 0, 0} {
		if data[i] != b {
			t.Errorf("data[%d] = %d, want %d", i, data[i], b)
		}
	}
}

func TestCallerStack(t *testing.T) {
	c := container.MustParse(container.Build(container.Spec{Text: Assemble(
		Encode(OpStb, 10, 0, -1, 0x5a),
		Encode(OpExit, 0, 0, 0, 0),
	)}))
	stack := make([]byte, 64)
	in := New(c, stack, DefaultConfig())
	if err := in.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := in.Execute(0); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if stack[63] != 0x5a {
		t.Errorf("stack[63] = 0x%x, want 0x5a", stack[63])
	}
}

func TestDestroyAndSetupAgain(t *testing.T) {
	in := newInstance(t, DefaultConfig(), container.Spec{
		Data: []byte{9, 0, 0, 0},
		Text: Assemble(prog(
			lddw(OpLddwd, 1, 0),
			Encode(OpLdxw, 0, 1, 0, 0),
			Encode(OpStw, 1, 0, 0, 1),
			Encode(OpExit, 0, 0, 0, 0),
		)...),
	})
	if err := in.LocalStore().Update(1, 2); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	r0, err := in.Execute(0)
	if err != nil || r0 != 9 {
		t.Fatalf("first run = %d, %v; want 9", r0, err)
	}
	if r0, _ = in.Execute(0); r0 != 1 {
		t.Errorf("second run = %d, want 1 (data persists between runs)", r0)
	}

	in.Destroy()
	if in.LocalStore() != nil {
		t.Error("local store survives Destroy")
	}
	if _, err := in.Execute(0); !errors.Is(err, ErrNotSetup) {
		t.Errorf("Execute after Destroy = %v, want ErrNotSetup", err)
	}

	if err := in.Setup(); err != nil {
		t.Fatalf("Setup after Destroy failed: %v", err)
	}
	if r0, _ = in.Execute(0); r0 != 9 {
		t.Errorf("run after re-setup = %d, want 9", r0)
	}
	if in.LocalStore().Len() != 0 {
		t.Errorf("local store has %d entries after re-setup, want 0", in.LocalStore().Len())
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{IllegalMemory, -2},
		{faultAt(IllegalJump, 3, "x"), -3},
		{ErrNoMemory, CodeNoMemory},
		{errors.New("other"), CodeHostError},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCodeName(t *testing.T) {
	tests := map[int]string{
		0:             "OK",
		-1:            "ILLEGAL_INSTRUCTION",
		-2:            "ILLEGAL_MEM",
		-8:            "OUT_OF_BRANCHES",
		-9:            "ILLEGAL_DIV",
		CodeNoMemory:  "NO_MEMORY",
		CodeHostError: "HOST_ERROR",
		-42:           "ERROR -42",
	}
	for code, want := range tests {
		if got := CodeName(code); got != want {
			t.Errorf("CodeName(%d) = %s, want %s", code, got, want)
		}
	}
}
