package vm

import (
	"testing"

	"github.com/fortiblox/femtovm/pkg/container"
)

func newInstance(t *testing.T, cfg Config, s container.Spec) *Instance {
	t.Helper()
	c, err := container.Parse(container.Build(s))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	in := New(c, nil, cfg)
	if err := in.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return in
}

func runProgram(t *testing.T, words ...uint64) (int64, error) {
	t.Helper()
	in := newInstance(t, DefaultConfig(), container.Spec{Text: Assemble(words...)})
	return in.Execute(0)
}

func lddw(op uint8, dst uint8, imm uint64) []uint64 {
	w := EncodeLddw(op, dst, imm)
	return w[:]
}

func prog(parts ...any) []uint64 {
	var out []uint64
	for _, p := range parts {
		switch v := p.(type) {
		case uint64:
			out = append(out, v)
		case []uint64:
			out = append(out, v...)
		}
	}
	return out
}
