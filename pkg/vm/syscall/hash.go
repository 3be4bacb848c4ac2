package syscall

import (
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/femtovm/pkg/vm"
)

// HashSize is the digest length written by the hashing syscalls.
const HashSize = 32

// registerHash registers the hashing syscalls. Both take (src, len, dst)
// and write a 32-byte digest at dst.
func (r *Registry) registerHash() {
	r.register(CodeBlake3, "bpf_blake3", func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		in, out, err := hashOperands(v, r1, r2, r3)
		if err != nil {
			return reject("bpf_blake3", err)
		}
		sum := blake3.Sum256(in)
		copy(out, sum[:])
		return 0, nil
	})

	r.register(CodeKeccak256, "bpf_keccak256", func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		in, out, err := hashOperands(v, r1, r2, r3)
		if err != nil {
			return reject("bpf_keccak256", err)
		}
		h := sha3.NewLegacyKeccak256()
		h.Write(in)
		copy(out, h.Sum(nil))
		return 0, nil
	})
}

func hashOperands(v vm.VM, src, n, dst uint64) (in, out []byte, err error) {
	if n > 0 {
		in, err = v.Translate(src, n, vm.PermRead)
		if err != nil {
			return nil, nil, err
		}
	}
	out, err = v.Translate(dst, HashSize, vm.PermWrite)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}
