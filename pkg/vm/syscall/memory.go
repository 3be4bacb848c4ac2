package syscall

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/femtovm/pkg/store"
	"github.com/fortiblox/femtovm/pkg/vm"
)

var errNoLocalStore = errors.New("instance has no local store")

// registerMemory registers memcpy.
func (r *Registry) registerMemory() {
	// memcpy(dst, src, n): copies n bytes; overlapping ranges behave like memmove.
	r.register(CodeMemcpy, "bpf_memcpy", func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if r3 == 0 {
			return 0, nil
		}
		dst, err := v.Translate(r1, r3, vm.PermWrite)
		if err != nil {
			return reject("bpf_memcpy", err)
		}
		src, err := v.Translate(r2, r3, vm.PermRead)
		if err != nil {
			return reject("bpf_memcpy", err)
		}
		copy(dst, src)
		return 0, nil
	})
}

// registerStore registers the key/value syscalls.
func (r *Registry) registerStore() {
	for _, sc := range []struct {
		store, fetch uint32
		scope        store.Scope
	}{
		{CodeStoreGlobal, CodeFetchGlobal, store.Global},
		{CodeStoreLocal, CodeFetchLocal, store.Local},
	} {
		scope := sc.scope
		storeName := "bpf_store_" + scope.String()
		fetchName := "bpf_fetch_" + scope.String()

		// store(key, value)
		r.register(sc.store, storeName, func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
			s := r.storeFor(v, scope)
			if s == nil {
				return reject(storeName, errNoLocalStore)
			}
			if err := s.Update(uint32(r1), uint32(r2)); err != nil {
				return reject(storeName, err)
			}
			return 0, nil
		})

		// fetch(key, *value): the destination is validated before the store
		// is touched, so a bad pointer never creates an entry.
		r.register(sc.fetch, fetchName, func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
			s := r.storeFor(v, scope)
			if s == nil {
				return reject(fetchName, errNoLocalStore)
			}
			dst, err := v.Translate(r2, 4, vm.PermWrite)
			if err != nil {
				return reject(fetchName, err)
			}
			value, err := s.Fetch(uint32(r1))
			if err != nil {
				return reject(fetchName, err)
			}
			binary.LittleEndian.PutUint32(dst, value)
			return 0, nil
		})
	}
}

func (r *Registry) storeFor(v vm.VM, scope store.Scope) store.Store {
	if scope == store.Global {
		return r.globals
	}
	return v.LocalStore()
}

// registerTime registers now_ms.
func (r *Registry) registerTime() {
	r.register(CodeNowMs, "bpf_now_ms", func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		return uint64(uint32(r.clock().Milliseconds())), nil
	})
}
