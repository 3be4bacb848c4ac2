package syscall

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/femtovm/pkg/vm"
)

// Limits on strings read from program memory.
const (
	MaxFormatLen = 256
	MaxStringArg = 256
)

var errAddressWrap = errors.New("string runs past the end of the address space")

// registerFormat registers printf.
func (r *Registry) registerFormat() {
	// printf(fmt, a1, a2, a3, a4): r0 is the number of bytes written.
	r.register(CodePrintf, "bpf_printf", func(v vm.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		format, err := readCString(v, r1, MaxFormatLen)
		if err != nil {
			return reject("bpf_printf", err)
		}
		s, err := Format(v, format, r2, r3, r4, r5)
		if err != nil {
			return reject("bpf_printf", err)
		}

		r.outMu.Lock()
		n, err := r.out.Write([]byte(s))
		r.outMu.Unlock()
		if err != nil {
			return 0, fmt.Errorf("printf output: %w", err)
		}
		return uint64(n), nil
	})
}

// readCString reads a NUL-terminated string of at most max bytes. Longer
// strings are truncated.
func readCString(v vm.VM, addr uint64, max int) (string, error) {
	var b strings.Builder
	for i := 0; i < max; i++ {
		a := addr + uint64(i)
		if a < addr {
			return "", errAddressWrap
		}
		c, err := v.Read8(a)
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// Format renders a C-style format string. It understands the conversions
// d i u x X o c s p and %, with flags, width, precision (including '*')
// and the h hh l ll z j t length modifiers. %s arguments are addresses in
// program memory. Missing arguments read as zero.
func Format(v vm.VM, format string, args ...uint64) (string, error) {
	var out strings.Builder
	next := 0
	arg := func() uint64 {
		if next >= len(args) {
			next++
			return 0
		}
		a := args[next]
		next++
		return a
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		start := i
		i++

		spec := []byte{'%'}
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			spec = append(spec, format[i])
			i++
		}
		spec, i = formatNumber(spec, format, i, arg)
		if i < len(format) && format[i] == '.' {
			i++
			if i < len(format) && format[i] == '*' {
				// A negative precision counts as omitted.
				if p := int32(arg()); p >= 0 {
					spec = strconv.AppendInt(append(spec, '.'), int64(p), 10)
				}
				i++
			} else {
				spec = append(spec, '.')
				spec, i = formatNumber(spec, format, i, arg)
			}
		}

		bits := 32
	length:
		for ; i < len(format); i++ {
			switch format[i] {
			case 'l', 'z', 'j', 't', 'q':
				bits = 64
			case 'h':
				if bits == 16 {
					bits = 8
				} else {
					bits = 16
				}
			default:
				break length
			}
		}
		if i >= len(format) {
			out.WriteString(format[start:])
			break
		}

		switch verb := format[i]; verb {
		case '%':
			out.WriteByte('%')
		case 'd', 'i':
			fmt.Fprintf(&out, string(spec)+"d", signed(arg(), bits))
		case 'u':
			fmt.Fprintf(&out, string(spec)+"d", unsigned(arg(), bits))
		case 'x', 'X', 'o':
			fmt.Fprintf(&out, string(spec)+string(verb), unsigned(arg(), bits))
		case 'c':
			fmt.Fprintf(&out, string(spec)+"c", rune(byte(arg())))
		case 's':
			s, err := readCString(v, arg(), MaxStringArg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&out, string(spec)+"s", s)
		case 'p':
			fmt.Fprintf(&out, "0x%x", arg())
		default:
			out.WriteString(format[start : i+1])
		}
	}
	return out.String(), nil
}

// formatNumber copies a width or precision at format[i:] into spec. '*'
// takes the value from the next argument.
func formatNumber(spec []byte, format string, i int, arg func() uint64) ([]byte, int) {
	if i < len(format) && format[i] == '*' {
		return strconv.AppendInt(spec, int64(int32(arg())), 10), i + 1
	}
	for i < len(format) && format[i] >= '0' && format[i] <= '9' {
		spec = append(spec, format[i])
		i++
	}
	return spec, i
}

func signed(v uint64, bits int) int64 {
	switch bits {
	case 64:
		return int64(v)
	case 16:
		return int64(int16(v))
	case 8:
		return int64(int8(v))
	}
	return int64(int32(v))
}

func unsigned(v uint64, bits int) uint64 {
	switch bits {
	case 64:
		return v
	case 16:
		return uint64(uint16(v))
	case 8:
		return uint64(uint8(v))
	}
	return uint64(uint32(v))
}
