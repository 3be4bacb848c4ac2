package container

// Spec describes a container image to assemble with Build.
type Spec struct {
	Version   uint32
	Flags     uint32
	Data      []byte
	BssLen    uint32
	Rodata    []byte
	Text      []byte
	Functions uint32
}

// Build assembles a container image from s.
func Build(s Spec) []byte {
	h := Header{
		Magic:     Magic,
		Version:   s.Version,
		Flags:     s.Flags,
		DataLen:   uint32(len(s.Data)),
		BssLen:    s.BssLen,
		RodataLen: uint32(len(s.Rodata)),
		TextLen:   uint32(len(s.Text)),
		Functions: s.Functions,
	}
	b := make([]byte, 0, HeaderSize+len(s.Data)+len(s.Rodata)+len(s.Text))
	b = h.Encode(b)
	b = append(b, s.Data...)
	b = append(b, s.Rodata...)
	b = append(b, s.Text...)
	return b
}
