package jamlet

// SRAM is one jamlet's slice of the kamlet's cache: cache_line_bytes /
// j_in_k bytes per slot, n_slots slots, flat-addressed.
type SRAM struct {
	bytes []byte
}

// NewSRAM returns a zeroed SRAM of the given size in bytes.
func NewSRAM(size int) *SRAM {
	return &SRAM{bytes: make([]byte, size)}
}

// ReadBytes returns a copy of n bytes starting at offset.
func (s *SRAM) ReadBytes(offset, n int) []byte {
	out := make([]byte, n)
	copy(out, s.bytes[offset:offset+n])
	return out
}

// WriteBytes copies data into the SRAM starting at offset.
func (s *SRAM) WriteBytes(offset int, data []byte) {
	copy(s.bytes[offset:], data)
}

// WriteBytesMasked writes only the bytes of data whose corresponding mask
// bit is set, leaving the rest of the SRAM unchanged. Bit i of mask
// gathers byte i of data.
func (s *SRAM) WriteBytesMasked(offset int, data []byte, mask uint64) {
	for i, b := range data {
		if mask&(1<<uint(i)) != 0 {
			s.bytes[offset+i] = b
		}
	}
}
