package jamlet

// Registers holds this jamlet's lane-local share of every vreg: the
// bytes the jamlet-to-jamlet Load/Store protocols and cache-line
// fill/flush actually move. Per-vreg hazard tracking (write/read tokens)
// lives one level up in the kamlet's register file view, since tokens are
// a per-kamlet (not per-jamlet) concept — this type is pure storage.
type Registers struct {
	bytesPerVReg int
	regs         [][]byte
}

// NewRegisters returns nVRegs zeroed registers, each bytesPerVReg long.
func NewRegisters(nVRegs, bytesPerVReg int) *Registers {
	regs := make([][]byte, nVRegs)
	for i := range regs {
		regs[i] = make([]byte, bytesPerVReg)
	}
	return &Registers{bytesPerVReg: bytesPerVReg, regs: regs}
}

// ReadBytes returns a copy of n bytes from vreg v starting at offset.
func (r *Registers) ReadBytes(v, offset, n int) []byte {
	out := make([]byte, n)
	copy(out, r.regs[v][offset:offset+n])
	return out
}

// WriteBytes copies data into vreg v starting at offset.
func (r *Registers) WriteBytes(v, offset int, data []byte) {
	copy(r.regs[v][offset:], data)
}
