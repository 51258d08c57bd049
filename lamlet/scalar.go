// Package lamlet implements the orchestration layer sitting above the
// kamlet/jamlet/mesh/memlet/syncnet subsystems: address-split vector
// load/store dispatch, ordered and unordered indexed memory operations,
// instr_ident/writeset_ident allocation, and the HTIF tohost/fromhost
// syscall shim a scalar program drives memory through.
package lamlet

// ScalarState is the non-VPU half of the address space: a flat byte-
// addressable memory a scalar program (outside this module's scope, per
// spec.md's Non-goals on RISC-V decode) reads and writes through the
// Lamlet. Modeled as a sparse map rather than a fixed-size slice, matching
// python/riscv_model/state.py's ScalarState.memory dict and memlet.dram's
// sparse backing.
type ScalarState struct {
	memory map[uint64]byte
}

// NewScalarState creates an empty scalar memory.
func NewScalarState() *ScalarState {
	return &ScalarState{memory: make(map[uint64]byte)}
}

// SetByte writes one byte at a scalar-local address.
func (s *ScalarState) SetByte(addr uint64, b byte) {
	s.memory[addr] = b
}

// GetByte reads one byte at a scalar-local address. Unwritten addresses
// read as zero, matching a freshly allocated page.
func (s *ScalarState) GetByte(addr uint64) byte {
	return s.memory[addr]
}

// SetBytes writes data starting at addr.
func (s *ScalarState) SetBytes(addr uint64, data []byte) {
	for i, b := range data {
		s.memory[addr+uint64(i)] = b
	}
}

// GetBytes reads n bytes starting at addr.
func (s *ScalarState) GetBytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = s.memory[addr+uint64(i)]
	}
	return out
}
