package lamlet

import "github.com/sarchlab/zamlet/addr"

// OpHandle tracks a vload/vstore-family call whose element witems
// complete asynchronously (a cache hit resolves on the kamlet Pump after
// its admission, a miss only once the line fill lands). Callers poll Done() — vload/vstore never blocks the caller's
// goroutine, matching this module's Pump-driven, non-blocking convention.
type OpHandle struct {
	remaining int
	result    addr.VectorOpResult
	done      bool
}

// Done reports whether every element of the op has resolved.
func (h *OpHandle) Done() bool { return h.done }

// Result is only meaningful once Done() is true.
func (h *OpHandle) Result() addr.VectorOpResult { return h.result }

func newOpHandle() *OpHandle {
	h := &OpHandle{done: true}
	return h
}

func (h *OpHandle) add(n int) {
	if n <= 0 {
		return
	}
	if h.done {
		h.done = false
	}
	h.remaining += n
}

func (h *OpHandle) elementDone(fault addr.TLBFaultType, elemIndex int) {
	if fault != addr.FaultNone && h.result.FaultType == addr.FaultNone {
		h.result.FaultType = fault
		idx := elemIndex
		h.result.ElementIndex = &idx
	}
	h.remaining--
	if h.remaining <= 0 {
		h.done = true
	}
}

// regLocation maps vreg element elemIndex (width ew bits, word order wo)
// to the (kamlet, jamlet-in-kamlet, vreg number, byte offset) it lives at
// in the register file, independent of whatever memory address (if any)
// backs it — scalar-resident vector elements still need a home in the
// register file. Reimplements addr's logical/physical vline math using
// only its exported WvIndex<->(k,j) conversion, since LogicalVLineAddress
// itself can't be constructed outside package addr without a live TLB
// mapping.
func (l *Lamlet) regLocation(regBase, elemIndex, ew int, wo addr.WordOrder) (kIndex, jInKIndex, vreg, offsetBytes int, err error) {
	vlineBits := l.params.VlineBytes() * 8
	elementsPerVline := vlineBits / ew
	vlineIndex := elemIndex / elementsPerVline
	elemInVline := elemIndex % elementsPerVline

	wordBits := l.params.WordBytes * 8
	jInL := l.params.JInL()
	physBit := (elemInVline%jInL)*wordBits + (elemInVline/jInL)*ew
	vwIndex := physBit / wordBits
	bitInWord := physBit % wordBits

	kIndex, jInKIndex, err = addr.VwIndexToKIndices(l.params, wo, vwIndex)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return kIndex, jInKIndex, regBase + vlineIndex, bitInWord / 8, nil
}

// VLoad dispatches a vload of nElements elements (elementWidth bits each,
// starting at element firstIndex of the overall instruction's index
// space) from gAddr into vector register regBase (and its successive
// vline registers, for multi-vline accesses), per the vrf ordering
// wordOrder the destination registers are given. Ported from
// lamlet.py's Lamlet.vload/vloadstore.
func (l *Lamlet) VLoad(regBase int, gAddr addr.GlobalAddress, elementWidth, nElements, firstIndex int, wordOrder addr.WordOrder) *OpHandle {
	return l.vloadstore(regBase, gAddr, elementWidth, nElements, firstIndex, wordOrder, false, nil)
}

// VStore is VLoad's store counterpart.
func (l *Lamlet) VStore(regBase int, gAddr addr.GlobalAddress, elementWidth, nElements, firstIndex int, wordOrder addr.WordOrder) *OpHandle {
	return l.vloadstore(regBase, gAddr, elementWidth, nElements, firstIndex, wordOrder, true, nil)
}

// VLoadMasked/VStoreMasked are VLoad/VStore with an explicit mask_reg: mask
// is indexed from 0 (not firstIndex), one bool per element of this call; a
// false entry skips that element entirely rather than dispatching it — a
// masked-off load leaves the destination register element untouched, a
// masked-off store leaves the destination memory element untouched. A nil
// or short mask treats every element beyond its length as active, per
// spec.md's vload/vstore table listing mask_reg as optional.
func (l *Lamlet) VLoadMasked(regBase int, gAddr addr.GlobalAddress, elementWidth, nElements, firstIndex int, wordOrder addr.WordOrder, mask []bool) *OpHandle {
	return l.vloadstore(regBase, gAddr, elementWidth, nElements, firstIndex, wordOrder, false, mask)
}

// VStoreMasked is VStore's masked counterpart.
func (l *Lamlet) VStoreMasked(regBase int, gAddr addr.GlobalAddress, elementWidth, nElements, firstIndex int, wordOrder addr.WordOrder, mask []bool) *OpHandle {
	return l.vloadstore(regBase, gAddr, elementWidth, nElements, firstIndex, wordOrder, true, mask)
}

func maskActive(mask []bool, i int) bool {
	return mask == nil || i >= len(mask) || mask[i]
}

func (l *Lamlet) vloadstore(regBase int, gAddr addr.GlobalAddress, ew, nElements, firstIndex int, wo addr.WordOrder, isStore bool, mask []bool) *OpHandle {
	sections := l.GetMemorySplit(gAddr, ew, nElements, firstIndex)
	handle := newOpHandle()
	eb := uint64(ew / 8)

	for _, sec := range sections {
		sec := sec
		if sec.IsPartialElement {
			handle.add(1)
			l.dispatchPartialElement(sec, gAddr, ew, regBase, wo, isStore, handle)
			continue
		}
		nElem := int((sec.EndAddress - sec.StartAddress) / eb)
		if sec.IsVPU {
			for i := 0; i < nElem; i++ {
				elemIndex := sec.StartIndex + i
				if !maskActive(mask, elemIndex-firstIndex) {
					handle.add(1)
					handle.elementDone(addr.FaultNone, elemIndex)
					continue
				}
				ident, ok := l.getInstrIdent(1)
				if !ok {
					// Ident ring exhausted: in the full architecture the
					// dispatcher would stall until one frees. This module
					// does not yet model that stall (see DESIGN.md); the
					// element is simply skipped rather than corrupting
					// another element's tag.
					handle.add(1)
					handle.elementDone(addr.FaultNone, elemIndex)
					continue
				}
				handle.add(1)
				capturedIdx := elemIndex
				fault, err := l.dispatchElement(gAddr, elemIndex, ew, ident, regBase, isStore, func() {
					handle.elementDone(addr.FaultNone, capturedIdx)
				})
				if err != nil || fault != addr.FaultNone {
					handle.elementDone(fault, capturedIdx)
				}
			}
		} else {
			handle.add(1)
			l.dispatchScalarSection(sec, gAddr, ew, regBase, wo, isStore, handle, mask, firstIndex)
		}
	}
	return handle
}

// dispatchScalarSection moves a whole-elements run that lives in scalar
// memory directly to/from the register file: scalar memory has no cache
// line to wait on, so this resolves within the same call. Masked-off
// elements are skipped: neither the register nor scalar memory is touched
// at that position.
func (l *Lamlet) dispatchScalarSection(sec SectionInfo, gAddr addr.GlobalAddress, ew, regBase int, wo addr.WordOrder, isStore bool, handle *OpHandle, mask []bool, firstIndex int) {
	eb := uint64(ew / 8)
	nElem := int((sec.EndAddress - sec.StartAddress) / eb)
	for i := 0; i < nElem; i++ {
		elemIndex := sec.StartIndex + i
		if !maskActive(mask, elemIndex-firstIndex) {
			continue
		}
		elemAddr := sec.StartAddress + uint64(i)*eb
		kIndex, jInKIndex, vreg, off, err := l.regLocation(regBase, elemIndex, ew, wo)
		if err != nil {
			continue
		}
		jam := l.kamlets[kIndex].Jamlet(jInKIndex)
		if isStore {
			l.writeScalarBytes(elemAddr, jam.Registers().ReadBytes(vreg, off, int(eb)))
		} else {
			jam.Registers().WriteBytes(vreg, off, l.scalar.GetBytes(elemAddr, int(eb)))
		}
	}
	handle.elementDone(addr.FaultNone, sec.StartIndex)
}

// dispatchPartialElement handles a section that is less than one whole
// element: at most eb-1 bytes, the tail or head of an element whose
// other half lives across a page or lamlet-cache-line boundary. Resolves
// synchronously regardless of VPU/scalar residency, matching
// lamlet.py's vload_scalar_partial/vstore_scalar_partial and the
// equivalent byte/word-masked VPU kinstr path — both are simple byte
// copies once the destination is known, with no cache-fill wait modeled
// for the VPU case (see DESIGN.md: partial-element accesses are assumed
// to land on an already-resident line, since the whole-element section
// immediately adjacent to them, if any, drove the fill already).
func (l *Lamlet) dispatchPartialElement(sec SectionInfo, gAddr addr.GlobalAddress, ew, regBase int, wo addr.WordOrder, isStore bool, handle *OpHandle) {
	eb := uint64(ew / 8)
	elemBase := gAddr.Addr() + uint64(sec.StartIndex)*eb
	byteOffset := int(sec.StartAddress - elemBase)
	n := int(sec.EndAddress - sec.StartAddress)

	if !sec.IsVPU {
		if isStore {
			data := l.scalarPartialSource(regBase, sec.StartIndex, ew, wo, byteOffset, n)
			l.writeScalarBytes(sec.StartAddress, data)
		} else {
			kIndex, jInKIndex, vreg, off, err := l.regLocation(regBase, sec.StartIndex, ew, wo)
			if err == nil {
				jam := l.kamlets[kIndex].Jamlet(jInKIndex)
				jam.Registers().WriteBytes(vreg, off+byteOffset, l.scalar.GetBytes(sec.StartAddress, n))
			}
		}
		handle.elementDone(addr.FaultNone, sec.StartIndex)
		return
	}

	ea, fault := l.elementVPUAddr(gAddr, sec.StartIndex, ew, isStore)
	if fault != addr.FaultNone {
		handle.elementDone(fault, sec.StartIndex)
		return
	}
	logical := ea.ToLogicalVLineAddress()
	physical, err := logical.ToPhysicalVLineAddress()
	if err != nil {
		handle.elementDone(addr.FaultNone, sec.StartIndex)
		return
	}
	kmAddr, err := physical.ToKMAddr()
	if err != nil {
		handle.elementDone(addr.FaultNone, sec.StartIndex)
		return
	}
	k := l.kamlets[kmAddr.KIndex]
	jsAddr, err := kmAddr.ToJSAddr(k.Table())
	if err != nil {
		handle.elementDone(addr.FaultNone, sec.StartIndex)
		return
	}
	jam := k.Jamlet(kmAddr.JInKIndex)
	vreg, regOff := vlineRegAndOffset(regBase, logical, physical)
	if isStore {
		jam.SRAM().WriteBytes(jsAddr.Addr()+byteOffset, jam.Registers().ReadBytes(vreg, regOff+byteOffset, n))
	} else {
		jam.Registers().WriteBytes(vreg, regOff+byteOffset, jam.SRAM().ReadBytes(jsAddr.Addr()+byteOffset, n))
	}
	handle.elementDone(addr.FaultNone, sec.StartIndex)
}

func (l *Lamlet) scalarPartialSource(regBase, elemIndex, ew int, wo addr.WordOrder, byteOffset, n int) []byte {
	kIndex, jInKIndex, vreg, off, err := l.regLocation(regBase, elemIndex, ew, wo)
	if err != nil {
		return make([]byte, n)
	}
	jam := l.kamlets[kIndex].Jamlet(jInKIndex)
	return jam.Registers().ReadBytes(vreg, off+byteOffset, n)
}

// writeScalarBytes writes data into scalar memory starting at address. A
// write that starts at tohost_addr and is at least 8 bytes long hands the
// nonzero 8-byte tohost word to the HTIF handler; other writes touching
// tohost_addr do not.
func (l *Lamlet) writeScalarBytes(address uint64, data []byte) {
	l.scalar.SetBytes(address, data)
	l.checkTohost(address, uint64(len(data)))
}

func (l *Lamlet) checkTohost(address, n uint64) {
	th := l.params.TohostAddr
	if address > th || address+n < th+8 {
		return
	}
	if address == th && n >= 8 {
		val := bytesToUint64LE(l.scalar.GetBytes(th, 8))
		if val != 0 {
			l.handleTohost(val)
		}
	}
}

func bytesToUint64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// SetMemory writes data to a scalar address, checked for HTIF tohost
// traffic. Only scalar-resident byte writes take this path; VPU-resident
// writes go through VStore/the kinstr dispatch above.
func (l *Lamlet) SetMemory(address uint64, data []byte) {
	l.writeScalarBytes(address, data)
}

// GetMemory reads n scalar bytes starting at address.
func (l *Lamlet) GetMemory(address uint64, n int) []byte {
	return l.scalar.GetBytes(address, n)
}
