package addr

import (
	"fmt"

	"github.com/sarchlab/zamlet/params"
)

// SlotLocator is the minimal view a KMAddr->JSAddr conversion needs of a
// kamlet's cache table. It is defined here, not in the cache package, so
// addr has no import dependency on cache; cache.Table implements it.
type SlotLocator interface {
	// SlotForBlock returns the cache slot currently holding blockAddr
	// (memory_loc, i.e. a cache-line-aligned address divided by
	// cache_line_bytes) within kamlet kIndex, or ok=false if no slot holds
	// it.
	SlotForBlock(kIndex int, blockAddr uint64) (slot int, ok bool)
}

// GlobalAddress is a byte address in the flat logical address space a
// scalar program sees.
type GlobalAddress struct {
	bitAddr uint64
	p       params.LamletParams
}

// NewGlobalAddress constructs a GlobalAddress from a byte offset.
func NewGlobalAddress(p params.LamletParams, byteAddr uint64) GlobalAddress {
	return GlobalAddress{bitAddr: byteAddr * 8, p: p}
}

func (g GlobalAddress) addr() uint64 { return g.bitAddr / 8 }

// Addr returns the byte offset of the address.
func (g GlobalAddress) Addr() uint64 { return g.addr() }

// GetPage returns the page-aligned GlobalAddress containing g.
func (g GlobalAddress) GetPage() GlobalAddress {
	pageBytes := uint64(g.p.PageBytes)
	pageAddr := (g.addr() / pageBytes) * pageBytes
	return GlobalAddress{bitAddr: pageAddr * 8, p: g.p}
}

// ToVPUAddress translates g through tlb, producing the VPU-local address
// it maps to. ew is the element width the caller is accessing g with; the
// word order is inherited from how the containing page was mapped.
func (g GlobalAddress) ToVPUAddress(tlb *TLB, isWrite bool, ew int) (VPUAddress, TLBFaultType) {
	fault := tlb.CheckAccess(g, isWrite)
	if fault != FaultNone {
		return VPUAddress{}, fault
	}
	page := g.GetPage()
	info, err := tlb.GetPageInfo(page)
	if err != nil {
		return VPUAddress{}, FaultPage
	}
	if !info.Local.IsVPU() {
		return VPUAddress{}, FaultPage
	}
	offsetBits := g.bitAddr - info.Global.bitAddr
	localBits := uint64(info.Local.BitAddr) + offsetBits
	ordering := Ordering{WordOrder: info.Local.Ordering.WordOrder, EW: ew}
	return VPUAddress{bitAddr: localBits, ordering: ordering, p: g.p}, FaultNone
}

// VPUAddress is a bit address within the shared VPU-visible memory space,
// tagged with the Ordering an access through it should use.
type VPUAddress struct {
	bitAddr  uint64
	ordering Ordering
	p        params.LamletParams
}

func (v VPUAddress) addr() uint64 { return v.bitAddr / 8 }

// Addr returns the byte offset within VPU-local memory.
func (v VPUAddress) Addr() uint64 { return v.addr() }

// Ordering returns the word order / element width this address carries.
func (v VPUAddress) Ordering() Ordering { return v.ordering }

// ToLogicalVLineAddress splits v into a vline index and bit offset within
// that vline.
func (v VPUAddress) ToLogicalVLineAddress() LogicalVLineAddress {
	vlineBits := uint64(v.p.VlineBytes() * 8)
	return LogicalVLineAddress{
		VlineIndex: int(v.bitAddr / vlineBits),
		BitInVline: int(v.bitAddr % vlineBits),
		ordering:   v.ordering,
		p:          v.p,
	}
}

// LogicalVLineAddress names a bit within one logical vector line, before
// the jamlet-interleaving permutation that Ordering describes is applied.
type LogicalVLineAddress struct {
	VlineIndex int
	BitInVline int

	ordering Ordering
	p        params.LamletParams
}

// Ordering returns the word order / element width this address carries.
func (l LogicalVLineAddress) Ordering() Ordering { return l.ordering }

// ToVPUAddress is the inverse of VPUAddress.ToLogicalVLineAddress.
func (l LogicalVLineAddress) ToVPUAddress() VPUAddress {
	vlineBits := uint64(l.p.VlineBytes() * 8)
	return VPUAddress{
		bitAddr:  uint64(l.VlineIndex)*vlineBits + uint64(l.BitInVline),
		ordering: l.ordering,
		p:        l.p,
	}
}

// ToPhysicalVLineAddress applies the logical->physical element permutation:
// element_index = bit_addr/ew; physical_bit = (element_index mod j_in_l) *
// word_bits + (element_index div j_in_l) * ew + bit_in_element.
func (l LogicalVLineAddress) ToPhysicalVLineAddress() (PhysicalVLineAddress, error) {
	ew := l.ordering.EW
	if ew <= 0 {
		return PhysicalVLineAddress{}, fmt.Errorf("addr: element width must be positive, got %d", ew)
	}
	wordBits := l.p.WordBytes * 8
	jInL := l.p.JInL()

	elementIndex := l.BitInVline / ew
	bitInElement := l.BitInVline % ew
	physBit := (elementIndex%jInL)*wordBits + (elementIndex/jInL)*ew + bitInElement

	return PhysicalVLineAddress{
		VlineIndex: l.VlineIndex,
		VwIndex:    physBit / wordBits,
		BitInWord:  physBit % wordBits,
		ordering:   l.ordering,
		p:          l.p,
	}, nil
}

// PhysicalVLineAddress names a bit within a physical vector line: which
// jamlet-word (VwIndex) and which bit within that word.
type PhysicalVLineAddress struct {
	VlineIndex int
	VwIndex    int
	BitInWord  int

	ordering Ordering
	p        params.LamletParams
}

// Ordering returns the word order / element width this address carries.
func (pv PhysicalVLineAddress) Ordering() Ordering { return pv.ordering }

// ToLogicalVLineAddress is the inverse of
// LogicalVLineAddress.ToPhysicalVLineAddress.
func (pv PhysicalVLineAddress) ToLogicalVLineAddress() (LogicalVLineAddress, error) {
	ew := pv.ordering.EW
	if ew <= 0 {
		return LogicalVLineAddress{}, fmt.Errorf("addr: element width must be positive, got %d", ew)
	}
	wordBits := pv.p.WordBytes * 8
	jInL := pv.p.JInL()

	jamletWordIndex := pv.VwIndex
	elementWithinWord := pv.BitInWord / ew
	bitInElement := pv.BitInWord % ew
	elementIndex := elementWithinWord*jInL + jamletWordIndex
	bitInVline := elementIndex*ew + bitInElement

	return LogicalVLineAddress{
		VlineIndex: pv.VlineIndex,
		BitInVline: bitInVline,
		ordering:   pv.ordering,
		p:          pv.p,
	}, nil
}

// ToKMAddr maps pv's jamlet-word index to a (kamlet, jamlet-in-kamlet) pair
// via the word order's vw_index_to_k_indices mapping.
func (pv PhysicalVLineAddress) ToKMAddr() (KMAddr, error) {
	kIndex, jInKIndex, err := VwIndexToKIndices(pv.p, pv.ordering.WordOrder, pv.VwIndex)
	if err != nil {
		return KMAddr{}, err
	}
	return KMAddr{
		KIndex:     kIndex,
		VlineIndex: pv.VlineIndex,
		JInKIndex:  jInKIndex,
		BitInWord:  pv.BitInWord,
		p:          pv.p,
	}, nil
}

// KMAddr names a bit within one kamlet's share of k-memory: which vline,
// which jamlet-in-kamlet owns that vline's word, and which bit of the word.
type KMAddr struct {
	KIndex     int
	VlineIndex int
	JInKIndex  int
	BitInWord  int

	p params.LamletParams
}

// Addr returns the flat bit address within the kamlet's memory, with all
// j_in_k jamlets' shares of each vline interleaved: base = vline_index *
// j_in_k * word_bits; offset = j_in_k_index * word_bits + bit_in_word.
func (k KMAddr) Addr() uint64 {
	wordBits := uint64(k.p.WordBytes * 8)
	jInK := uint64(k.p.JInK())
	base := uint64(k.VlineIndex) * jInK * wordBits
	offset := uint64(k.JInKIndex)*wordBits + uint64(k.BitInWord)
	return base + offset
}

// BlockAddr returns the cache-line-aligned block address k falls in,
// measured in cache lines: the unit the cache table indexes slots by.
func (k KMAddr) BlockAddr() uint64 {
	byteAddr := k.Addr() / 8
	return byteAddr / uint64(k.p.CacheLineBytes)
}

// ToPhysicalVLineAddress is the inverse of
// PhysicalVLineAddress.ToKMAddr, given the word order the caller is using.
func (k KMAddr) ToPhysicalVLineAddress(ordering Ordering) (PhysicalVLineAddress, error) {
	jx, jy := KIndicesToJCoords(k.p, k.KIndex, k.JInKIndex)
	vwIndex, err := JCoordsToVwIndex(k.p, ordering.WordOrder, jx, jy)
	if err != nil {
		return PhysicalVLineAddress{}, err
	}
	return PhysicalVLineAddress{
		VlineIndex: k.VlineIndex,
		VwIndex:    vwIndex,
		BitInWord:  k.BitInWord,
		ordering:   ordering,
		p:          k.p,
	}, nil
}

// ToJSAddr resolves k to a byte address within one jamlet's private SRAM
// slice, via whichever cache slot currently holds its cache line:
// jamlet_sram_addr = slot*(cache_line_bytes/j_in_k) + vline_in_cache_line*
// word_bytes + offset_in_word.
func (k KMAddr) ToJSAddr(locator SlotLocator) (JSAddr, error) {
	slot, ok := locator.SlotForBlock(k.KIndex, k.BlockAddr())
	if !ok {
		return JSAddr{}, fmt.Errorf("addr: no cache slot holds kamlet %d block 0x%x", k.KIndex, k.BlockAddr())
	}
	perJamletBytes := k.p.CacheLineBytes / k.p.JInK()
	vlinesPerLine := k.p.CacheLineBytes / (k.p.JInK() * k.p.WordBytes)
	if vlinesPerLine == 0 {
		return JSAddr{}, fmt.Errorf("addr: cache_line_bytes too small for j_in_k*word_bytes")
	}
	vlineInCacheLine := k.VlineIndex % vlinesPerLine

	bitAddr := slot*perJamletBytes*8 + vlineInCacheLine*k.p.WordBytes*8 + k.BitInWord
	return JSAddr{KIndex: k.KIndex, JInKIndex: k.JInKIndex, bitAddr: bitAddr, p: k.p}, nil
}

// JSAddr is a bit address within one specific jamlet's SRAM.
type JSAddr struct {
	KIndex    int
	JInKIndex int

	bitAddr int
	p       params.LamletParams
}

// Addr returns the byte offset within the jamlet's SRAM.
func (j JSAddr) Addr() int { return j.bitAddr / 8 }

// RegAddr names one element of one vector register.
type RegAddr struct {
	VReg         int
	ElementIndex int
	EW           int
}
