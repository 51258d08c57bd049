package addr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/addr"
	"github.com/sarchlab/zamlet/params"
)

// fakeLocator is a minimal addr.SlotLocator stub: every (kIndex, blockAddr)
// maps to a fixed slot, as if the cache line were always resident.
type fakeLocator struct {
	slot int
}

func (f fakeLocator) SlotForBlock(kIndex int, blockAddr uint64) (int, bool) {
	return f.slot, true
}

var _ = Describe("coordinate mappings", func() {
	p := params.Default() // k_cols=2, k_rows=1, j_cols=2, j_rows=1 -> j_in_l=4

	It("round-trips vw_index through j-coords under STANDARD order", func() {
		for vw := 0; vw < p.JInL(); vw++ {
			jx, jy, err := addr.VwIndexToJCoords(p, addr.Standard, vw)
			Expect(err).NotTo(HaveOccurred())
			back, err := addr.JCoordsToVwIndex(p, addr.Standard, jx, jy)
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(Equal(vw))
		}
	})

	It("round-trips vw_index through k-indices", func() {
		for vw := 0; vw < p.JInL(); vw++ {
			kIndex, jInKIndex, err := addr.VwIndexToKIndices(p, addr.Standard, vw)
			Expect(err).NotTo(HaveOccurred())
			back, err := addr.KIndicesToVwIndex(p, addr.Standard, kIndex, jInKIndex)
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(Equal(vw))
		}
	})

	It("rejects MOORE on a non-square grid", func() {
		_, _, err := addr.VwIndexToJCoords(p, addr.Moore, 0)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("address stack round trip", func() {
	p := params.Default()
	ordering := addr.Ordering{WordOrder: addr.Standard, EW: 32}

	It("is an involution from LogicalVLineAddress through PhysicalVLineAddress", func() {
		vlineBits := p.VlineBytes() * 8
		for bit := 0; bit < vlineBits; bit += ordering.EW {
			logical := addr.LogicalVLineAddress{VlineIndex: 2, BitInVline: bit}
			logical = withOrdering(logical, ordering, p)

			phys, err := logical.ToPhysicalVLineAddress()
			Expect(err).NotTo(HaveOccurred())

			back, err := phys.ToLogicalVLineAddress()
			Expect(err).NotTo(HaveOccurred())
			Expect(back.BitInVline).To(Equal(bit))
			Expect(back.VlineIndex).To(Equal(2))
		}
	})

	It("is an involution from PhysicalVLineAddress through KMAddr", func() {
		for vw := 0; vw < p.JInL(); vw++ {
			phys := addr.PhysicalVLineAddress{VlineIndex: 1, VwIndex: vw, BitInWord: 0}
			phys = withOrderingPhys(phys, ordering, p)

			km, err := phys.ToKMAddr()
			Expect(err).NotTo(HaveOccurred())

			back, err := km.ToPhysicalVLineAddress(ordering)
			Expect(err).NotTo(HaveOccurred())
			Expect(back.VwIndex).To(Equal(vw))
			Expect(back.VlineIndex).To(Equal(1))
		}
	})

	It("resolves a KMAddr to a JSAddr via a SlotLocator", func() {
		phys := addr.PhysicalVLineAddress{VlineIndex: 0, VwIndex: 1, BitInWord: 0}
		phys = withOrderingPhys(phys, ordering, p)
		km, err := phys.ToKMAddr()
		Expect(err).NotTo(HaveOccurred())

		js, err := km.ToJSAddr(fakeLocator{slot: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(js.KIndex).To(Equal(km.KIndex))
		Expect(js.JInKIndex).To(Equal(km.JInKIndex))

		perJamletBytes := p.CacheLineBytes / p.JInK()
		Expect(js.Addr()).To(Equal(3 * perJamletBytes))
	})
})

var _ = Describe("TLB", func() {
	p := params.Default()

	It("allocates and releases VPU memory", func() {
		tlb := addr.NewTLB(p)
		base := addr.NewGlobalAddress(p, 0x1000)
		Expect(tlb.AllocateMemory(base, p.PageBytes, addr.VPU, addr.Ordering{WordOrder: addr.Standard, EW: 32}, true, true)).To(Succeed())

		fault := tlb.CheckAccess(base, false)
		Expect(fault).To(Equal(addr.FaultNone))

		vpu, fault := base.ToVPUAddress(tlb, false, 32)
		Expect(fault).To(Equal(addr.FaultNone))
		Expect(vpu.Addr()).To(Equal(uint64(0)))

		Expect(tlb.ReleaseMemory(base, p.PageBytes)).To(Succeed())
		fault = tlb.CheckAccess(base, false)
		Expect(fault).To(Equal(addr.FaultPage))
	})

	It("faults on an unmapped address", func() {
		tlb := addr.NewTLB(p)
		unmapped := addr.NewGlobalAddress(p, 0xdead0000)
		Expect(tlb.CheckAccess(unmapped, false)).To(Equal(addr.FaultPage))
	})

	It("faults writes to a read-only page", func() {
		tlb := addr.NewTLB(p)
		base := addr.NewGlobalAddress(p, 0x8000)
		Expect(tlb.AllocateMemory(base, p.PageBytes, addr.VPU, addr.Ordering{WordOrder: addr.Standard, EW: 32}, true, false)).To(Succeed())
		Expect(tlb.CheckAccess(base, true)).To(Equal(addr.FaultWrite))
		Expect(tlb.CheckAccess(base, false)).To(Equal(addr.FaultNone))
	})

	It("tracks freshness per cache line and rejects double-clear", func() {
		tlb := addr.NewTLB(p)
		base := addr.NewGlobalAddress(p, 0x2000)
		Expect(tlb.AllocateMemory(base, p.PageBytes, addr.VPU, addr.Ordering{WordOrder: addr.Standard, EW: 32}, true, true)).To(Succeed())

		fresh, err := tlb.IsFresh(base)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())

		Expect(tlb.SetNotFresh(base)).To(Succeed())
		fresh, err = tlb.IsFresh(base)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeFalse())

		Expect(tlb.SetNotFresh(base)).To(HaveOccurred())
	})
})

// withOrdering and withOrderingPhys round the Ordering through the public
// conversion API, since LogicalVLineAddress/PhysicalVLineAddress carry their
// ordering unexported to keep it consistent with how they were produced.
func withOrdering(l addr.LogicalVLineAddress, ordering addr.Ordering, p params.LamletParams) addr.LogicalVLineAddress {
	global := addr.NewGlobalAddress(p, 0)
	tlb := addr.NewTLB(p)
	_ = tlb.AllocateMemory(global, p.PageBytes, addr.VPU, ordering, true, true)
	v, _ := global.ToVPUAddress(tlb, false, ordering.EW)
	lv := v.ToLogicalVLineAddress()
	lv.VlineIndex = l.VlineIndex
	lv.BitInVline = l.BitInVline
	return lv
}

func withOrderingPhys(pv addr.PhysicalVLineAddress, ordering addr.Ordering, p params.LamletParams) addr.PhysicalVLineAddress {
	l := addr.LogicalVLineAddress{VlineIndex: pv.VlineIndex, BitInVline: 0}
	l = withOrdering(l, ordering, p)
	phys, _ := l.ToPhysicalVLineAddress()
	phys.VwIndex = pv.VwIndex
	phys.BitInWord = pv.BitInWord
	return phys
}
