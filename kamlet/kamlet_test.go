package kamlet_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/cache"
	"github.com/sarchlab/zamlet/jamlet"
	"github.com/sarchlab/zamlet/kamlet"
	"github.com/sarchlab/zamlet/memlet"
	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/params"
)

func smallParams() params.LamletParams {
	p := params.Default()
	p.JCols, p.JRows, p.KCols, p.KRows = 2, 1, 1, 1
	p.CacheLineBytes = 32
	p.JamletSRAMBytes = p.CacheLineBytes / p.JInK()
	return p
}

func tick(m *mesh.Mesh) {
	m.Step()
	m.Commit()
}

var _ = Describe("Kamlet", func() {
	var (
		p       params.LamletParams
		m       *mesh.Mesh
		kPos    mesh.Coord
		mletPos mesh.Coord
		k       *kamlet.Kamlet
		mlet    *memlet.Memlet
	)

	BeforeEach(func() {
		p = smallParams()
		m = mesh.NewGridMesh(p, 2, 1)
		kPos = mesh.Coord{X: 0, Y: 0}
		mletPos = mesh.Coord{X: 1, Y: 0}
		k = kamlet.NewKamlet(p, 0, kPos, mletPos, m, p.WordBytes)
		mlet = memlet.NewMemlet(p, mletPos, m)
	})

	Describe("cache-line fill", func() {
		It("pulls a fresh line in through both jamlets and retires the witem", func() {
			var ident = 1
			w := &cache.Witem{Kind: cache.WaitingLoad, InstrIdent: ident, CacheIsRead: true}
			Expect(k.Table().AddWitem(w, 0x1000, true, false)).To(Succeed())

			var retired []*cache.Witem
			for i := 0; i < 10 && len(retired) == 0; i++ {
				retired = append(retired, k.Pump(uint64(i))...)
				mlet.Pump(uint64(i))
				tick(m)
			}

			Expect(retired).To(ConsistOf(w))
			Expect(w.Ready()).To(BeTrue())
			Expect(k.Table().SlotState(*w.CacheSlot)).To(Equal(cache.Shared))
		})
	})

	Describe("cross-kamlet jamlet-to-jamlet store", func() {
		It("dispatches the req/resp pair to the right jamlet via SvcJInK/ReqJInK", func() {
			p2 := smallParams()
			p2.JCols, p2.JRows = 1, 1
			p2.JamletSRAMBytes = p2.CacheLineBytes

			m2 := mesh.NewGridMesh(p2, 2, 1)
			aPos := mesh.Coord{X: 0, Y: 0}
			bPos := mesh.Coord{X: 1, Y: 0}
			a := kamlet.NewKamlet(p2, 0, aPos, bPos, m2, p2.WordBytes)
			b := kamlet.NewKamlet(p2, 1, bPos, aPos, m2, p2.WordBytes)

			ident := 7
			w := &cache.Witem{Kind: cache.WaitingStoreJ2JWords, InstrIdent: ident}
			Expect(b.AdmitJ2J(w, 0x3000, true, false,
				map[int]int{0: 0}, map[int]int{0: 4}, true)).To(Succeed())

			a.Jamlet(0).SRAM().WriteBytes(0, []byte{0xAA, 0xBB, 0xCC, 0xDD})
			a.Jamlet(0).StartJ2J(ident, mesh.StoreJ2JWordsReq, bPos, 0,
				[]jamlet.J2JTagSpec{{Tag: 0, LocalOff: 0, PeerOff: 0, NBytes: 4, Mask: 0xF}},
				func() bool { return true }, nil)

			for i := 0; i < 6; i++ {
				a.Pump(uint64(i))
				b.Pump(uint64(i))
				tick(m2)
			}

			Expect(b.Jamlet(0).SRAM().ReadBytes(0, 4)).To(Equal([]byte{0xAA, 0xBB, 0xCC, 0xDD}))
		})
	})
})
