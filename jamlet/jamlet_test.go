package jamlet_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/jamlet"
	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/params"
)

func smallParams() params.LamletParams {
	p := params.Default()
	p.JCols, p.JRows, p.KCols, p.KRows = 1, 1, 1, 1
	p.CacheLineBytes = 64
	return p
}

func tick(m *mesh.Mesh) {
	m.Step()
	m.Commit()
}

// pumpSolo drains every channel a lone jamlet at pos would receive if it
// were its kamlet's only lane (j_in_k=1, so JInKIndex/ReqJInK/SvcJInK are
// always 0) and routes each packet to j, mirroring what kamlet.Kamlet
// does for a real multi-jamlet kamlet.
func pumpSolo(j *jamlet.Jamlet, pos mesh.Coord, m *mesh.Mesh, cycle uint64) {
	for _, ch := range []int{
		mesh.Channel(mesh.ReadLineResp),
		mesh.Channel(mesh.LoadJ2JWordsReq),
		mesh.Channel(mesh.LoadJ2JWordsResp),
	} {
		buf := m.Deliverable(pos, ch)
		if buf == nil {
			continue
		}
		for {
			pkt, ok := buf.Front()
			if !ok {
				break
			}
			buf.Pop()
			j.Route(pkt)
		}
	}
	j.Pump(cycle)
}

// fakeNotifier records the calls a jamlet makes into its owning cache
// table when a fill/flush response lands.
type fakeNotifier struct {
	received []int // jInKIndex values from ReceiveCacheResponse
	cleared  []int
	sent     []int
}

func (f *fakeNotifier) ReceiveCacheResponse(ident, jInKIndex int) error {
	f.received = append(f.received, jInKIndex)
	return nil
}

func (f *fakeNotifier) ClearCacheRequestSent(ident, jInKIndex int) error {
	f.cleared = append(f.cleared, jInKIndex)
	return nil
}

func (f *fakeNotifier) MarkSent(ident, jInKIndex int) error {
	f.sent = append(f.sent, jInKIndex)
	return nil
}

// fakeLookup is a minimal WitemLookup a peer jamlet's j2j dst side
// resolves against: a single (ident, tag) either resolves immediately or
// only after allowAfter calls to Resolve.
type fakeLookup struct {
	ident, tag      int
	sramAddr, nByte int
	writable        bool
	allowAfter      int
	resolveCalls    int
	modifiedCalls   int
}

func (f *fakeLookup) Resolve(ident, tag int) (int, int, bool, bool) {
	if ident != f.ident || tag != f.tag {
		return 0, 0, false, false
	}
	f.resolveCalls++
	if f.resolveCalls <= f.allowAfter {
		return 0, 0, false, false
	}
	return f.sramAddr, f.nByte, f.writable, true
}

func (f *fakeLookup) MarkModified(ident, tag int) { f.modifiedCalls++ }

var _ = Describe("Jamlet", func() {
	var (
		p       params.LamletParams
		m       *mesh.Mesh
		aPos    mesh.Coord
		bPos    mesh.Coord
		wb      int
		notifyA *fakeNotifier
	)

	BeforeEach(func() {
		p = smallParams()
		m = mesh.NewGridMesh(p, 2, 1)
		aPos = mesh.Coord{X: 0, Y: 0}
		bPos = mesh.Coord{X: 1, Y: 0}
		wb = 8
		notifyA = &fakeNotifier{}
	})

	Describe("cache-line fill and flush", func() {
		It("writes a READ_LINE_RESP payload into SRAM and reports completion", func() {
			a := jamlet.NewJamlet(aPos, 0, m, 64, 4, 16, wb, jamlet.WithCacheNotifier(notifyA))

			body := mesh.BytesToWords([]byte{1, 2, 3, 4, 5, 6, 7, 8}, wb)
			Expect(m.Inject(bPos, mesh.Packet{
				Header: mesh.Header{Type: mesh.ReadLineResp, Ident: 7, SRAMAddr: 16},
				Body:   body,
				Dst:    aPos,
			})).To(BeTrue())
			m.Commit()
			tick(m)

			pumpSolo(a, aPos, m, 0)

			Expect(a.SRAM().ReadBytes(16, 8)).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
			Expect(notifyA.received).To(Equal([]int{0}))
		})

		It("clears the request-sent flag instead of reporting completion on a drop", func() {
			a := jamlet.NewJamlet(aPos, 0, m, 64, 4, 16, wb, jamlet.WithCacheNotifier(notifyA))

			Expect(m.Inject(bPos, mesh.Packet{
				Header: mesh.Header{Type: mesh.WriteLineReadLineDrop, Ident: 9},
				Dst:    aPos,
			})).To(BeTrue())
			m.Commit()
			tick(m)

			pumpSolo(a, aPos, m, 0)

			Expect(notifyA.cleared).To(Equal([]int{0}))
			Expect(notifyA.received).To(BeEmpty())
		})

		It("sends its own SRAM share as a WRITE_LINE_READ_LINE flush and marks it sent", func() {
			a := jamlet.NewJamlet(aPos, 1, m, 64, 4, 16, wb, jamlet.WithCacheNotifier(notifyA))
			a.SRAM().WriteBytes(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})

			a.SendLineFlush(mesh.WriteLineReadLine, 42, bPos, 0, 8, 0x1000, 0x2000)
			m.Commit()
			tick(m)

			buf := m.Deliverable(bPos, mesh.Channel(mesh.WriteLineReadLine))
			pkt, ok := buf.Pop()
			Expect(ok).To(BeTrue())
			Expect(pkt.Ident).To(Equal(42))
			Expect(pkt.WriteAddr).To(BeEquivalentTo(0x1000))
			Expect(pkt.ReadAddr).To(BeEquivalentTo(0x2000))
			Expect(pkt.JInKIndex).To(Equal(1))
			Expect(mesh.WordsToBytes(pkt.Body, wb)).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
			Expect(notifyA.sent).To(Equal([]int{1}))
		})
	})

	Describe("jamlet-to-jamlet Load", func() {
		It("pulls data from the peer once its witem resolves", func() {
			lookup := &fakeLookup{ident: 5, tag: 0, sramAddr: 32, nByte: 8, writable: true}
			b := jamlet.NewJamlet(bPos, 0, m, 64, 4, 16, wb, jamlet.WithWitemLookup(lookup))
			b.SRAM().WriteBytes(32, []byte{9, 8, 7, 6, 5, 4, 3, 2})

			a := jamlet.NewJamlet(aPos, 0, m, 64, 4, 16, wb)
			var got []byte
			a.StartJ2J(5, mesh.LoadJ2JWordsReq, bPos, 0,
				[]jamlet.J2JTagSpec{{Tag: 0, LocalOff: 0, PeerOff: 32, NBytes: 8}},
				func() bool { return true },
				func(i int, data []byte) { got = data })

			for i := 0; i < 6; i++ {
				pumpSolo(a, aPos, m, uint64(i))
				pumpSolo(b, bPos, m, uint64(i))
				tick(m)
			}

			Expect(got).To(Equal([]byte{9, 8, 7, 6, 5, 4, 3, 2}))
		})
	})

	Describe("jamlet-to-jamlet Store", func() {
		It("pushes data to the peer's SRAM and marks it modified", func() {
			lookup := &fakeLookup{ident: 3, tag: 0, sramAddr: 40, nByte: 4, writable: true}
			b := jamlet.NewJamlet(bPos, 0, m, 64, 4, 16, wb, jamlet.WithWitemLookup(lookup))

			a := jamlet.NewJamlet(aPos, 0, m, 64, 4, 16, wb)
			a.SRAM().WriteBytes(0, []byte{0xAA, 0xBB, 0xCC, 0xDD})
			a.StartJ2J(3, mesh.StoreJ2JWordsReq, bPos, 0,
				[]jamlet.J2JTagSpec{{Tag: 0, LocalOff: 0, PeerOff: 40, NBytes: 4, Mask: 0xF}},
				func() bool { return true }, nil)

			for i := 0; i < 6; i++ {
				pumpSolo(a, aPos, m, uint64(i))
				pumpSolo(b, bPos, m, uint64(i))
				tick(m)
			}

			Expect(b.SRAM().ReadBytes(40, 4)).To(Equal([]byte{0xAA, 0xBB, 0xCC, 0xDD}))
			Expect(lookup.modifiedCalls).To(Equal(1))
		})

		It("drops and retries until the peer's witem resolves", func() {
			lookup := &fakeLookup{ident: 11, tag: 0, sramAddr: 0, nByte: 4, writable: true, allowAfter: 1}
			b := jamlet.NewJamlet(bPos, 0, m, 64, 4, 16, wb, jamlet.WithWitemLookup(lookup))

			a := jamlet.NewJamlet(aPos, 0, m, 64, 4, 16, wb)
			a.SRAM().WriteBytes(0, []byte{1, 1, 1, 1})
			a.StartJ2J(11, mesh.StoreJ2JWordsReq, bPos, 0,
				[]jamlet.J2JTagSpec{{Tag: 0, LocalOff: 0, PeerOff: 0, NBytes: 4, Mask: 0xF}},
				func() bool { return true }, nil)

			for i := 0; i < 12; i++ {
				pumpSolo(a, aPos, m, uint64(i))
				pumpSolo(b, bPos, m, uint64(i))
				tick(m)
			}

			Expect(lookup.resolveCalls).To(BeNumerically(">=", 2))
			Expect(b.SRAM().ReadBytes(0, 4)).To(Equal([]byte{1, 1, 1, 1}))
		})
	})
})
