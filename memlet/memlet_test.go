package memlet_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/memlet"
	"github.com/sarchlab/zamlet/params"
)

func smallParams() params.LamletParams {
	p := params.Default()
	p.JCols, p.JRows, p.KCols, p.KRows = 2, 1, 1, 1 // j_in_k=2
	p.CacheLineBytes = 64
	p.KamletMemoryBytes = 4096
	p.NCacheRequests = 4
	return p
}

// tick runs one full forwarding cycle: one hop of in-flight packets land.
func tick(m *mesh.Mesh) {
	m.Step()
	m.Commit()
}

var _ = Describe("Memlet", func() {
	var (
		p        params.LamletParams
		m        *mesh.Mesh
		reqPos   mesh.Coord
		memPos   mesh.Coord
		mlet     *memlet.Memlet
		readResp int
	)

	BeforeEach(func() {
		p = smallParams()
		m = mesh.NewGridMesh(p, 2, 1)
		reqPos = mesh.Coord{X: 0, Y: 0}
		memPos = mesh.Coord{X: 1, Y: 0}
		mlet = memlet.NewMemlet(p, memPos, m)
		readResp = mesh.Channel(mesh.ReadLineResp)
	})

	readLine := func(addr uint64, ident int) []byte {
		Expect(m.Inject(reqPos, mesh.Packet{
			Header: mesh.Header{Type: mesh.ReadLine, Address: addr, Ident: ident, SRAMAddr: 0x100},
			Dst:    memPos,
		})).To(BeTrue())
		m.Commit()
		tick(m) // request arrives at memlet's local buffer

		mlet.Pump(0)
		m.Commit() // responses staged onto the link back to reqPos
		tick(m)    // responses land in reqPos's local buffer

		jInK := p.JInK()
		shardBytes := p.CacheLineBytes / jInK
		out := make([]byte, p.CacheLineBytes)
		for j := 0; j < jInK; j++ {
			pkt, ok := m.Deliverable(reqPos, readResp).Pop()
			Expect(ok).To(BeTrue())
			Expect(pkt.Ident).To(Equal(ident))
			Expect(pkt.SRAMAddr).To(Equal(uint64(0x100)))
			copy(out[pkt.JInKIndex*shardBytes:], mesh.WordsToBytes(pkt.Body, p.WordBytes))
		}
		return out
	}

	It("yields the same cold-read bytes on repeated reads", func() {
		a := readLine(0x40, 1)
		b := readLine(0x40, 2)
		Expect(b).To(Equal(a))
	})

	It("yields different bytes at different cold addresses", func() {
		a := readLine(0x40, 1)
		b := readLine(0x80, 2)
		Expect(b).NotTo(Equal(a))
	})

	It("reassembles a WRITE_LINE from both jamlet shards and commits it", func() {
		jInK := p.JInK()
		shardBytes := p.CacheLineBytes / jInK
		shard0 := make([]byte, shardBytes)
		shard1 := make([]byte, shardBytes)
		for i := range shard0 {
			shard0[i] = byte(i + 1)
			shard1[i] = byte(200 + i)
		}

		ident := 11
		Expect(m.Inject(reqPos, mesh.Packet{
			Header: mesh.Header{Type: mesh.WriteLine, Address: 0x200, Ident: ident, JInKIndex: 0},
			Body:   mesh.BytesToWords(shard0, p.WordBytes),
			Dst:    memPos,
		})).To(BeTrue())
		Expect(m.Inject(reqPos, mesh.Packet{
			Header: mesh.Header{Type: mesh.WriteLine, Address: 0x200, Ident: ident, JInKIndex: 1},
			Body:   mesh.BytesToWords(shard1, p.WordBytes),
			Dst:    memPos,
		})).To(BeTrue())
		m.Commit()
		tick(m)

		mlet.Pump(0)
		m.Commit()
		tick(m)

		resp, ok := m.Deliverable(reqPos, mesh.Channel(mesh.WriteLineResp)).Pop()
		Expect(ok).To(BeTrue())
		Expect(resp.Ident).To(Equal(ident))

		got := readLine(0x200, 99)
		Expect(got[:shardBytes]).To(Equal(shard0))
		Expect(got[shardBytes:]).To(Equal(shard1))
	})

	It("runs WRITE_LINE_READ_LINE: writes then reads back, one response per jamlet", func() {
		jInK := p.JInK()
		shardBytes := p.CacheLineBytes / jInK
		shard0 := make([]byte, shardBytes)
		shard1 := make([]byte, shardBytes)
		for i := range shard0 {
			shard0[i] = byte(7)
			shard1[i] = byte(8)
		}

		ident := 21
		for j, shard := range [][]byte{shard0, shard1} {
			Expect(m.Inject(reqPos, mesh.Packet{
				Header: mesh.Header{
					Type: mesh.WriteLineReadLine, WriteAddr: 0x400, ReadAddr: 0x800,
					Ident: ident, JInKIndex: j, SRAMAddr: 0x10,
				},
				Body: mesh.BytesToWords(shard, p.WordBytes),
				Dst:  memPos,
			})).To(BeTrue())
		}
		m.Commit()
		tick(m)

		mlet.Pump(0)
		m.Commit()
		tick(m)

		seen := map[int]bool{}
		for j := 0; j < jInK; j++ {
			pkt, ok := m.Deliverable(reqPos, mesh.Channel(mesh.WriteLineReadLineResp)).Pop()
			Expect(ok).To(BeTrue())
			Expect(pkt.Ident).To(Equal(ident))
			Expect(pkt.SRAMAddr).To(Equal(uint64(0x10)))
			seen[pkt.JInKIndex] = true
		}
		Expect(seen).To(HaveLen(jInK))

		written := readLine(0x400, 30)
		Expect(written[:shardBytes]).To(Equal(shard0))
		Expect(written[shardBytes:]).To(Equal(shard1))
	})

	It("drops a WRITE_LINE_READ_LINE shard when the gather table is full", func() {
		mlet = memlet.NewMemlet(p, memPos, m, memlet.WithGatherSlots(1))

		// ident 1 arrives with only its first shard: holds the one slot open.
		Expect(m.Inject(reqPos, mesh.Packet{
			Header: mesh.Header{Type: mesh.WriteLineReadLine, Ident: 1, JInKIndex: 0, WriteAddr: 0x10, ReadAddr: 0x20},
			Body:   mesh.BytesToWords(make([]byte, p.CacheLineBytes/p.JInK()), p.WordBytes),
			Dst:    memPos,
		})).To(BeTrue())
		// ident 2's shard cannot get a slot.
		Expect(m.Inject(reqPos, mesh.Packet{
			Header: mesh.Header{Type: mesh.WriteLineReadLine, Ident: 2, JInKIndex: 0, WriteAddr: 0x30, ReadAddr: 0x40},
			Body:   mesh.BytesToWords(make([]byte, p.CacheLineBytes/p.JInK()), p.WordBytes),
			Dst:    memPos,
		})).To(BeTrue())
		m.Commit()
		tick(m)

		mlet.Pump(0)
		m.Commit()
		tick(m)

		pkt, ok := m.Deliverable(reqPos, mesh.Channel(mesh.WriteLineReadLineDrop)).Pop()
		Expect(ok).To(BeTrue())
		Expect(pkt.Ident).To(Equal(2))
	})
})
