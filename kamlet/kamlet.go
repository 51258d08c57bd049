package kamlet

import (
	"github.com/sarchlab/zamlet/cache"
	"github.com/sarchlab/zamlet/jamlet"
	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/params"
)

// Kamlet owns one cache table, its j_in_k jamlets, the register file they
// share, and the j2j witem-lookup side table those jamlets' dst-side
// protocol handling resolves against.
//
// All of a kamlet's jamlets sit at the same mesh router position: the
// grid has one router per kamlet, not per jamlet (spec.md's wire format
// disambiguates a shared-position packet to one lane via JInKIndex, or
// ReqJInK/SvcJInK for jamlet-to-jamlet traffic). Kamlet is therefore the
// one that drains the shared inbound buffers and dispatches each packet
// to the jamlet it names, rather than jamlets independently racing each
// other to pop off a buffer they all share.
type Kamlet struct {
	p      params.LamletParams
	kIndex int
	pos    mesh.Coord // shared router position for every jamlet below
	memlet mesh.Coord

	m *mesh.Mesh

	table   *cache.Table
	jamlets []*jamlet.Jamlet
	regs    *KamletRegisterFile
	lookup  *j2jLookupTable

	requested map[int]bool // way -> a ReadLine/WriteLineReadLine is already in flight for it
	outbox    []mesh.Packet
}

// KamletOption configures a Kamlet at construction.
type KamletOption func(*Kamlet)

// WithTableOptions forwards opts to cache.NewTable, e.g. WithTracer.
func WithTableOptions(opts ...cache.TableOption) KamletOption {
	return func(k *Kamlet) {
		for _, opt := range opts {
			opt(k.table)
		}
	}
}

// NewKamlet builds kIndex's cache table and its j_in_k jamlets, wiring
// each jamlet's CacheNotifier to the table directly (cache.Table already
// satisfies jamlet.CacheNotifier) and its WitemLookup to this kamlet's
// j2j side table.
func NewKamlet(p params.LamletParams, kIndex int, pos, memletPos mesh.Coord, m *mesh.Mesh, wordBytes int, opts ...KamletOption) *Kamlet {
	k := &Kamlet{
		p:         p,
		kIndex:    kIndex,
		pos:       pos,
		memlet:    memletPos,
		m:         m,
		table:     cache.NewTable(p, kIndex),
		regs:      NewKamletRegisterFile(p.NVRegs),
		lookup:    newJ2JLookupTable(),
		requested: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(k)
	}

	jInK := p.JInK()
	sramBytes := p.CacheLineBytes / jInK * p.NSlots()
	bytesPerVReg := p.VlineBytes() / jInK
	k.jamlets = make([]*jamlet.Jamlet, jInK)
	for i := 0; i < jInK; i++ {
		k.jamlets[i] = jamlet.NewJamlet(pos, i, m, sramBytes, p.NVRegs, bytesPerVReg, wordBytes,
			jamlet.WithCacheNotifier(k.table),
			jamlet.WithWitemLookup(k.lookup))
	}
	return k
}

// Table exposes the owned cache table, e.g. so a lamlet can call AddWitem
// directly when dispatching a kinstr to this kamlet.
func (k *Kamlet) Table() *cache.Table { return k.table }

// Registers exposes the shared register file.
func (k *Kamlet) Registers() *KamletRegisterFile { return k.regs }

// Jamlet returns jamlet i (0 <= i < JInK) of this kamlet.
func (k *Kamlet) Jamlet(i int) *jamlet.Jamlet { return k.jamlets[i] }

// AdmitJ2J registers a j2j witem's SRAM layout with the lookup table so
// incoming jamlet-to-jamlet requests against its ident can resolve, then
// forwards to the table as an ordinary AddWitem.
func (k *Kamlet) AdmitJ2J(w *cache.Witem, blockAddr uint64, hasBlock, useReserved bool, sramAddr, nBytes map[int]int, writable bool) error {
	k.lookup.admit(w.InstrIdent, sramAddr, nBytes, writable)
	return k.table.AddWitem(w, blockAddr, hasBlock, useReserved)
}

// send injects pkt into the mesh at this kamlet's own position, falling
// back to the outbox if the first hop's buffer is full this cycle. Used
// for the ReadLine request a kamlet issues on its jamlets' behalf (a
// single packet services all j_in_k of them at once, per memlet's
// broadcast response).
func (k *Kamlet) send(pkt mesh.Packet) {
	pkt.Src = k.pos
	if !k.m.Inject(k.pos, pkt) {
		k.outbox = append(k.outbox, pkt)
	}
}

func (k *Kamlet) flushOutbox() {
	if len(k.outbox) == 0 {
		return
	}
	keep := k.outbox[:0]
	for _, pkt := range k.outbox {
		if !k.m.Inject(k.pos, pkt) {
			keep = append(keep, pkt)
		}
	}
	k.outbox = keep
}

// cacheRespChannel/j2jReqChannel/j2jRespChannel are the mesh channels
// this kamlet drains each cycle, bucketed by which header field
// disambiguates the packet's destination jamlet.
var (
	cacheRespChannel = mesh.Channel(mesh.ReadLineResp)
	j2jReqChannel    = mesh.Channel(mesh.LoadJ2JWordsReq)
	j2jRespChannel   = mesh.Channel(mesh.LoadJ2JWordsResp)
)

// drainChannel pops every packet off ch at this kamlet's position and
// hands it to resolve(pkt), which picks the destination jamlet index.
func (k *Kamlet) drainChannel(ch int, resolve func(mesh.Packet) int) {
	buf := k.m.Deliverable(k.pos, ch)
	if buf == nil {
		return
	}
	for {
		pkt, ok := buf.Front()
		if !ok {
			return
		}
		buf.Pop()
		i := resolve(pkt)
		if i < 0 || i >= len(k.jamlets) {
			continue
		}
		k.jamlets[i].Route(pkt)
	}
}

// Pump advances this kamlet by one cycle: drains the cache table's
// admission/retirement, kicks off any newly-needed cache-line fill or
// flush, dispatches every inbound packet at this kamlet's shared router
// position to the jamlet it names, and pumps every jamlet.
func (k *Kamlet) Pump(cycle uint64) []*cache.Witem {
	retired := k.table.Pump(cycle)
	for _, w := range retired {
		k.lookup.release(w.InstrIdent)
	}

	k.driveFills(cycle)
	k.flushOutbox()

	k.drainChannel(cacheRespChannel, func(pkt mesh.Packet) int { return pkt.JInKIndex })
	k.drainChannel(j2jReqChannel, func(pkt mesh.Packet) int { return pkt.SvcJInK })
	k.drainChannel(j2jRespChannel, func(pkt mesh.Packet) int { return pkt.ReqJInK })

	for _, j := range k.jamlets {
		j.Pump(cycle)
	}
	return retired
}

// driveFills issues UpdateCache for every slot holding a witem but not yet
// in SHARED/MODIFIED state, exactly once per outstanding fill, per
// spec.md §4.3.1.
func (k *Kamlet) driveFills(cycle uint64) {
	for way := 0; way < k.p.NSlots(); way++ {
		if k.requested[way] {
			if s := k.table.SlotState(way); s != cache.Reading && s != cache.WritingReading {
				k.requested[way] = false
			} else {
				continue
			}
		}
		ident, ok := k.firstIdentOnSlot(way)
		if !ok {
			continue
		}
		reqType, _, err := k.table.UpdateCache(way, ident)
		if err != nil {
			continue
		}
		k.requested[way] = true
		k.issueFill(reqType, ident, way)
	}
}

func (k *Kamlet) firstIdentOnSlot(way int) (int, bool) {
	ws := k.table.WitemsOnSlot(way)
	if len(ws) == 0 {
		return 0, false
	}
	return ws[0].InstrIdent, true
}

func (k *Kamlet) issueFill(reqType cache.RequestType, ident, way int) {
	switch reqType {
	case cache.ReadLine:
		k.sendReadLine(ident, way)
	case cache.WriteLineReadLine:
		jInK := len(k.jamlets)
		shardBytes := k.p.CacheLineBytes / jInK
		readAddr, _ := k.table.SlotMemoryLoc(way)
		writeAddr, _ := k.table.SlotOldMemoryLoc(way)
		for _, j := range k.jamlets {
			j.SendLineFlush(mesh.WriteLineReadLine, ident, k.memlet, way*shardBytes, shardBytes, writeAddr, readAddr)
		}
	}
}

// sendReadLine issues a single READ_LINE request addressed to this
// kamlet's own router position, not any one jamlet's: the memlet answers
// with j_in_k separate READ_LINE_RESP packets, one per jamlet, each
// carrying the same SRAMAddr so every jamlet lands its shard at its own
// identical local offset (spec.md §4.3.1).
func (k *Kamlet) sendReadLine(ident, way int) {
	jInK := len(k.jamlets)
	if jInK == 0 {
		return
	}
	shardBytes := k.p.CacheLineBytes / jInK
	blockAddr, _ := k.table.SlotMemoryLoc(way)
	k.send(mesh.Packet{
		Header: mesh.Header{
			Type:     mesh.ReadLine,
			Ident:    ident,
			Address:  blockAddr,
			SRAMAddr: uint64(way * shardBytes),
		},
		Dst: k.memlet,
	})
}
