// Package memlet implements the edge-attached DRAM controller: a
// deterministic-on-seed backing store plus the READ_LINE / WRITE_LINE /
// WRITE_LINE_READ_LINE protocol handlers that scatter and gather
// cache-line traffic to and from a kamlet's jamlets.
package memlet

import (
	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/params"
)

// Memlet is one DRAM controller attached to the mesh at Pos.
type Memlet struct {
	p   params.LamletParams
	pos mesh.Coord
	m   *mesh.Mesh

	store   *dram
	gathers *gatherTable

	outbox []mesh.Packet // responses that failed Inject, retried each Pump
}

// MemletOption configures a Memlet at construction.
type MemletOption func(*Memlet)

// WithGatherSlots overrides the default gather-slot arena size (the
// number of concurrently in-flight WRITE_LINE/WRITE_LINE_READ_LINE
// requests this memlet can track at once).
func WithGatherSlots(n int) MemletOption {
	return func(mlet *Memlet) { mlet.gathers = newGatherTable(n, mlet.p.JInK(), mlet.p.CacheLineBytes) }
}

// NewMemlet returns a Memlet attached to m at pos, backed by a
// kamlet_memory_bytes DRAM seeded from p.RandomSeed.
func NewMemlet(p params.LamletParams, pos mesh.Coord, m *mesh.Mesh, opts ...MemletOption) *Memlet {
	mlet := &Memlet{
		p:       p,
		pos:     pos,
		m:       m,
		store:   newDRAM(p.KamletMemoryBytes, p.RandomSeed),
		gathers: newGatherTable(p.NCacheRequests, p.JInK(), p.CacheLineBytes),
	}
	for _, opt := range opts {
		opt(mlet)
	}
	return mlet
}

// send attempts to deliver resp now; on backpressure it is queued in the
// outbox and retried on the next Pump.
func (mlet *Memlet) send(resp mesh.Packet) {
	if !mlet.m.Inject(mlet.pos, resp) {
		mlet.outbox = append(mlet.outbox, resp)
	}
}

// Pump drains this memlet's incoming cache-line-request channel and
// processes whatever arrived, first retrying any previously backpressured
// responses.
func (mlet *Memlet) Pump(cycle uint64) {
	if len(mlet.outbox) > 0 {
		retry := mlet.outbox[:0]
		for _, resp := range mlet.outbox {
			if !mlet.m.Inject(mlet.pos, resp) {
				retry = append(retry, resp)
			}
		}
		mlet.outbox = retry
	}

	ch := mesh.Channel(mesh.ReadLine)
	buf := mlet.m.Deliverable(mlet.pos, ch)
	for {
		pkt, ok := buf.Pop()
		if !ok {
			return
		}
		mlet.handle(pkt)
	}
}

func (mlet *Memlet) handle(pkt mesh.Packet) {
	switch pkt.Type {
	case mesh.ReadLine:
		mlet.handleReadLine(pkt)
	case mesh.WriteLine, mesh.WriteLineReadLine:
		mlet.handleShard(pkt)
	}
}

func (mlet *Memlet) handleReadLine(pkt mesh.Packet) {
	lineBytes := mlet.p.CacheLineBytes
	jInK := mlet.p.JInK()
	shardBytes := lineBytes / jInK

	data := mlet.store.ReadLine(pkt.Address, lineBytes)
	for j := 0; j < jInK; j++ {
		shard := data[j*shardBytes : (j+1)*shardBytes]
		mlet.send(mesh.Packet{
			Header: mesh.Header{
				Type:      mesh.ReadLineResp,
				Ident:     pkt.Ident,
				JInKIndex: j,
				SRAMAddr:  pkt.SRAMAddr,
			},
			Body: mesh.BytesToWords(shard, mlet.p.WordBytes),
			Dst:  pkt.Src,
		})
	}
}

// handleShard gathers one jamlet's shard of a WRITE_LINE or
// WRITE_LINE_READ_LINE request; once every jamlet's shard has arrived it
// applies the write (and, for WRITE_LINE_READ_LINE, the follow-up read)
// and responds.
func (mlet *Memlet) handleShard(pkt mesh.Packet) {
	writeAddr := pkt.Address
	if pkt.Type == mesh.WriteLineReadLine {
		writeAddr = pkt.WriteAddr
	}

	slot, ok := mlet.gathers.admit(pkt.Ident, pkt.Type, writeAddr, pkt.ReadAddr, pkt.Src)
	if !ok {
		if pkt.Type == mesh.WriteLineReadLine {
			mlet.send(mesh.Packet{
				Header: mesh.Header{Type: mesh.WriteLineReadLineDrop, Ident: pkt.Ident, JInKIndex: pkt.JInKIndex},
				Dst:    pkt.Src,
			})
		}
		// WRITE_LINE has no DROP wire message; the jamlet holds the
		// shard and the caller is expected to resend (not modeled here
		// since no component in this subsystem yet exercises that path).
		return
	}

	if slot.got[pkt.JInKIndex] {
		return
	}
	jInK := mlet.p.JInK()
	shardBytes := mlet.p.CacheLineBytes / jInK
	copy(slot.data[pkt.JInKIndex*shardBytes:], mesh.WordsToBytes(pkt.Body, mlet.p.WordBytes))
	slot.sramAddr[pkt.JInKIndex] = pkt.SRAMAddr
	slot.got[pkt.JInKIndex] = true

	if !slot.allReceived() {
		return
	}

	mlet.store.WriteLine(slot.writeAddr, slot.data)

	switch pkt.Type {
	case mesh.WriteLine:
		mlet.send(mesh.Packet{
			Header: mesh.Header{Type: mesh.WriteLineResp, Ident: pkt.Ident},
			Dst:    slot.requester,
		})
	case mesh.WriteLineReadLine:
		readData := mlet.store.ReadLine(slot.readAddr, mlet.p.CacheLineBytes)
		for j := 0; j < jInK; j++ {
			shard := readData[j*shardBytes : (j+1)*shardBytes]
			mlet.send(mesh.Packet{
				Header: mesh.Header{
					Type:      mesh.WriteLineReadLineResp,
					Ident:     pkt.Ident,
					JInKIndex: j,
					SRAMAddr:  slot.sramAddr[j],
				},
				Body: mesh.BytesToWords(shard, mlet.p.WordBytes),
				Dst:  slot.requester,
			})
		}
	}

	mlet.gathers.release(pkt.Ident)
}
