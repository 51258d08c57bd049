// Package jamlet implements the lane-local execution unit: its share of
// the kamlet's cache line (SRAM), its share of every vreg (Registers),
// and the two wire protocols that move bytes in and out of that
// storage — cache-line fill/flush against the owning memlet, and
// jamlet-to-jamlet Load/Store shuffles against a peer jamlet.
package jamlet

import (
	"github.com/sarchlab/zamlet/mesh"
)

// CacheNotifier is the narrow view into the owning kamlet's cache table
// a jamlet needs: reporting that this jamlet's shard of an in-flight
// request has arrived (ReceiveCacheResponse) or was dropped
// (ClearCacheRequestSent, which lets the table's next Pump re-issue the
// request). cache.Table implements this directly.
type CacheNotifier interface {
	ReceiveCacheResponse(ident, jInKIndex int) error
	ClearCacheRequestSent(ident, jInKIndex int) error
	MarkSent(ident, jInKIndex int) error
}

// JamletOption configures a Jamlet at construction.
type JamletOption func(*Jamlet)

// WithCacheNotifier wires the owning kamlet's cache table so cache-line
// fill/flush responses can be reported back up.
func WithCacheNotifier(n CacheNotifier) JamletOption {
	return func(j *Jamlet) { j.cache = n }
}

// WithWitemLookup wires the owning kamlet's witem lookup so incoming
// jamlet-to-jamlet requests can be resolved against it.
func WithWitemLookup(l WitemLookup) JamletOption {
	return func(j *Jamlet) { j.lookup = l }
}

// Jamlet is one lane of one kamlet: its slice of the cache line, its
// slice of every vreg, and the protocol state needed to keep both in
// sync with the rest of the machine.
type Jamlet struct {
	pos       mesh.Coord
	jInKIndex int
	wordBytes int

	m *mesh.Mesh

	sram *SRAM
	regs *Registers

	cache  CacheNotifier
	lookup WitemLookup

	sessions       map[int]*J2JSession
	pendingRetries []pendingRetry

	outbox []mesh.Packet
}

// NewJamlet returns a Jamlet at pos (its router coordinate in the mesh),
// identified within its kamlet by jInKIndex, with sramBytes of cache-line
// storage and nVRegs registers of bytesPerVReg each.
func NewJamlet(pos mesh.Coord, jInKIndex int, m *mesh.Mesh, sramBytes, nVRegs, bytesPerVReg, wordBytes int, opts ...JamletOption) *Jamlet {
	j := &Jamlet{
		pos:       pos,
		jInKIndex: jInKIndex,
		wordBytes: wordBytes,
		m:         m,
		sram:      NewSRAM(sramBytes),
		regs:      NewRegisters(nVRegs, bytesPerVReg),
		sessions:  make(map[int]*J2JSession),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SRAM exposes this jamlet's cache-line storage, e.g. for a kamlet to
// stage element data before a j2j Store session reads it.
func (j *Jamlet) SRAM() *SRAM { return j.sram }

// Registers exposes this jamlet's share of the vreg file.
func (j *Jamlet) Registers() *Registers { return j.regs }

// send injects pkt into the mesh at this jamlet's position, falling back
// to the outbox if the first hop's buffer is full this cycle.
func (j *Jamlet) send(pkt mesh.Packet) {
	pkt.Src = j.pos
	if !j.m.Inject(j.pos, pkt) {
		j.outbox = append(j.outbox, pkt)
	}
}

// SendLineFlush packages this jamlet's own share of a cache line
// (n_words = cache_line_bytes / j_in_k / word_bytes, per spec.md §4.3.1)
// and sends it to the owning memlet. kind is WriteLine for a plain
// eviction or WriteLineReadLine for an evict-then-refill; writeAddr and
// readAddr are only meaningful for the latter.
func (j *Jamlet) SendLineFlush(kind mesh.MessageType, ident int, memletPos mesh.Coord, sramOffset, nBytes int, writeAddr, readAddr uint64) {
	j.send(mesh.Packet{
		Header: mesh.Header{
			Type: kind, Ident: ident, WriteAddr: writeAddr, ReadAddr: readAddr,
			JInKIndex: j.jInKIndex, SRAMAddr: uint64(sramOffset), NBytes: nBytes,
		},
		Body: mesh.BytesToWords(j.sram.ReadBytes(sramOffset, nBytes), j.wordBytes),
		Dst:  memletPos,
	})
	if j.cache != nil {
		j.cache.MarkSent(ident, j.jInKIndex)
	}
}

func (j *Jamlet) flushOutbox() {
	if len(j.outbox) == 0 {
		return
	}
	keep := j.outbox[:0]
	for _, pkt := range j.outbox {
		if !j.m.Inject(j.pos, pkt) {
			keep = append(keep, pkt)
		}
	}
	j.outbox = keep
}

// HandleCacheResp applies an incoming cache-line fill/flush response,
// then reports completion (or, for a drop, clears the sent flag so the
// owning table reissues the request) to the owning kamlet's cache table.
// The owning kamlet routes pkt here after resolving pkt.JInKIndex to
// this jamlet.
func (j *Jamlet) HandleCacheResp(pkt mesh.Packet) {
	switch pkt.Type {
	case mesh.ReadLineResp, mesh.WriteLineReadLineResp:
		j.sram.WriteBytes(int(pkt.SRAMAddr), mesh.WordsToBytes(pkt.Body, j.wordBytes))
	case mesh.WriteLineReadLineDrop:
		if j.cache != nil {
			j.cache.ClearCacheRequestSent(pkt.Ident, j.jInKIndex)
		}
		return
	}
	if j.cache != nil {
		j.cache.ReceiveCacheResponse(pkt.Ident, j.jInKIndex)
	}
}

// Pump advances this jamlet by one cycle: it retries anything mesh
// backpressure held back and drives its active j2j sessions and drop
// retries. It does not touch the mesh's inbound buffers itself — every
// jamlet in a kamlet shares that kamlet's single router position, so the
// owning Kamlet drains the shared buffers once per cycle and dispatches
// each packet to the right jamlet via Route.
func (j *Jamlet) Pump(cycle uint64) {
	j.flushOutbox()
	j.driveSessions()
	j.driveRetries()
}

// Route dispatches an inbound packet already resolved (by JInKIndex,
// ReqJInK, or SvcJInK, depending on pkt.Type) to belong to this jamlet.
// The owning kamlet calls this once per packet it pops off its shared
// mesh buffers.
func (j *Jamlet) Route(pkt mesh.Packet) {
	switch pkt.Type {
	case mesh.ReadLineResp, mesh.WriteLineResp, mesh.WriteLineReadLineResp, mesh.WriteLineReadLineDrop:
		j.HandleCacheResp(pkt)
	case mesh.LoadJ2JWordsReq, mesh.StoreJ2JWordsReq:
		j.HandleJ2JReq(pkt)
	case mesh.LoadJ2JWordsResp, mesh.StoreJ2JWordsResp:
		j.HandleJ2JResp(pkt)
	case mesh.LoadJ2JWordsDrop, mesh.StoreJ2JWordsDrop, mesh.LoadJ2JWordsRetry, mesh.StoreJ2JWordsRetry:
		j.HandleJ2JDropOrRetry(pkt)
	}
}
