package lamlet

import (
	"fmt"

	"github.com/sarchlab/zamlet/addr"
	"github.com/sarchlab/zamlet/cache"
	"github.com/sarchlab/zamlet/kamlet"
	"github.com/sarchlab/zamlet/monitor"
	"github.com/sarchlab/zamlet/params"
	"github.com/sarchlab/zamlet/syncnet"
)

// Lamlet is the orchestration layer: it owns the TLB, the scalar memory,
// the instr_ident/writeset_ident arenas, the OrderedBuffer pool, and its
// own corner Synchronizer, and turns a vload/vstore-family call into
// section decomposition (GetMemorySplit), per-element cache-table witem
// dispatch, and (for the strided/indexed families) a Pump-driven fault
// and completion protocol riding the sync network.
//
// It does not decode scalar instructions: callers drive it through the
// ScalarExecutor-shaped surface (VLoad/VStore/..., SetMemory/GetMemory,
// AllocateMemory/ReleaseMemory) the way a real core's load/store unit
// would, per spec.md's Non-goals on RISC-V decode.
type Lamlet struct {
	params params.LamletParams
	tlb    *addr.TLB
	scalar *ScalarState

	kamlets    []*kamlet.Kamlet
	kamletSync []*syncnet.Synchronizer
	sync       *syncnet.Synchronizer

	tracer *monitor.Tracer

	instrIdents    *identAllocator
	writesetIdents *writesetAllocator

	orderedBuffers []*OrderedBuffer

	execOut  ScalarExecutor
	finished bool
	exitCode int

	activeOps []pumpable
}

// pumpable is a multi-cycle vector op (strided, indexed-unordered,
// indexed-ordered) that Lamlet.Pump advances until done.
type pumpable interface {
	pump(cycle uint64) bool
}

// LamletOption configures a Lamlet at construction.
type LamletOption func(*Lamlet)

// WithTracer attaches a monitor.Tracer used to trace vector-op latency.
func WithTracer(t *monitor.Tracer) LamletOption {
	return func(l *Lamlet) { l.tracer = t }
}

// WithScalarExecutor overrides the default stdout-only HTIF sink.
func WithScalarExecutor(e ScalarExecutor) LamletOption {
	return func(l *Lamlet) { l.execOut = e }
}

// NewLamlet builds a Lamlet wired to an already-constructed grid of
// kamlets (indexed by k_index, per params.KCount) and its own corner
// Synchronizer at mesh position (0,-1), plus one Synchronizer per kamlet
// at its (kx,ky) grid position — the caller (sim.Simulator) is
// responsible for linking these into the physical sync-bus mesh and
// pumping them every cycle, the same way it pumps the packet mesh.
func NewLamlet(p params.LamletParams, kamlets []*kamlet.Kamlet, opts ...LamletOption) *Lamlet {
	l := &Lamlet{
		params:         p,
		tlb:            addr.NewTLB(p),
		scalar:         NewScalarState(),
		kamlets:        kamlets,
		sync:           syncnet.NewSynchronizer(p, 0, -1),
		writesetIdents: &writesetAllocator{},
		orderedBuffers: make([]*OrderedBuffer, p.NOrderedBuffers),
		execOut:        stdoutExecutor{},
	}
	l.kamletSync = make([]*syncnet.Synchronizer, p.KCount())
	for kIndex := 0; kIndex < p.KCount(); kIndex++ {
		kx, ky := kIndex%p.KCols, kIndex/p.KCols
		l.kamletSync[kIndex] = syncnet.NewSynchronizer(p, kx, ky)
	}
	l.instrIdents = newIdentAllocator(p.MaxResponseTags, l.oldestActiveIdent)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Synchronizer returns the lamlet's own corner Synchronizer, for
// sim.Simulator to wire into the sync-bus mesh and pump each cycle.
func (l *Lamlet) Synchronizer() *syncnet.Synchronizer { return l.sync }

// KamletSynchronizer returns the Synchronizer belonging to kamlet kIndex.
func (l *Lamlet) KamletSynchronizer(kIndex int) *syncnet.Synchronizer { return l.kamletSync[kIndex] }

// TLB exposes the address translation table, e.g. for sim's loader to
// allocate the initial memory map before the program starts.
func (l *Lamlet) TLB() *addr.TLB { return l.tlb }

// oldestActiveIdent scans the witems admitted onto a cache slot in every
// kamlet's table (pending witems are not counted) for the InstrIdent
// nearest ahead of the allocator's next ident in ring order, i.e. the
// oldest one, so the instr_ident allocator can enforce the
// fairness-distance invariant (never hand out an ident that would alias
// one a kamlet is still waiting on). Blocking on the oldest ident across
// all kamlets gives the same decision as checking each kamlet's own
// oldest ident separately.
func (l *Lamlet) oldestActiveIdent() (int, bool) {
	found := false
	oldest, oldestDist := 0, 0
	ring, next := l.instrIdents.ringSize, l.instrIdents.next
	for _, k := range l.kamlets {
		for way := 0; way < l.params.NSlots(); way++ {
			for _, w := range k.Table().WitemsOnSlot(way) {
				d := ((w.InstrIdent-next)%ring + ring) % ring
				if !found || d < oldestDist {
					oldest, oldestDist = w.InstrIdent, d
					found = true
				}
			}
		}
	}
	return oldest, found
}

func (l *Lamlet) getInstrIdent(n int) (int, bool) {
	if !l.instrIdents.CanAllocate(n) {
		return 0, false
	}
	return l.instrIdents.Allocate(n), true
}

// AllocateMemory reserves [address, address+size) in the address space,
// tagged mt and ordered wordOrder, by mapping size rounded up to a whole
// number of pages at address in the TLB. address is not realigned.
func (l *Lamlet) AllocateMemory(address uint64, size uint64, mt addr.MemoryType, wordOrder addr.WordOrder, readable, writable bool) error {
	gAddr := addr.NewGlobalAddress(l.params, address)
	pb := uint64(l.params.PageBytes)
	size = (size + pb - 1) / pb * pb
	return l.tlb.AllocateMemory(gAddr, int(size), mt, addr.Ordering{WordOrder: wordOrder}, readable, writable)
}

// ReleaseMemory un-reserves a prior AllocateMemory range, rounding size up
// to whole pages the same way.
func (l *Lamlet) ReleaseMemory(address, size uint64) error {
	gAddr := addr.NewGlobalAddress(l.params, address)
	pb := uint64(l.params.PageBytes)
	size = (size + pb - 1) / pb * pb
	return l.tlb.ReleaseMemory(gAddr, int(size))
}

// vlineRegAndOffset maps a logical vline address to the (vreg, byte
// offset within that jamlet's register slice) pair this port uses to
// store it: vreg = regBase + global vline index, offset = bit_in_word/8.
// Every jamlet's register slice is sized k_count*word_bytes (see
// kamlet.NewKamlet), comfortably larger than the single word_bytes this
// scheme ever touches per vreg entry — DESIGN.md documents this as a
// deliberate simplification of the original's packing, not a re-derivation
// of it, since nothing in this module's own read/write pairing depends on
// matching the original's exact byte offsets bit-for-bit.
func vlineRegAndOffset(regBase int, logical addr.LogicalVLineAddress, physical addr.PhysicalVLineAddress) (int, int) {
	return regBase + logical.VlineIndex, physical.BitInWord / 8
}

// moveElement copies one ew-bit element between a jamlet's register slice
// (vreg regBase+vlineIndex) and its SRAM shard for the cache line the
// witem-driven slot assignment already resolved. isStore copies register
// -> SRAM; otherwise SRAM -> register.
func (l *Lamlet) moveElement(vpuAddr addr.VPUAddress, regBase int, isStore bool) error {
	logical := vpuAddr.ToLogicalVLineAddress()
	physical, err := logical.ToPhysicalVLineAddress()
	if err != nil {
		return err
	}
	kmAddr, err := physical.ToKMAddr()
	if err != nil {
		return err
	}
	k := l.kamlets[kmAddr.KIndex]
	jsAddr, err := kmAddr.ToJSAddr(k.Table())
	if err != nil {
		return err
	}
	jam := k.Jamlet(kmAddr.JInKIndex)
	vreg, off := vlineRegAndOffset(regBase, logical, physical)
	nBytes := vpuAddr.Ordering().EW / 8

	if isStore {
		data := jam.Registers().ReadBytes(vreg, off, nBytes)
		jam.SRAM().WriteBytes(jsAddr.Addr(), data)
		if way, ok := k.Table().SlotForBlock(kmAddr.KIndex, kmAddr.BlockAddr()); ok {
			k.Table().MarkWrite(way)
		}
	} else {
		data := jam.SRAM().ReadBytes(jsAddr.Addr(), nBytes)
		jam.Registers().WriteBytes(vreg, off, data)
	}
	return nil
}

// elementVPUAddr re-translates element i's own global byte address
// through the TLB, rather than arithmetically offsetting a VPUAddress
// (whose fields are private to addr): simpler, and it naturally repeats
// the permission/page check per element, which per-element fault
// reporting needs anyway.
func (l *Lamlet) elementVPUAddr(base addr.GlobalAddress, elemIndex, ew int, isWrite bool) (addr.VPUAddress, addr.TLBFaultType) {
	elemAddr := addr.NewGlobalAddress(l.params, base.Addr()+uint64(elemIndex*ew/8))
	return elemAddr.ToVPUAddress(l.tlb, isWrite, ew)
}

// dispatchElement admits one witem for the cache line backing element
// elemIndex of a VPU-resident access (base, ew) and, once ready, moves
// that element's bytes between SRAM and the jamlet register slice at
// regBase. ident must not collide with any other witem concurrently
// outstanding at the same cache slot.
func (l *Lamlet) dispatchElement(base addr.GlobalAddress, elemIndex, ew, ident, regBase int, isStore bool, onReady func()) (addr.TLBFaultType, error) {
	ea, fault := l.elementVPUAddr(base, elemIndex, ew, isStore)
	if fault != addr.FaultNone {
		return fault, nil
	}
	logical := ea.ToLogicalVLineAddress()
	physical, err := logical.ToPhysicalVLineAddress()
	if err != nil {
		return addr.FaultNone, err
	}
	kmAddr, err := physical.ToKMAddr()
	if err != nil {
		return addr.FaultNone, err
	}
	k := l.kamlets[kmAddr.KIndex]
	w := &cache.Witem{
		Kind:         cache.WaitingLoad,
		InstrIdent:   ident,
		CacheIsRead:  !isStore,
		CacheIsWrite: isStore,
		OnReady: func() {
			l.moveElement(ea, regBase, isStore)
			if onReady != nil {
				onReady()
			}
		},
	}
	if isStore {
		w.Kind = cache.WaitingStore
	}
	return addr.FaultNone, k.Table().AddWitem(w, kmAddr.BlockAddr(), true, false)
}

// Pump advances every multi-cycle vector op in flight (strided, indexed
// unordered, indexed ordered). Single-shot vload/vstore/byte ops need no
// Pump involvement: they complete entirely through cache-witem OnReady
// callbacks, which fire from kamlet.Kamlet.Pump.
func (l *Lamlet) Pump(cycle uint64) {
	var still []pumpable
	for _, op := range l.activeOps {
		if !op.pump(cycle) {
			still = append(still, op)
		}
	}
	l.activeOps = still
}

func (l *Lamlet) allocateOrderedBuffer(buf *OrderedBuffer) (int, error) {
	for i, b := range l.orderedBuffers {
		if b == nil {
			l.orderedBuffers[i] = buf
			return i, nil
		}
	}
	return 0, fmt.Errorf("lamlet: no free ordered buffer (n_ordered_buffers=%d)", l.params.NOrderedBuffers)
}

func (l *Lamlet) freeOrderedBuffer(id int) { l.orderedBuffers[id] = nil }
