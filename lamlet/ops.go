package lamlet

import (
	"github.com/sarchlab/zamlet/addr"
	"github.com/sarchlab/zamlet/cache"
)

// chunkWidth is the number of elements this module processes per
// synchronization round for the strided and indexed-unordered families:
// one full vline's worth, matching lamlet.py/unordered.py's j_in_l-wide
// (respectively elements_in_vline-wide) chunking.
func (l *Lamlet) chunkWidth(ew int) int {
	n := l.params.VlineBytes() * 8 / ew
	if n <= 0 {
		return 1
	}
	return n
}

// multiElementPhase is the chunked-op lifecycle every strided/indexed-
// unordered op walks through once per chunk.
type multiElementPhase int

const (
	phaseDispatch multiElementPhase = iota
	phaseWaitElements
	phaseWaitFaultSync
	phaseDone
)

// stridedOp drives a strided vload/vstore: elements at gAddr + i*stride,
// processed chunkWidth elements at a time, each chunk gated on a
// lamlet-wide fault-sync round before the next chunk begins; the op
// finishes after the last chunk's round. Grounded on unordered.py's vloadstorestride
// (lines 423-508).
type stridedOp struct {
	l        *Lamlet
	regBase  int
	base     addr.GlobalAddress
	stride   int64
	ew       int
	n        int
	wo       addr.WordOrder
	isStore  bool

	processed int
	phase     multiElementPhase

	faultIdent int
	pending    int
	chunkFault *int

	result addr.VectorOpResult
}

// VLoadStride/VStoreStride dispatch a strided access: element i reads or
// writes gAddr.Addr()+i*strideBytes, ew bits wide, for nElements elements.
func (l *Lamlet) VLoadStride(regBase int, gAddr addr.GlobalAddress, strideBytes int64, ew, nElements int, wo addr.WordOrder) *stridedOp {
	return l.newStridedOp(regBase, gAddr, strideBytes, ew, nElements, wo, false)
}

func (l *Lamlet) VStoreStride(regBase int, gAddr addr.GlobalAddress, strideBytes int64, ew, nElements int, wo addr.WordOrder) *stridedOp {
	return l.newStridedOp(regBase, gAddr, strideBytes, ew, nElements, wo, true)
}

func (l *Lamlet) newStridedOp(regBase int, gAddr addr.GlobalAddress, strideBytes int64, ew, nElements int, wo addr.WordOrder, isStore bool) *stridedOp {
	op := &stridedOp{l: l, regBase: regBase, base: gAddr, stride: strideBytes, ew: ew, n: nElements, wo: wo, isStore: isStore}
	l.activeOps = append(l.activeOps, op)
	op.startChunk()
	return op
}

// Done/Result mirror OpHandle's polling surface.
func (op *stridedOp) Done() bool                   { return op.phase == phaseDone }
func (op *stridedOp) Result() addr.VectorOpResult  { return op.result }

func (op *stridedOp) elemAddr(i int) addr.GlobalAddress {
	return addr.NewGlobalAddress(op.l.params, uint64(int64(op.base.Addr())+int64(i)*op.stride))
}

func (op *stridedOp) startChunk() {
	width := op.l.chunkWidth(op.ew)
	end := op.processed + width
	if end > op.n {
		end = op.n
	}
	if end == op.processed {
		op.finish(nil)
		return
	}

	ident, _ := op.l.getInstrIdent(1)
	op.faultIdent = ident

	op.pending = end - op.processed
	op.chunkFault = nil
	for i := op.processed; i < end; i++ {
		idx := i
		elemAddr := op.elemAddr(i)
		eident, _ := op.l.getInstrIdent(1)
		fault, err := op.l.dispatchElement(elemAddr, 0, op.ew, eident, op.regBase, op.isStore, func() {
			op.elementResolved(idx, addr.FaultNone)
		})
		if err != nil || fault != addr.FaultNone {
			op.elementResolved(idx, fault)
		}
	}
	op.processed = end
	op.phase = phaseWaitElements
}

func (op *stridedOp) elementResolved(idx int, fault addr.TLBFaultType) {
	if fault != addr.FaultNone && op.chunkFault == nil {
		v := idx
		op.chunkFault = &v
	}
	op.pending--
}

func (op *stridedOp) finish(fault *int) {
	if fault != nil {
		op.result = addr.VectorOpResult{FaultType: addr.FaultRead, ElementIndex: fault}
		if op.isStore {
			op.result.FaultType = addr.FaultWrite
		}
	}
	op.phase = phaseDone
}

// pump advances this op by one cycle, per the Lamlet.Pump convention.
func (op *stridedOp) pump(cycle uint64) bool {
	switch op.phase {
	case phaseWaitElements:
		if op.pending > 0 {
			return false
		}
		for k := range op.l.kamlets {
			op.l.kamletSync[k].LocalEvent(op.faultIdent, op.chunkFault)
		}
		op.l.sync.LocalEvent(op.faultIdent, op.chunkFault)
		op.phase = phaseWaitFaultSync
		return false
	case phaseWaitFaultSync:
		if !op.l.sync.IsComplete(op.faultIdent) {
			return false
		}
		minVal := op.l.sync.GetMinValue(op.faultIdent)
		op.l.sync.ClearSync(op.faultIdent)
		if minVal != nil {
			op.finish(minVal)
			return true
		}
		op.startChunk()
		if op.phase == phaseDone {
			return true
		}
		return false
	case phaseDone:
		return true
	default:
		return false
	}
}

// indexedUnorderedOp drives a gather/scatter vload/vstore with no
// ordering requirement among elements: same chunked fault-sync protocol
// as stridedOp, but each element's address comes from an explicit index
// list rather than a stride. Grounded on unordered.py's
// _vloadstore_indexed_unordered (lines 545-666); the original's
// skip-fault-wait/chain_fault_sync latency-hiding optimization across
// chunks is not reproduced here (every chunk waits on its own fault-sync
// round before the next starts) — see DESIGN.md.
type indexedUnorderedOp struct {
	*stridedOp
	addrs []addr.GlobalAddress
	mask  []bool
}

// VLoadIndexedUnordered/VStoreIndexedUnordered dispatch one access per
// entry of addrs, ew bits wide. mask, if non-nil, gates each entry: a false
// entry is skipped (neither dispatched nor resolved against memory), and
// entries beyond len(mask) are active. A masked-off gather
// element leaves its destination register untouched; a masked-off scatter
// element leaves its destination memory untouched. Grounded on unordered.py's
// mask handling ahead of _vloadstore_indexed_unordered's chunk dispatch.
func (l *Lamlet) VLoadIndexedUnordered(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder, mask []bool) *indexedUnorderedOp {
	return l.newIndexedUnorderedOp(regBase, addrs, ew, wo, false, mask)
}

func (l *Lamlet) VStoreIndexedUnordered(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder, mask []bool) *indexedUnorderedOp {
	return l.newIndexedUnorderedOp(regBase, addrs, ew, wo, true, mask)
}

func (l *Lamlet) newIndexedUnorderedOp(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder, isStore bool, mask []bool) *indexedUnorderedOp {
	base := &stridedOp{l: l, regBase: regBase, ew: ew, n: len(addrs), wo: wo, isStore: isStore}
	op := &indexedUnorderedOp{stridedOp: base, addrs: addrs, mask: mask}
	// base and stride stay zero: startIndexedChunk takes each element's
	// address from addrs instead of computing base+i*stride.
	l.activeOps = append(l.activeOps, op)
	op.startIndexedChunk()
	return op
}

func (op *indexedUnorderedOp) startIndexedChunk() {
	width := op.l.chunkWidth(op.ew)
	end := op.processed + width
	if end > op.n {
		end = op.n
	}
	if end == op.processed {
		op.finish(nil)
		return
	}
	ident, _ := op.l.getInstrIdent(1)
	op.faultIdent = ident

	op.pending = end - op.processed
	op.chunkFault = nil
	for i := op.processed; i < end; i++ {
		idx := i
		if op.mask != nil && idx < len(op.mask) && !op.mask[idx] {
			op.elementResolved(idx, addr.FaultNone)
			continue
		}
		eident, _ := op.l.getInstrIdent(1)
		fault, err := op.l.dispatchElement(op.addrs[i], 0, op.ew, eident, op.regBase, op.isStore, func() {
			op.elementResolved(idx, addr.FaultNone)
		})
		if err != nil || fault != addr.FaultNone {
			op.elementResolved(idx, fault)
		}
	}
	op.processed = end
	op.phase = phaseWaitElements
}

// pump overrides stridedOp's chunk-start call so indexed addressing is
// used on every subsequent chunk too.
func (op *indexedUnorderedOp) pump(cycle uint64) bool {
	switch op.phase {
	case phaseWaitElements:
		if op.pending > 0 {
			return false
		}
		for k := range op.l.kamlets {
			op.l.kamletSync[k].LocalEvent(op.faultIdent, op.chunkFault)
		}
		op.l.sync.LocalEvent(op.faultIdent, op.chunkFault)
		op.phase = phaseWaitFaultSync
		return false
	case phaseWaitFaultSync:
		if !op.l.sync.IsComplete(op.faultIdent) {
			return false
		}
		minVal := op.l.sync.GetMinValue(op.faultIdent)
		op.l.sync.ClearSync(op.faultIdent)
		if minVal != nil {
			op.finish(minVal)
			return true
		}
		op.startIndexedChunk()
		return op.phase == phaseDone
	case phaseDone:
		return true
	default:
		return false
	}
}

// orderedPhase is the lifecycle an indexedOrderedOp walks through.
type orderedPhase int

const (
	orderedBarrierWait orderedPhase = iota
	orderedDispatching
	orderedDraining
	orderedCompleting
	orderedDone
)

// indexedOrderedOp drives a vloxei/vsoxei (ordered indexed) access: a
// lamlet-wide barrier (every kamlet admits a reads-all-memory witem)
// establishes ordering before per-element dispatch begins, elements
// dispatch and complete through an OrderedBuffer (so completion can only
// drain in index order even though the underlying cache witems resolve
// out of order), and a second barrier round signals the op's own
// completion once the buffer has drained everything it dispatched.
// Grounded on ordered.py's vload_indexed_ordered/vstore_indexed_ordered
// (lines 455-652).
type indexedOrderedOp struct {
	l       *Lamlet
	regBase int
	addrs   []addr.GlobalAddress
	ew      int
	wo      addr.WordOrder
	isStore bool

	barrierIdent int
	bufID        int
	buf          *OrderedBuffer

	phase  orderedPhase
	result addr.VectorOpResult
}

func (l *Lamlet) VLoadIndexedOrdered(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder) *indexedOrderedOp {
	return l.newIndexedOrderedOp(regBase, addrs, ew, wo, false)
}

func (l *Lamlet) VStoreIndexedOrdered(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder) *indexedOrderedOp {
	return l.newIndexedOrderedOp(regBase, addrs, ew, wo, true)
}

func (l *Lamlet) newIndexedOrderedOp(regBase int, addrs []addr.GlobalAddress, ew int, wo addr.WordOrder, isStore bool) *indexedOrderedOp {
	op := &indexedOrderedOp{l: l, regBase: regBase, addrs: addrs, ew: ew, wo: wo, isStore: isStore}
	l.activeOps = append(l.activeOps, op)
	op.startBarrier()
	return op
}

func (op *indexedOrderedOp) Done() bool                  { return op.phase == orderedDone }
func (op *indexedOrderedOp) Result() addr.VectorOpResult { return op.result }

func (op *indexedOrderedOp) startBarrier() {
	ident, ok := op.l.getInstrIdent(1)
	if !ok {
		op.phase = orderedDone
		return
	}
	op.barrierIdent = ident
	for kIndex, k := range op.l.kamlets {
		idx := kIndex
		w := &cache.Witem{
			Kind:            cache.WaitingOrderedIndexedLoad,
			InstrIdent:      ident,
			ReadsAllMemory:  true,
			OnReady: func() {
				op.l.kamletSync[idx].LocalEvent(ident, nil)
			},
		}
		k.Table().AddWitem(w, 0, false, false)
	}
	op.phase = orderedBarrierWait
}

func (op *indexedOrderedOp) startDispatch() {
	capacity := op.l.params.NCacheRequests
	if capacity <= 0 {
		capacity = 1
	}
	op.buf = NewOrderedBuffer(len(op.addrs), !op.isStore, capacity, op.ew, 0)
	id, err := op.l.allocateOrderedBuffer(op.buf)
	if err != nil {
		op.phase = orderedDone
		op.result = addr.VectorOpResult{FaultType: addr.FaultNotWaited}
		return
	}
	op.bufID = id
	op.phase = orderedDispatching
}

func (op *indexedOrderedOp) dispatchMore() {
	for op.buf.CanDispatch() && op.buf.FaultedElement() == nil {
		ident, ok := op.l.getInstrIdent(1)
		if !ok {
			break
		}
		idx := op.buf.AddDispatched(ident)
		i := idx
		fault, err := op.l.dispatchElement(op.addrs[i], 0, op.ew, ident, op.regBase, op.isStore, func() {
			op.buf.Resolve(i, nil, false)
		})
		if err != nil || fault != addr.FaultNone {
			op.buf.Resolve(i, nil, true)
		}
	}
	if op.buf.FaultedElement() != nil {
		op.buf.TruncateToDispatched()
	}
}

func (op *indexedOrderedOp) pump(cycle uint64) bool {
	switch op.phase {
	case orderedBarrierWait:
		if !op.l.sync.IsComplete(op.barrierIdent) {
			return false
		}
		op.l.sync.ClearSync(op.barrierIdent)
		op.startDispatch()
		return op.phase == orderedDone
	case orderedDispatching:
		op.dispatchMore()
		// dispatchElement's own OnReady already moved each element's bytes
		// between SRAM and the register file as it resolved; Process here
		// only needs to advance the buffer's drain pointer so AllComplete
		// can tell when every dispatched element has resolved.
		op.buf.Process(func(idx int, data []byte, faulted bool) {})
		if op.buf.AllComplete() {
			op.phase = orderedCompleting
			op.l.sync.LocalEvent(op.barrierIdent, nil)
			for k := range op.l.kamlets {
				op.l.kamletSync[k].LocalEvent(op.barrierIdent, nil)
			}
		}
		return false
	case orderedCompleting:
		if !op.l.sync.IsComplete(op.barrierIdent) {
			return false
		}
		op.l.sync.ClearSync(op.barrierIdent)
		op.l.freeOrderedBuffer(op.bufID)
		if f := op.buf.FaultedElement(); f != nil {
			op.result = addr.VectorOpResult{FaultType: addr.FaultRead, ElementIndex: f}
			if op.isStore {
				op.result.FaultType = addr.FaultWrite
			}
		}
		op.phase = orderedDone
		return true
	case orderedDone:
		return true
	default:
		return false
	}
}
