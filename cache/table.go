package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/zamlet/monitor"
	"github.com/sarchlab/zamlet/params"
)

// Table is one kamlet's cache table: slot state machine, waiting-item
// arbitration queue, and the outstanding-memlet-request arena (§4.9).
type Table struct {
	p      params.LamletParams
	kIndex int

	directory *akitacache.DirectoryImpl
	slots     []slotMeta

	pending []*pendingWitem
	onSlot  map[int][]*Witem // way -> admitted, not-yet-ready witems holding it

	activeReadsAllMemory int
	activeWriteSets      map[int]int // writeset ident -> count of active writes_all_memory witems

	nReserved     int
	reservedInUse int

	requests *requestTable

	tracer *monitor.Tracer
}

type pendingWitem struct {
	w           *Witem
	blockAddr   uint64
	hasBlock    bool
	useReserved bool
	span        *monitor.Span
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithTracer attaches a monitor.Tracer; every witem passed to AddWitem gets
// a span, opened at cycle 0 (AddWitem takes no cycle) and ended at the
// cycle Pump admits it.
func WithTracer(t *monitor.Tracer) TableOption {
	return func(tbl *Table) { tbl.tracer = t }
}

// NewTable creates an empty cache table for kamlet kIndex.
func NewTable(p params.LamletParams, kIndex int, opts ...TableOption) *Table {
	nSlots := p.NSlots()
	t := &Table{
		p:               p,
		kIndex:          kIndex,
		directory:       newDirectory(nSlots),
		slots:           make([]slotMeta, nSlots),
		onSlot:          make(map[int][]*Witem),
		activeWriteSets: make(map[int]int),
		nReserved:       p.NItemsReserved,
		requests:        newRequestTable(p.NCacheRequests, p.JInK()),
		tracer:          monitor.NewTracer(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SlotForBlock implements addr.SlotLocator: it reports the slot currently
// holding blockAddr, if any, regardless of that slot's coherence state
// (even a slot mid-fill can be addressed once assigned).
func (t *Table) SlotForBlock(kIndex int, blockAddr uint64) (int, bool) {
	if kIndex != t.kIndex {
		return 0, false
	}
	block := t.directory.Lookup(0, blockAddr)
	if block == nil || !block.IsValid {
		return 0, false
	}
	return block.WayID, true
}

// SlotState returns the coherence state of a slot, for tests and the
// jamlet/memlet protocol handlers that need to branch on it.
func (t *Table) SlotState(way int) SlotState { return t.slots[way].state }

// WitemsOnSlot returns the admitted, not-yet-ready witems currently
// holding way, e.g. so a kamlet can find an ident to drive UpdateCache
// with.
func (t *Table) WitemsOnSlot(way int) []*Witem { return t.onSlot[way] }

// SlotMemoryLoc returns the block address way is currently assigned to
// track, if it has one.
func (t *Table) SlotMemoryLoc(way int) (uint64, bool) {
	s := t.slots[way]
	return s.memoryLoc, s.hasMemoryLoc
}

// SlotOldMemoryLoc returns the block address an OLD_MODIFIED slot must
// flush out before it can read its new one in, if it has one.
func (t *Table) SlotOldMemoryLoc(way int) (uint64, bool) {
	s := t.slots[way]
	return s.oldMemoryLoc, s.hasOldLoc
}

// AddWitem enqueues w for admission, optionally (hasBlock) targeting the
// slot holding cache line blockAddr. useReserved draws from the n_items_reserved pool set
// aside for message-driven witems (cache responses, j2j handlers) so they
// never deadlock behind a full kinstr queue; exhausting that pool is a
// fatal internal assertion per spec.md §4.2, not a fault.
func (t *Table) AddWitem(w *Witem, blockAddr uint64, hasBlock bool, useReserved bool) error {
	if useReserved {
		if t.reservedInUse >= t.nReserved {
			return fmt.Errorf("cache: kamlet %d reserved witem pool exhausted (n_items_reserved=%d)", t.kIndex, t.nReserved)
		}
		t.reservedInUse++
	}
	var span *monitor.Span
	if t.tracer != nil {
		span = t.tracer.StartSpan(0, fmt.Sprintf("witem-wait/k%d", t.kIndex), nil)
	}
	t.pending = append(t.pending, &pendingWitem{w: w, blockAddr: blockAddr, hasBlock: hasBlock, useReserved: useReserved, span: span})
	return nil
}

// Pump attempts to admit pending witems in FIFO order and retires admitted
// witems that have become Ready(). It returns the witems retired this call.
//
// Admission is strict FIFO: a blocked head-of-queue witem blocks everything
// behind it, matching a single deque drained front-to-back rather than a
// scan that skips blocked entries.
func (t *Table) Pump(cycle uint64) []*Witem {
	var retired []*Witem
	for way, ws := range t.onSlot {
		var keep []*Witem
		for _, w := range ws {
			if w.Ready() {
				retired = append(retired, w)
				t.retire(w)
			} else {
				keep = append(keep, w)
			}
		}
		t.onSlot[way] = keep
	}

	for len(t.pending) > 0 {
		head := t.pending[0]

		// Memory-wide rules (1-3) don't depend on which slot head targets,
		// so they can be checked before slot resolution.
		if !t.canAdmit(head.w) {
			break
		}

		way := -1
		if head.hasBlock {
			var err error
			way, err = t.assignSlot(head.blockAddr)
			if err != nil {
				break // no slot available yet; retry next Pump
			}
			head.w.CacheSlot = &way
			// Slot resolved: re-check the per-slot rules (4-5), which need
			// to know which witems already hold this exact slot.
			if !t.canAdmit(head.w) {
				head.w.CacheSlot = nil
				break
			}
		}
		head.w.reserved = head.useReserved
		t.admit(head.w, way)
		if t.tracer != nil {
			t.tracer.EndSpan(cycle, head.span, "admitted")
		}
		t.pending = t.pending[1:]
	}
	return retired
}

func (t *Table) admit(w *Witem, way int) {
	// Slotless witems are kept under way -1 so Pump retires them too.
	t.onSlot[way] = append(t.onSlot[way], w)
	if way < 0 || t.slots[way].state == Shared || t.slots[way].state == Modified {
		w.CacheIsAvail = true
	}
	t.beginAllMemory(w)
}

func (t *Table) retire(w *Witem) {
	if w.reserved && t.reservedInUse > 0 {
		t.reservedInUse--
	}
	t.endAllMemory(w)
	if w.OnReady != nil {
		w.OnReady()
	}
}

// canAdmit implements the six-rule arbitration order from spec.md §4.2.
func (t *Table) canAdmit(w *Witem) bool {
	if w.ReadsAllMemory {
		return t.activeReadsAllMemory == 0 && len(t.activeWriteSets) == 0 && !t.anyWriteActive()
	}
	if w.WritesAllMemory {
		if t.activeReadsAllMemory > 0 || t.anyReadActive() {
			return false
		}
		myWs := -1
		if w.WriteSetIdent != nil {
			myWs = *w.WriteSetIdent
		}
		for ws := range t.activeWriteSets {
			if ws != myWs {
				return false
			}
		}
		return true
	}

	if w.isWrite() && t.activeReadsAllMemory > 0 {
		return false
	}
	if t.hasConflictingAllMemoryWrite(w) {
		return false
	}
	if w.isWrite() && w.CacheSlot != nil && t.slotHasConflictingWitem(*w.CacheSlot, w) {
		return false
	}
	if w.isRead() && w.CacheSlot != nil && t.slotHasActiveWrite(*w.CacheSlot) {
		return false
	}
	return true
}

func (t *Table) anyWriteActive() bool {
	for _, ws := range t.onSlot {
		for _, w := range ws {
			if w.isWrite() {
				return true
			}
		}
	}
	return false
}

func (t *Table) anyReadActive() bool {
	for _, ws := range t.onSlot {
		for _, w := range ws {
			if w.isRead() {
				return true
			}
		}
	}
	return false
}

func (t *Table) hasConflictingAllMemoryWrite(w *Witem) bool {
	myWs := -1
	if w.WriteSetIdent != nil {
		myWs = *w.WriteSetIdent
	}
	for ws := range t.activeWriteSets {
		if ws != myWs {
			return true
		}
	}
	return false
}

func (t *Table) slotHasConflictingWitem(way int, w *Witem) bool {
	myWs := -1
	if w.WriteSetIdent != nil {
		myWs = *w.WriteSetIdent
	}
	for _, other := range t.onSlot[way] {
		if !other.isRead() && !other.isWrite() {
			continue
		}
		otherWs := -1
		if other.WriteSetIdent != nil {
			otherWs = *other.WriteSetIdent
		}
		if otherWs != myWs {
			return true
		}
	}
	return false
}

func (t *Table) slotHasActiveWrite(way int) bool {
	for _, other := range t.onSlot[way] {
		if other.isWrite() {
			return true
		}
	}
	return false
}

// assignSlot resolves blockAddr to a slot, assigning one if not already
// present. Victim selection is delegated to the akita directory's LRU
// victim finder (the same Directory/VictimFinder pairing the teacher's
// Cache.handleMiss uses), so an UNALLOCATED slot is always preferred and,
// once the working set exceeds n_slots, the least-recently-Visit'd slot is
// reused first. Eviction of a MODIFIED slot transitions it to OLD_MODIFIED
// (old_memory_loc recorded) rather than discarding data; UpdateCache later
// issues the writeback+refill this implies.
func (t *Table) assignSlot(blockAddr uint64) (int, error) {
	if way, ok := t.SlotForBlock(t.kIndex, blockAddr); ok {
		return way, nil
	}
	if t.isBeingRefilled(blockAddr) {
		return 0, fmt.Errorf("cache: kamlet %d block 0x%x is mid-refill on another slot, refusing eviction", t.kIndex, blockAddr)
	}

	victim := t.directory.FindVictim(blockAddr)
	if victim == nil {
		return 0, fmt.Errorf("cache: kamlet %d has no evictable slot for block 0x%x", t.kIndex, blockAddr)
	}
	way := victim.WayID
	if len(t.onSlot[way]) != 0 {
		return 0, fmt.Errorf("cache: kamlet %d LRU victim slot %d still has live waiting items", t.kIndex, way)
	}

	if victim.IsValid && t.slots[way].state == Modified {
		t.slots[way] = slotMeta{state: OldModified, memoryLoc: blockAddr, hasMemoryLoc: true, oldMemoryLoc: t.slots[way].memoryLoc, hasOldLoc: true}
		victim.IsDirty = true
	} else {
		t.slots[way] = slotMeta{state: Invalid, memoryLoc: blockAddr, hasMemoryLoc: true}
		victim.IsDirty = false
	}
	victim.Tag = blockAddr
	victim.IsValid = true
	t.directory.Visit(victim)
	return way, nil
}

func (t *Table) isBeingRefilled(blockAddr uint64) bool {
	for _, s := range t.slots {
		if s.hasMemoryLoc && s.memoryLoc == blockAddr && (s.state == Reading || s.state == WritingReading) {
			return true
		}
	}
	return false
}

// UpdateCache issues the memlet request implied by way's current state
// (READ_LINE from INVALID, WRITE_LINE_READ_LINE from OLD_MODIFIED) and
// transitions the slot immediately, so a second call before the response
// arrives is a no-op rather than a duplicate request.
func (t *Table) UpdateCache(way int, ident int) (RequestType, int, error) {
	s := t.slots[way]
	switch s.state {
	case Invalid:
		idx, err := t.requests.open(ident, way, s.memoryLoc, ReadLine)
		if err != nil {
			return 0, 0, err
		}
		t.slots[way].state = Reading
		return ReadLine, idx, nil
	case OldModified:
		idx, err := t.requests.open(ident, way, s.memoryLoc, WriteLineReadLine)
		if err != nil {
			return 0, 0, err
		}
		t.slots[way].state = WritingReading
		return WriteLineReadLine, idx, nil
	default:
		return 0, 0, fmt.Errorf("cache: UpdateCache called on slot %d in state %s", way, s.state)
	}
}

// ReceiveCacheResponse registers jamlet jInKIndex's response for the
// request carrying ident. Once every j_in_k jamlet has responded the slot
// transitions to SHARED, the request entry is freed, and every admitted
// witem holding the slot is marked cache-available.
func (t *Table) ReceiveCacheResponse(ident, jInKIndex int) error {
	idx, ok := t.requests.findByIdent(ident)
	if !ok {
		return fmt.Errorf("cache: kamlet %d no outstanding request for ident %d", t.kIndex, ident)
	}
	if !t.requests.markReceived(idx, jInKIndex) {
		return nil
	}
	way := t.requests.entries[idx].slot
	t.requests.close(idx)
	t.slots[way].state = Shared
	t.slots[way].hasOldLoc = false
	if block := t.directory.Lookup(0, t.slots[way].memoryLoc); block != nil {
		block.IsDirty = false
	}
	for _, w := range t.onSlot[way] {
		w.CacheIsAvail = true
	}
	return nil
}

// ClearCacheRequestSent re-arms jamlet jInKIndex's send for the request
// carrying ident, e.g. after a WRITE_LINE_READ_LINE_DROP, so the jamlet
// resends on the next cycle.
func (t *Table) ClearCacheRequestSent(ident, jInKIndex int) error {
	idx, ok := t.requests.findByIdent(ident)
	if !ok {
		return fmt.Errorf("cache: kamlet %d no outstanding request for ident %d", t.kIndex, ident)
	}
	t.requests.clearSent(idx, jInKIndex)
	return nil
}

// MarkSent records that jamlet jInKIndex has sent its share of the request
// carrying ident (meaningful only for WRITE_LINE_READ_LINE, whose sends are
// per-jamlet rather than broadcast by the cache table itself).
func (t *Table) MarkSent(ident, jInKIndex int) error {
	idx, ok := t.requests.findByIdent(ident)
	if !ok {
		return fmt.Errorf("cache: kamlet %d no outstanding request for ident %d", t.kIndex, ident)
	}
	t.requests.markSent(idx, jInKIndex)
	return nil
}

// MarkWrite transitions way from SHARED to MODIFIED on a write-hit. Per
// spec.md's resolved open question, a slot coming out of WRITE_LINE_READ_LINE
// resolves to SHARED even if the write that triggered the eviction was
// dirty; kinstrs re-dirty it here through the normal write path.
func (t *Table) MarkWrite(way int) {
	if t.slots[way].state == Shared {
		t.slots[way].state = Modified
		if block := t.directory.Lookup(0, t.slots[way].memoryLoc); block != nil {
			block.IsDirty = true
		}
	}
}

// beginAllMemory registers w as an active memory-wide barrier witem (either
// reads_all_memory or writes_all_memory), so future canAdmit checks see it.
// Called automatically by admit; pairs with endAllMemory.
func (t *Table) beginAllMemory(w *Witem) {
	if w.ReadsAllMemory {
		t.activeReadsAllMemory++
	}
	if w.WritesAllMemory {
		ws := -1
		if w.WriteSetIdent != nil {
			ws = *w.WriteSetIdent
		}
		t.activeWriteSets[ws]++
	}
}

// endAllMemory is the inverse of beginAllMemory, called when such a witem
// retires.
func (t *Table) endAllMemory(w *Witem) {
	if w.ReadsAllMemory && t.activeReadsAllMemory > 0 {
		t.activeReadsAllMemory--
	}
	if w.WritesAllMemory {
		ws := -1
		if w.WriteSetIdent != nil {
			ws = *w.WriteSetIdent
		}
		if t.activeWriteSets[ws] > 0 {
			t.activeWriteSets[ws]--
			if t.activeWriteSets[ws] == 0 {
				delete(t.activeWriteSets, ws)
			}
		}
	}
}
