package lamlet

// ElementState is the per-element lifecycle an OrderedBuffer entry walks
// through, per spec.md §3.6.
type ElementState int

const (
	ElementEmpty ElementState = iota
	ElementDispatched
	ElementReady
	ElementInFlight
	ElementComplete
)

// elementEntry is one OrderedBuffer slot: the element's dispatch ident, its
// resolved data (once Ready), and whether it faulted.
type elementEntry struct {
	state   ElementState
	ident   int
	data    []byte
	faulted bool
}

// OrderedBuffer enforces in-order commit for a vloxei/vsoxei op: elements
// are dispatched in index order, may complete out of order (different
// kamlets answer at different times), but are only drained (committed to
// the register file, for a load, or written to memory in order, for a
// store) via Process in strictly increasing element-index order. On the
// first fault seen, dispatch stops and faultedElement records the minimum
// faulting index; the buffer still drains every element already
// dispatched before reporting the fault upward, per spec.md §4.6.
type OrderedBuffer struct {
	entries []elementEntry

	nextToDispatch int
	nextToProcess  int

	capacity   int
	dataEW     int
	startIndex int
	isLoad     bool

	nElements      int
	faultedElement *int
}

// NewOrderedBuffer allocates a buffer of nElements entries, indexed from
// 0; startIndex is stored but does not offset the entries.
func NewOrderedBuffer(nElements int, isLoad bool, capacity, dataEW, startIndex int) *OrderedBuffer {
	return &OrderedBuffer{
		entries:    make([]elementEntry, nElements),
		capacity:   capacity,
		dataEW:     dataEW,
		startIndex: startIndex,
		isLoad:     isLoad,
		nElements:  nElements,
	}
}

// CanDispatch reports whether another element may be dispatched: there is
// one left to dispatch and the in-flight window (dispatched but not yet
// processed) has room.
func (b *OrderedBuffer) CanDispatch() bool {
	if b.nextToDispatch >= b.nElements {
		return false
	}
	return b.nextToDispatch-b.nextToProcess < b.capacity
}

// AddDispatched records element b.nextToDispatch as in flight under ident,
// returning the index it was assigned (always sequential, matching the
// element_index the caller already computed).
func (b *OrderedBuffer) AddDispatched(ident int) int {
	idx := b.nextToDispatch
	b.entries[idx] = elementEntry{state: ElementDispatched, ident: ident}
	b.nextToDispatch++
	return idx
}

// Resolve marks element idx Ready with its resolved data (for a load) or
// with the write having been accepted (for a store, data is nil).
// A faulted element carries no data.
func (b *OrderedBuffer) Resolve(idx int, data []byte, faulted bool) {
	b.entries[idx].state = ElementReady
	b.entries[idx].data = data
	b.entries[idx].faulted = faulted
	if faulted {
		b.recordFault(idx)
	}
}

func (b *OrderedBuffer) recordFault(idx int) {
	if b.faultedElement == nil || idx < *b.faultedElement {
		v := idx
		b.faultedElement = &v
	}
}

// FaultedElement returns the lowest-index element known to have faulted,
// or nil if none has (yet).
func (b *OrderedBuffer) FaultedElement() *int { return b.faultedElement }

// TruncateToDispatched stops the buffer from expecting any element beyond
// what has already been dispatched, called once a fault is known so
// AllComplete doesn't wait on elements that were never sent.
func (b *OrderedBuffer) TruncateToDispatched() {
	b.nElements = b.nextToDispatch
}

// Process drains every contiguous run of Ready entries starting at
// nextToProcess, in order, invoking commit(idx, data, faulted) for each and
// marking it Complete. Returns the number of elements drained this call.
func (b *OrderedBuffer) Process(commit func(idx int, data []byte, faulted bool)) int {
	n := 0
	for b.nextToProcess < len(b.entries) && b.entries[b.nextToProcess].state == ElementReady {
		e := &b.entries[b.nextToProcess]
		commit(b.nextToProcess, e.data, e.faulted)
		e.state = ElementComplete
		b.nextToProcess++
		n++
	}
	return n
}

// AllComplete reports whether every expected element (up to nElements, the
// truncated count after a fault) has been drained by Process.
func (b *OrderedBuffer) AllComplete() bool {
	return b.nextToProcess >= b.nElements
}
