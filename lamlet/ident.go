package lamlet

// identAllocator hands out circular instr_ident ranges from a fixed-size
// ring of max_response_tags slots, per spec.md §4.7. A tag-carrying kinstr
// reserves 1+word_bytes consecutive idents (one base ident plus one per
// possible response tag byte). Allocation blocks (via CanAllocate) when
// handing out the next range would overtake the oldest ident any kamlet's
// waiting-item table still has outstanding, since idents wrap and must
// never alias a still-active one.
type identAllocator struct {
	ringSize int
	next     int

	// oldestActive reports, across every kamlet's witem table, the
	// outstanding InstrIdent nearest ahead of next in ring order (the
	// oldest one), or ok=false if nothing is outstanding. Supplied by the Lamlet so
	// this allocator stays a pure ring-math component, not one that reaches
	// into kamlet internals itself.
	oldestActive func() (ident int, ok bool)
}

func newIdentAllocator(ringSize int, oldestActive func() (int, bool)) *identAllocator {
	return &identAllocator{ringSize: ringSize, oldestActive: oldestActive}
}

// CanAllocate reports whether a range of n idents starting at next would
// stay within the fairness distance of the oldest still-active ident, i.e.
// not wrap around and collide with it.
func (a *identAllocator) CanAllocate(n int) bool {
	oldest, ok := a.oldestActive()
	if !ok {
		return true
	}
	distance := (oldest - a.next + a.ringSize) % a.ringSize
	return n <= distance
}

// Allocate reserves n consecutive idents (mod ringSize) and returns the
// first. Callers must check CanAllocate first; Allocate does not block.
func (a *identAllocator) Allocate(n int) int {
	ident := a.next
	a.next = (a.next + n) % a.ringSize
	return ident
}

// writesetAllocator is an unbounded monotonic counter: writeset_ident groups
// register-file byte writes that are known to target disjoint bytes, so it
// never needs to wrap or be reclaimed (python's Lamlet.next_writeset_ident).
type writesetAllocator struct {
	next int
}

func (a *writesetAllocator) Allocate() int {
	id := a.next
	a.next++
	return id
}
