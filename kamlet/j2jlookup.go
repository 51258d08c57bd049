package kamlet

// j2jEntry is the kamlet-side bookkeeping for one in-flight jamlet-to-
// jamlet witem: where each tag's data lives locally and whether the
// slot is currently writable. cache.Witem itself only tracks the
// protocol's Src/Dst state machine, not the domain addressing a kinstr
// attaches to it, so the kamlet that actually knows the vreg/SRAM
// mapping keeps this alongside the witem rather than overloading it.
type j2jEntry struct {
	sramAddr map[int]int // tag -> local SRAM offset
	nBytes   map[int]int // tag -> segment length
	writable bool
}

// j2jLookupTable implements jamlet.WitemLookup against the kamlet's own
// admitted j2j witems.
type j2jLookupTable struct {
	byIdent map[int]*j2jEntry
}

func newJ2JLookupTable() *j2jLookupTable {
	return &j2jLookupTable{byIdent: make(map[int]*j2jEntry)}
}

// admit registers that ident's witem has arrived, with the given tag ->
// (sramAddr, nBytes) layout and writability. Call this once the owning
// kinstr has actually claimed its register tokens so writable reflects
// reality.
func (t *j2jLookupTable) admit(ident int, sramAddr, nBytes map[int]int, writable bool) {
	t.byIdent[ident] = &j2jEntry{sramAddr: sramAddr, nBytes: nBytes, writable: writable}
}

// release drops ident's entry once its witem has retired.
func (t *j2jLookupTable) release(ident int) {
	delete(t.byIdent, ident)
}

// setWritable updates whether ident's slot may currently accept a Store,
// e.g. once register tokens free up after previously blocking one.
func (t *j2jLookupTable) setWritable(ident int, writable bool) {
	if e, ok := t.byIdent[ident]; ok {
		e.writable = writable
	}
}

// Resolve implements jamlet.WitemLookup.
func (t *j2jLookupTable) Resolve(ident, tag int) (sramAddr, nBytes int, writable, ok bool) {
	e, found := t.byIdent[ident]
	if !found {
		return 0, 0, false, false
	}
	addr, hasAddr := e.sramAddr[tag]
	n, hasN := e.nBytes[tag]
	if !hasAddr || !hasN {
		return 0, 0, false, false
	}
	return addr, n, e.writable, true
}

// MarkModified implements jamlet.WitemLookup. The actual MODIFIED state
// transition happens on the cache slot via cache.Table.MarkWrite, called
// by the kamlet once it knows which way this ident's slot occupies; this
// side table has no slot/way of its own to flip.
func (t *j2jLookupTable) MarkModified(ident, tag int) {}
