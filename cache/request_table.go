package cache

import "fmt"

// RequestType is the memlet protocol a cache-request-table entry drives.
type RequestType int

const (
	ReadLine RequestType = iota
	WriteLine
	WriteLineReadLine
)

// request is one outstanding memlet request: the fixed-size arena entry
// described in spec.md §4.9.
type request struct {
	inUse     bool
	ident     int
	slot      int
	addr      uint64
	kind      RequestType
	sent      []bool
	received  []bool
}

// requestTable is the per-kamlet fixed-size arena of outstanding memlet
// requests, indexed densely by a free list rather than growing.
type requestTable struct {
	jInK    int
	entries []request
	free    []int
}

func newRequestTable(n, jInK int) *requestTable {
	rt := &requestTable{jInK: jInK, entries: make([]request, n)}
	rt.free = make([]int, n)
	for i := range rt.free {
		rt.free[i] = n - 1 - i
	}
	return rt
}

// open allocates a new entry for ident/slot/addr/kind, returning its index.
// The number of senders/receivers it tracks is always j_in_k: for
// READ_LINE there is one sender (the cache table itself) broadcasting to
// j_in_k receivers, so only `received` is meaningful; for
// WRITE_LINE_READ_LINE each jamlet is independently a sender and a
// receiver, so both arrays are meaningful.
func (rt *requestTable) open(ident, slot int, addr uint64, kind RequestType) (int, error) {
	if len(rt.free) == 0 {
		return 0, fmt.Errorf("cache: request table exhausted (n_cache_requests=%d)", len(rt.entries))
	}
	idx := rt.free[len(rt.free)-1]
	rt.free = rt.free[:len(rt.free)-1]
	rt.entries[idx] = request{
		inUse:    true,
		ident:    ident,
		slot:     slot,
		addr:     addr,
		kind:     kind,
		sent:     make([]bool, rt.jInK),
		received: make([]bool, rt.jInK),
	}
	return idx, nil
}

func (rt *requestTable) close(idx int) {
	rt.entries[idx] = request{}
	rt.free = append(rt.free, idx)
}

func (rt *requestTable) findByIdent(ident int) (int, bool) {
	for i := range rt.entries {
		if rt.entries[i].inUse && rt.entries[i].ident == ident {
			return i, true
		}
	}
	return 0, false
}

// markSent records that jamlet jInKIndex has sent its share of entry idx's
// request (only meaningful for WRITE_LINE_READ_LINE).
func (rt *requestTable) markSent(idx, jInKIndex int) {
	rt.entries[idx].sent[jInKIndex] = true
}

// clearSent re-arms jamlet jInKIndex's send, e.g. after a
// WRITE_LINE_READ_LINE_DROP, so it resends next cycle.
func (rt *requestTable) clearSent(idx, jInKIndex int) {
	rt.entries[idx].sent[jInKIndex] = false
}

// markReceived records receipt of jamlet jInKIndex's response and reports
// whether every jamlet has now responded.
func (rt *requestTable) markReceived(idx, jInKIndex int) bool {
	rt.entries[idx].received[jInKIndex] = true
	for _, got := range rt.entries[idx].received {
		if !got {
			return false
		}
	}
	return true
}
