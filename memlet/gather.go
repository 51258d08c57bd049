package memlet

import "github.com/sarchlab/zamlet/mesh"

// gatherSlot assembles the j_in_k per-jamlet shards of a WRITE_LINE or
// WRITE_LINE_READ_LINE request (one shard per jamlet, all sharing an
// ident) before the memlet can apply the write.
type gatherSlot struct {
	inUse     bool
	ident     int
	kind      mesh.MessageType // WriteLine or WriteLineReadLine
	writeAddr uint64
	readAddr  uint64
	requester mesh.Coord

	got      []bool
	sramAddr []uint64
	data     []byte // assembled cache-line-sized write payload
}

func (s *gatherSlot) allReceived() bool {
	for _, g := range s.got {
		if !g {
			return false
		}
	}
	return true
}

// gatherTable is the fixed-size arena of in-flight gather slots a memlet
// holds, keyed by ident. Exhaustion drops a WRITE_LINE_READ_LINE shard
// (the only variant the wire format gives a DROP response for); a
// WRITE_LINE shard arriving with no slot free is held by the caller to
// retry, since no WRITE_LINE_DROP message exists on the wire.
type gatherTable struct {
	jInK      int
	lineBytes int
	slots     []gatherSlot
	free      []int
	byIdent   map[int]int
}

func newGatherTable(n, jInK, lineBytes int) *gatherTable {
	gt := &gatherTable{
		jInK:      jInK,
		lineBytes: lineBytes,
		slots:     make([]gatherSlot, n),
		byIdent:   make(map[int]int),
	}
	gt.free = make([]int, n)
	for i := range gt.free {
		gt.free[i] = n - 1 - i
	}
	return gt
}

// admit returns the slot for ident, allocating one on first sight. ok is
// false only when no slot is free.
func (gt *gatherTable) admit(ident int, kind mesh.MessageType, writeAddr, readAddr uint64, requester mesh.Coord) (*gatherSlot, bool) {
	if idx, ok := gt.byIdent[ident]; ok {
		return &gt.slots[idx], true
	}
	if len(gt.free) == 0 {
		return nil, false
	}
	idx := gt.free[len(gt.free)-1]
	gt.free = gt.free[:len(gt.free)-1]
	gt.slots[idx] = gatherSlot{
		inUse:     true,
		ident:     ident,
		kind:      kind,
		writeAddr: writeAddr,
		readAddr:  readAddr,
		requester: requester,
		got:       make([]bool, gt.jInK),
		sramAddr:  make([]uint64, gt.jInK),
		data:      make([]byte, gt.lineBytes),
	}
	gt.byIdent[ident] = idx
	return &gt.slots[idx], true
}

// release frees ident's slot for reuse.
func (gt *gatherTable) release(ident int) {
	idx, ok := gt.byIdent[ident]
	if !ok {
		return
	}
	delete(gt.byIdent, ident)
	gt.slots[idx] = gatherSlot{}
	gt.free = append(gt.free, idx)
}
