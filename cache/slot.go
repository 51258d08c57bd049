// Package cache implements the per-kamlet cache-line coherence table: slot
// state machine, waiting-item arbitration, and the memlet request table
// that drives READ_LINE / WRITE_LINE / WRITE_LINE_READ_LINE traffic.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// SlotState is one cache slot's coherence state.
type SlotState int

const (
	Unallocated SlotState = iota
	Invalid
	Shared
	Modified
	Reading
	WritingReading
	OldModified
)

func (s SlotState) String() string {
	switch s {
	case Unallocated:
		return "UNALLOCATED"
	case Invalid:
		return "INVALID"
	case Shared:
		return "SHARED"
	case Modified:
		return "MODIFIED"
	case Reading:
		return "READING"
	case WritingReading:
		return "WRITING_READING"
	case OldModified:
		return "OLD_MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// slotMeta is the table's own per-slot bookkeeping, layered on top of the
// akita directory's Block (which tracks tag/valid/dirty/LRU). The state
// machine here has more states than Block.IsValid/IsDirty can distinguish,
// so it is tracked independently and kept consistent with the directory by
// Table's methods.
type slotMeta struct {
	state        SlotState
	memoryLoc    uint64
	hasMemoryLoc bool
	oldMemoryLoc uint64
	hasOldLoc    bool
}

// newDirectory builds the akita cache directory backing a Table: a single
// set holding nSlots fully-associative ways, LRU victim selection — the
// same directory/victim-finder pairing the teacher's Cache.New uses, sized
// down to one set since slot assignment here is content-addressed by the
// cache table itself, not by a hardware index bits split.
func newDirectory(nSlots int) *akitacache.DirectoryImpl {
	return akitacache.NewDirectory(1, nSlots, 1, akitacache.NewLRUVictimFinder())
}
