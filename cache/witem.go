package cache

// Kind distinguishes the waiting-item variants that would otherwise be a
// polymorphic class hierarchy: a single sum type, switched on, per spec's
// design note on replacing that hierarchy.
type Kind int

const (
	// WaitingLoad / WaitingStore: cache-only, wait for CacheIsAvail.
	WaitingLoad Kind = iota
	WaitingStore
	// WaitingLoadJ2JWords / WaitingStoreJ2JWords: carry one ProtocolState
	// per (j_in_k x n_tags) jamlet-to-jamlet shuffle segment.
	WaitingLoadJ2JWords
	WaitingStoreJ2JWords
	// WaitingOrderedIndexedLoad: reads_all_memory barrier witem.
	WaitingOrderedIndexedLoad
	// LamletWaitingLoadIndexedElement / LamletWaitingStoreIndexedElement:
	// lamlet-side witems driving one OrderedBuffer entry each.
	LamletWaitingLoadIndexedElement
	LamletWaitingStoreIndexedElement
)

// SrcState is the sender side of a jamlet-to-jamlet protocol segment.
type SrcState int

const (
	NeedToSend SrcState = iota
	WaitingForResponse
	SrcComplete
)

// DstState is the receiver side of a jamlet-to-jamlet protocol segment.
type DstState int

const (
	WaitingForRequest DstState = iota
	NeedToAskForResend
	DstComplete
)

// ProtocolState tracks one (j_in_k, tag) segment of a jamlet-to-jamlet
// Load/Store shuffle.
type ProtocolState struct {
	Src SrcState
	Dst DstState
}

// Done reports whether this segment has reached its terminal state on both
// sides.
func (p ProtocolState) Done() bool {
	return p.Src == SrcComplete && p.Dst == DstComplete
}

// Witem is the cache table's central arbitration entity: a unit of
// in-flight work against a cache slot (and, for j2j/ordered variants,
// against the synchronization and register-token state beyond the cache).
type Witem struct {
	Kind Kind

	InstrIdent int

	CacheSlot    *int // nil until a slot is assigned
	CacheIsRead  bool
	CacheIsWrite bool
	CacheIsAvail bool

	ReadsAllMemory  bool
	WritesAllMemory bool
	WriteSetIdent   *int

	ProtocolStates []ProtocolState

	// OnReady, if set, is invoked (by Table.Pump) exactly once, the cycle
	// Ready() first becomes true, then the witem is retired.
	OnReady func()

	reserved bool // drew from the n_items_reserved pool; released on retire
}

// Ready reports whether w has finished everything the cache table is
// responsible for sequencing. Cache-only witems are ready once their slot
// is available; j2j witems additionally need every protocol segment done.
func (w *Witem) Ready() bool {
	if !w.CacheIsAvail {
		return false
	}
	switch w.Kind {
	case WaitingLoadJ2JWords, WaitingStoreJ2JWords:
		for _, ps := range w.ProtocolStates {
			if !ps.Done() {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// isWrite reports whether w should be treated as a writer for arbitration
// purposes (rules 4 and 5 in spec.md §4.2).
func (w *Witem) isWrite() bool { return w.CacheIsWrite }

// isRead reports whether w should be treated as a reader for arbitration
// purposes.
func (w *Witem) isRead() bool { return w.CacheIsRead }
