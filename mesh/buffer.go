package mesh

// Buffer is a single-channel FIFO link between two routers (or a router
// and an edge endpoint), modeled as the teacher's pipeline registers are:
// an `incoming` staging area written by `Receive` during the compute
// phase, folded into the visible `queue` only on `Commit`, so a packet
// sent this cycle cannot be observed (and drained) until next cycle.
type Buffer struct {
	capacity int
	queue    []Packet
	incoming []Packet
}

// NewBuffer returns an empty Buffer holding at most capacity packets
// across both its committed and in-flight portions.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// CanReceive reports whether the buffer has room for one more packet this
// cycle. Callers must check this before Receive, per spec.md's router
// resource policy ("filled by producer via receive() that checks
// can_receive() first").
func (b *Buffer) CanReceive() bool {
	return len(b.queue)+len(b.incoming) < b.capacity
}

// Receive stages p for delivery, visible only after the next Commit. It
// returns false without effect if the buffer has no room.
func (b *Buffer) Receive(p Packet) bool {
	if !b.CanReceive() {
		return false
	}
	b.incoming = append(b.incoming, p)
	return true
}

// Front returns the oldest committed packet without removing it.
func (b *Buffer) Front() (Packet, bool) {
	if len(b.queue) == 0 {
		return Packet{}, false
	}
	return b.queue[0], true
}

// Pop removes and returns the oldest committed packet.
func (b *Buffer) Pop() (Packet, bool) {
	if len(b.queue) == 0 {
		return Packet{}, false
	}
	p := b.queue[0]
	b.queue = b.queue[1:]
	return p, true
}

// Len returns the number of packets currently available to Pop.
func (b *Buffer) Len() int { return len(b.queue) }

// Commit folds this cycle's staged arrivals into the visible queue. Every
// Buffer in a Mesh is committed once per cycle, after every router's
// compute phase has run, matching the update-phase discipline in
// spec.md §5.
func (b *Buffer) Commit() {
	if len(b.incoming) == 0 {
		return
	}
	b.queue = append(b.queue, b.incoming...)
	b.incoming = b.incoming[:0]
}
