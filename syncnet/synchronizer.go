package syncnet

import (
	"fmt"

	"github.com/sarchlab/zamlet/monitor"
	"github.com/sarchlab/zamlet/params"
)

// Synchronizer runs the lamlet-wide synchronization protocol for a single
// kamlet, or for the lamlet itself. It tracks every concurrently active
// sync_ident independently and talks to all 8 neighbors over a dedicated
// bus, one data_width-bit word per direction per cycle — entirely
// separate from the main mesh.
//
// The lamlet's Synchronizer sits at (0, -1): it connects to kamlet (0,0)
// via S, and to kamlet (1,0) via SE once k_cols >= 2, and otherwise
// follows the same protocol as any kamlet. Grounded on the Synchronizer
// class in synchronization.py.
type Synchronizer struct {
	p params.LamletParams
	x, y int // y == -1 marks the lamlet's synchronizer

	totalCols, totalRows int

	tracer *monitor.Tracer

	dataWidth  int
	identWidth int

	input  [8]*wordQueue
	output [8]*wordQueue

	partial  [8][]uint64
	outgoing [8][]uint64

	states      map[int]*syncState
	faultChains map[int]int // trigger ident -> target ident
	spans       map[int]*monitor.Span
}

// SynchronizerOption configures a Synchronizer at construction.
type SynchronizerOption func(*Synchronizer)

// WithTracer attaches a monitor.Tracer; each sync_ident gets a span
// running from its first local_event to its completion here.
func WithTracer(t *monitor.Tracer) SynchronizerOption {
	return func(s *Synchronizer) { s.tracer = t }
}

// NewSynchronizer builds the synchronizer for kamlet (x, y), or for the
// lamlet if y == -1 (in which case x must be 0).
func NewSynchronizer(p params.LamletParams, x, y int, opts ...SynchronizerOption) *Synchronizer {
	if y == -1 && x != 0 {
		panic(fmt.Sprintf("syncnet: lamlet synchronizer must be at x=0, got x=%d", x))
	}
	if y != -1 && (x < 0 || x >= p.KCols || y < 0 || y >= p.KRows) {
		panic(fmt.Sprintf("syncnet: kamlet synchronizer (%d,%d) out of range [0,%d)x[0,%d)", x, y, p.KCols, p.KRows))
	}

	s := &Synchronizer{
		p:           p,
		x:           x,
		y:           y,
		totalCols:   p.KCols,
		totalRows:   p.KRows,
		dataWidth:   p.SyncBusWidth - 1,
		identWidth:  p.SyncIdentWidth,
		states:      make(map[int]*syncState),
		faultChains: make(map[int]int),
		spans:       make(map[int]*monitor.Span),
	}
	for d := range s.input {
		s.input[d] = newWordQueue(8)
		s.output[d] = newWordQueue(8)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = monitor.NewTracer()
	}
	return s
}

// HasNeighbor reports whether a neighbor exists in direction d: either an
// ordinary in-grid kamlet, or — for kamlet (0,0) and the lamlet itself —
// the special N/S link between them.
func (s *Synchronizer) HasNeighbor(d Direction) bool {
	dx, dy := d.delta()
	nx, ny := s.x+dx, s.y+dy

	if s.y == -1 {
		return 0 <= nx && nx < s.totalCols && 0 <= ny && ny < s.totalRows
	}
	if nx == 0 && ny == -1 {
		return true
	}
	return 0 <= nx && nx < s.totalCols && 0 <= ny && ny < s.totalRows
}

func (s *Synchronizer) hasQuadrant(name string) bool {
	switch name {
	case "NE":
		return s.x < s.totalCols-1 && s.y > 0
	case "NW":
		return s.x > 0 && s.y > 0
	case "SE":
		return s.x < s.totalCols-1 && s.y < s.totalRows-1
	case "SW":
		return s.x > 0 && s.y < s.totalRows-1
	}
	return false
}

func (s *Synchronizer) hasColumnRegion(name string) bool {
	switch name {
	case "N":
		if s.x == 0 && s.y == 0 {
			return true
		}
		return s.y > 0
	case "S":
		return s.y < s.totalRows-1
	}
	return false
}

func (s *Synchronizer) hasRowRegion(name string) bool {
	if s.y == -1 {
		return false
	}
	switch name {
	case "E":
		return s.x < s.totalCols-1
	case "W":
		return s.x > 0
	}
	return false
}

// sendRequirementsFor returns this position's requirement table: kamlet
// (0,0) carries extra requirements so the lamlet always sees a summary of
// the whole grid.
func (s *Synchronizer) sendRequirementsFor(d Direction) []region {
	if s.x == 0 && s.y == 0 {
		return sendRequirementsOrigin[d]
	}
	return sendRequirements[d]
}

// StartSync begins tracking a new sync_ident, pre-marking any region that
// has no kamlets in it (e.g. the edge of the grid) as already synced.
func (s *Synchronizer) StartSync(ident int) {
	if _, ok := s.states[ident]; ok {
		panic(fmt.Sprintf("syncnet: sync_ident=%d already exists at (%d,%d)", ident, s.x, s.y))
	}
	st := newSyncState(ident)
	for name := range st.quadrantSynced {
		if !s.hasQuadrant(name) {
			st.quadrantSynced[name] = true
		}
	}
	for name := range st.columnSynced {
		if !s.hasColumnRegion(name) {
			st.columnSynced[name] = true
		}
	}
	for name := range st.rowSynced {
		if !s.hasRowRegion(name) {
			st.rowSynced[name] = true
		}
	}
	s.states[ident] = st
}

// freshState returns ident's state, starting one (clearing a previously
// completed one first, since sync_ident values are reused once a prior
// sync on that ident has finished).
func (s *Synchronizer) freshState(ident int) *syncState {
	if st, ok := s.states[ident]; ok && st.completed {
		delete(s.states, ident)
	}
	if _, ok := s.states[ident]; !ok {
		s.StartSync(ident)
	}
	return s.states[ident]
}

// LocalEvent reports that this kamlet has itself seen sync_ident's event,
// optionally contributing value for the min-reduction.
func (s *Synchronizer) LocalEvent(ident int, value *int) {
	st := s.freshState(ident)
	st.localSeen = true
	st.localValue = value
	if _, ok := s.spans[ident]; !ok && s.tracer != nil {
		s.spans[ident] = s.tracer.StartSpan(0, fmt.Sprintf("sync/%d_%d/%d", s.x, s.y, ident), nil)
	}
	s.updateCompleted(ident)
}

// HasSync reports whether a sync operation is currently tracked for ident.
func (s *Synchronizer) HasSync(ident int) bool {
	_, ok := s.states[ident]
	return ok
}

// IsComplete reports whether ident's synchronization has finished: this
// node has seen the event locally, every region has reported in, and
// every outbound send this node owes has gone out.
func (s *Synchronizer) IsComplete(ident int) bool {
	st, ok := s.states[ident]
	if !ok {
		return false
	}
	return st.completed
}

// GetMinValue returns the minimum value contributed anywhere in the grid
// for ident, or nil if nobody contributed one (or ident isn't tracked).
func (s *Synchronizer) GetMinValue(ident int) *int {
	st, ok := s.states[ident]
	if !ok {
		return nil
	}
	return st.minOverAll()
}

// ClearSync drops a completed sync_ident's state, e.g. once its result has
// been consumed and the caller is certain it will never be referenced
// again under this ident.
func (s *Synchronizer) ClearSync(ident int) {
	delete(s.states, ident)
	delete(s.spans, ident)
}

// ChainFaultSync arranges for target's sync to start automatically once
// trigger completes: value is 0 if trigger's reduction found a fault
// (a non-nil min value), or absent otherwise. If trigger has already
// completed, target's LocalEvent fires immediately instead of being
// deferred. Used to serialize the fault syncs of consecutive chunks
// without the caller needing to poll.
func (s *Synchronizer) ChainFaultSync(trigger, target int) {
	if st, ok := s.states[trigger]; ok && st.completed {
		s.fireChain(trigger, target)
		return
	}
	s.faultChains[trigger] = target
}

func (s *Synchronizer) fireChain(trigger, target int) {
	min := s.GetMinValue(trigger)
	if min != nil {
		zero := 0
		s.LocalEvent(target, &zero)
	} else {
		s.LocalEvent(target, nil)
	}
}

func (s *Synchronizer) updateCompleted(ident int) {
	st, ok := s.states[ident]
	if !ok || st.completed {
		return
	}
	if !s.isComplete(st) {
		return
	}
	st.completed = true
	if span, ok := s.spans[ident]; ok && s.tracer != nil {
		min := st.minOverAll()
		s.tracer.EndSpan(0, span, fmt.Sprintf("min=%v", min))
	}
	if target, ok := s.faultChains[ident]; ok {
		delete(s.faultChains, ident)
		s.fireChain(ident, target)
	}
}

func (s *Synchronizer) isComplete(st *syncState) bool {
	if !st.localSeen {
		return false
	}
	for _, synced := range st.quadrantSynced {
		if !synced {
			return false
		}
	}
	for _, synced := range st.columnSynced {
		if !synced {
			return false
		}
	}
	for _, synced := range st.rowSynced {
		if !synced {
			return false
		}
	}
	return s.allSendsComplete(st)
}

func (s *Synchronizer) allSendsComplete(st *syncState) bool {
	for _, d := range Directions {
		if s.HasNeighbor(d) && !st.sentDirections[d] {
			return false
		}
	}
	return true
}

func (s *Synchronizer) shouldSend(st *syncState, d Direction) bool {
	if !s.HasNeighbor(d) || st.sentDirections[d] || !st.localSeen {
		return false
	}
	return st.satisfied(s.sendRequirementsFor(d))
}

// CanReceive reports whether direction d's input link has room for
// another bus word this cycle.
func (s *Synchronizer) CanReceive(d Direction) bool {
	return s.input[d].CanReceive()
}

// Receive delivers one bus word from the neighbor in direction d. The
// caller (whatever wires two adjacent Synchronizers together) must check
// CanReceive first.
func (s *Synchronizer) Receive(d Direction, busVal uint64) {
	if !s.input[d].Receive(busVal) {
		panic(fmt.Sprintf("syncnet: input overflow at (%d,%d) dir=%s", s.x, s.y, d))
	}
}

// HasOutput reports whether direction d's output link has a bus word
// ready for the neighbor there to pick up.
func (s *Synchronizer) HasOutput(d Direction) bool {
	return s.output[d].Len() > 0
}

// GetOutput pops the next bus word owed to the neighbor in direction d.
func (s *Synchronizer) GetOutput(d Direction) (uint64, bool) {
	return s.output[d].Pop()
}

// Pump advances this synchronizer by one cycle: it assembles any inbound
// packet words completed this cycle, continues any outbound packet
// already in progress one word further, starts new outbound packets for
// every direction shouldSend now permits, and then commits every link's
// buffers so this cycle's traffic becomes visible next cycle. Grounded
// on Synchronizer.run()'s per-cycle body in synchronization.py, unrolled
// from its infinite coroutine loop into a single call a sim driver makes
// once per cycle.
func (s *Synchronizer) Pump(cycle uint64) {
	for _, d := range Directions {
		s.receiveWord(d)
	}
	for _, d := range Directions {
		s.continueSend(d)
	}
	for ident, st := range s.states {
		for _, d := range Directions {
			if len(s.outgoing[d]) == 0 && s.shouldSend(st, d) {
				s.startSend(st, d)
			}
		}
		s.updateCompleted(ident)
	}

	for d := range s.input {
		s.input[d].Commit()
		s.output[d].Commit()
	}
}

func (s *Synchronizer) receiveWord(d Direction) {
	busVal, ok := s.input[d].Pop()
	if !ok {
		return
	}
	dataMask := uint64(1)<<uint(s.dataWidth) - 1
	lastWord := (busVal >> uint(s.dataWidth)) & 1
	dataWord := busVal & dataMask
	s.partial[d] = append(s.partial[d], dataWord)

	if lastWord == 1 {
		pkt := packetFromWords(s.partial[d], s.dataWidth, s.identWidth)
		s.partial[d] = nil
		s.processReceived(pkt, d)
	}
}

func (s *Synchronizer) processReceived(pkt packet, from Direction) {
	st := s.freshState(pkt.ident)
	st.markRegionSynced(from, pkt.value)
	s.updateCompleted(pkt.ident)
}

func (s *Synchronizer) continueSend(d Direction) {
	if len(s.outgoing[d]) == 0 {
		return
	}
	if !s.output[d].CanReceive() {
		return
	}
	dataWord := s.outgoing[d][0]
	s.outgoing[d] = s.outgoing[d][1:]
	var lastWord uint64
	if len(s.outgoing[d]) == 0 {
		lastWord = 1
	}
	busVal := (lastWord << uint(s.dataWidth)) | dataWord
	s.output[d].Receive(busVal)
}

func (s *Synchronizer) startSend(st *syncState, d Direction) {
	value := st.minOver(s.sendRequirementsFor(d))
	pkt := packet{ident: st.ident, value: value}
	s.outgoing[d] = pkt.toWords(s.dataWidth, s.identWidth)
	st.sentDirections[d] = true
}
