package mesh

import "github.com/sarchlab/zamlet/params"

// Mesh is the whole interconnect: a set of Router identities, the
// per-(owner, producer, channel) Buffers that implement each directed
// link between them, and a per-position set of local delivery buffers
// for whatever endpoint (kamlet, lamlet, memlet) is attached there.
//
// Forwarding is dimension-order routing (move in X to match, then Y) over
// whatever links have actually been Connect-ed; positions outside the
// kamlet grid proper (the lamlet at (0,-1), memlets hanging off edge
// routers) are ordinary Coords as far as Mesh is concerned, wired in by
// whoever assembles the simulation.
type Mesh struct {
	p params.LamletParams

	routers map[Coord]*Router
	links   map[Coord]map[Coord][]*Buffer // links[owner][producer][channel]
	local   map[Coord][]*Buffer           // local[pos][channel]
}

// NewMesh returns an empty Mesh sized for p.NChannels channels and
// p.RouterBufferDepth per-link buffer depth.
func NewMesh(p params.LamletParams) *Mesh {
	return &Mesh{
		p:       p,
		routers: make(map[Coord]*Router),
		links:   make(map[Coord]map[Coord][]*Buffer),
		local:   make(map[Coord][]*Buffer),
	}
}

func (m *Mesh) newChannelBuffers() []*Buffer {
	bufs := make([]*Buffer, m.p.NChannels)
	for i := range bufs {
		bufs[i] = NewBuffer(m.p.RouterBufferDepth)
	}
	return bufs
}

// AddRouter returns the Router at pos, creating it (and its local
// delivery buffers) if this is the first reference to pos.
func (m *Mesh) AddRouter(pos Coord) *Router {
	if r, ok := m.routers[pos]; ok {
		return r
	}
	r := NewRouter(pos)
	m.routers[pos] = r
	m.local[pos] = m.newChannelBuffers()
	return r
}

// Connect wires a bidirectional link between a and b: each gets its own
// per-channel incoming buffers, owned by the receiving side, exactly as
// spec.md's router resource policy describes ("input buffer owned by the
// consuming router"). a and b must be grid-adjacent (unit Chebyshev
// distance along one axis) for dimension-order routing to find this link
// later; Connect does not itself check this, since attachment points
// outside the kamlet grid (lamlet, memlets) are still one step away from
// their attached router.
func (m *Mesh) Connect(a, b Coord) {
	m.AddRouter(a)
	m.AddRouter(b)
	if m.links[b] == nil {
		m.links[b] = make(map[Coord][]*Buffer)
	}
	if m.links[a] == nil {
		m.links[a] = make(map[Coord][]*Buffer)
	}
	m.links[b][a] = m.newChannelBuffers()
	m.links[a][b] = m.newChannelBuffers()
}

// NewGridMesh builds a width x height rectangular mesh with every
// horizontally/vertically adjacent pair of routers connected, the
// topology backing the kamlet grid. Attachment points outside the grid
// (lamlet, memlets) are added afterward with individual Connect calls.
func NewGridMesh(p params.LamletParams, width, height int) *Mesh {
	m := NewMesh(p)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pos := Coord{X: x, Y: y}
			m.AddRouter(pos)
			if x > 0 {
				m.Connect(pos, Coord{X: x - 1, Y: y})
			}
			if y > 0 {
				m.Connect(pos, Coord{X: x, Y: y - 1})
			}
		}
	}
	return m
}

// nextHop returns the router one step from cur on the dimension-order
// path toward dst (X first, then Y), and whether that link exists. If cur
// already equals dst, it returns cur itself with ok=true (caller should
// treat that as "deliver locally", not call Receive again).
func (m *Mesh) nextHop(cur, dst Coord) (Coord, bool) {
	next := cur
	switch {
	case cur.X != dst.X:
		if dst.X > cur.X {
			next.X++
		} else {
			next.X--
		}
	case cur.Y != dst.Y:
		if dst.Y > cur.Y {
			next.Y++
		} else {
			next.Y--
		}
	default:
		return cur, true
	}
	if _, ok := m.links[next][cur]; !ok {
		return Coord{}, false
	}
	return next, true
}

// Inject hands p to the mesh as if the endpoint attached at `at`
// originated it: delivered immediately to at's local buffer if p.Dst==at,
// otherwise staged onto the first hop toward p.Dst. Returns false if the
// relevant buffer has no room (the caller should retry next cycle) or if
// no route exists from at toward p.Dst.
func (m *Mesh) Inject(at Coord, p Packet) bool {
	p.Src = at
	ch := p.Channel()
	if p.Dst == at {
		return m.local[at][ch].Receive(p)
	}
	next, ok := m.nextHop(at, p.Dst)
	if !ok {
		return false
	}
	return m.links[next][at][ch].Receive(p)
}

// Deliverable returns the local delivery buffer for channel ch at pos,
// for the endpoint attached there to Pop completed packets from.
func (m *Mesh) Deliverable(pos Coord, ch int) *Buffer {
	return m.local[pos][ch]
}

// Step is the compute phase: every router with a packet queued on some
// incoming link forwards it one hop (onward toward its destination, or
// into local delivery if it has arrived), respecting the next buffer's
// capacity. A link whose next hop is full simply isn't drained this
// cycle, which is the only backpressure model this mesh has — there is
// no separate credit protocol (explicitly out of scope).
func (m *Mesh) Step() {
	for owner, byProducer := range m.links {
		for _, bufs := range byProducer {
			for ch, buf := range bufs {
				pkt, ok := buf.Front()
				if !ok {
					continue
				}
				if pkt.Dst == owner {
					if m.local[owner][ch].Receive(pkt) {
						buf.Pop()
					}
					continue
				}
				next, ok := m.nextHop(owner, pkt.Dst)
				if !ok {
					continue
				}
				if m.links[next][owner][ch].Receive(pkt) {
					buf.Pop()
				}
			}
		}
	}
}

// Commit folds every buffer's staged arrivals (from this cycle's Inject
// calls and Step forwarding) into its visible queue, per the two-phase
// compute/commit cycle model.
func (m *Mesh) Commit() {
	for _, byProducer := range m.links {
		for _, bufs := range byProducer {
			for _, buf := range bufs {
				buf.Commit()
			}
		}
	}
	for _, bufs := range m.local {
		for _, buf := range bufs {
			buf.Commit()
		}
	}
}
