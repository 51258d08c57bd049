package mesh

// Router is an addressable node in the mesh. All of its actual buffering
// lives in the owning Mesh's link tables; Router itself is just an
// identity other components can hold a reference to (e.g. a Kamlet
// remembers its Router to call Mesh.Inject/Deliverable against).
type Router struct {
	Pos Coord
}

// NewRouter returns a Router identity at pos. Mesh.AddRouter is the usual
// way to obtain one, since it also provisions the position's local
// delivery buffers.
func NewRouter(pos Coord) *Router {
	return &Router{Pos: pos}
}
