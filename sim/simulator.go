// Package sim wires together one lamlet, its grid of kamlets (each owning
// j_in_k jamlets), the packet mesh, one memlet per kamlet, and the sync
// network, into the single cycle-accurate Simulator a caller drives one
// Cycle() at a time. Every other package in this module is an importable
// library; this is the one place that owns the wiring, mirroring the
// teacher's emu/timing split between functional components and the
// cycle-accurate driver that schedules them.
package sim

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/zamlet/addr"
	"github.com/sarchlab/zamlet/kamlet"
	"github.com/sarchlab/zamlet/lamlet"
	"github.com/sarchlab/zamlet/memlet"
	"github.com/sarchlab/zamlet/mesh"
	"github.com/sarchlab/zamlet/monitor"
	"github.com/sarchlab/zamlet/params"
	"github.com/sarchlab/zamlet/syncnet"
)

// syncLink is one wire of the sync-bus overlay: a bidirectional connection
// between two Synchronizers' named directions, stepped once per cycle ahead
// of pumping either side. Grounded on the same wiring lamlet's own test grid
// and syncnet's synchronizer tests use to exercise the 8-neighbor gather
// tree end to end.
type syncLink struct {
	a  *syncnet.Synchronizer
	da syncnet.Direction
	b  *syncnet.Synchronizer
	db syncnet.Direction
}

func (sl syncLink) step() {
	if sl.a.HasOutput(sl.da) && sl.b.CanReceive(sl.db) {
		if v, ok := sl.a.GetOutput(sl.da); ok {
			sl.b.Receive(sl.db, v)
		}
	}
	if sl.b.HasOutput(sl.db) && sl.a.CanReceive(sl.da) {
		if v, ok := sl.b.GetOutput(sl.db); ok {
			sl.a.Receive(sl.da, v)
		}
	}
}

// Simulator is a complete zamlet instance: one lamlet, its k_in_l kamlets
// (each with j_in_k jamlets), one memlet per kamlet, the packet mesh
// connecting them, and the sync-bus overlay rooted at the lamlet's own
// corner Synchronizer. Simulator.Cycle() advances every component by one
// cycle using the same two-phase compute/commit discipline the teacher's
// Pipeline.Tick() applies to its fixed five stages, generalized here to
// however many components the configured geometry produces.
type Simulator struct {
	params  params.LamletParams
	mesh    *mesh.Mesh
	kamlets []*kamlet.Kamlet
	memlets []*memlet.Memlet
	lamlet  *lamlet.Lamlet

	syncLinks []syncLink

	cycle uint64
}

// Option configures a Simulator at construction.
type Option func(*Simulator, *[]lamlet.LamletOption)

// WithTracer hands a monitor.Tracer to the lamlet via lamlet.WithTracer.
// The lamlet stores it but opens no spans of its own on it.
func WithTracer(t *monitor.Tracer) Option {
	return func(s *Simulator, lopts *[]lamlet.LamletOption) {
		*lopts = append(*lopts, lamlet.WithTracer(t))
	}
}

// WithScalarExecutor overrides the HTIF syscall sink every SYS_write (and
// friends) is routed to, in place of the default stdout sink.
func WithScalarExecutor(e lamlet.ScalarExecutor) Option {
	return func(s *Simulator, lopts *[]lamlet.LamletOption) {
		*lopts = append(*lopts, lamlet.WithScalarExecutor(e))
	}
}

// New builds a Simulator from geometry p: k_cols*k_rows kamlets arranged in
// a grid, one memlet per kamlet directly below it (assumes k_rows row 0 is
// the only kamlet row the mesh needs memlet room under — true of every
// configuration this module ships, including params.Default()), and the
// lamlet's own corner Synchronizer linked to the per-kamlet sync overlay.
func New(p params.LamletParams, opts ...Option) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	s := &Simulator{params: p}
	s.mesh = mesh.NewGridMesh(p, p.KCols, p.KRows+1)

	for kIndex := 0; kIndex < p.KCount(); kIndex++ {
		kx, ky := kIndex%p.KCols, kIndex/p.KCols
		kPos := mesh.Coord{X: kx, Y: ky}
		mPos := mesh.Coord{X: kx, Y: ky + 1}
		s.kamlets = append(s.kamlets, kamlet.NewKamlet(p, kIndex, kPos, mPos, s.mesh, p.WordBytes))
		s.memlets = append(s.memlets, memlet.NewMemlet(p, mPos, s.mesh))
	}

	var lopts []lamlet.LamletOption
	for _, opt := range opts {
		opt(s, &lopts)
	}
	s.lamlet = lamlet.NewLamlet(p, s.kamlets, lopts...)

	s.wireSyncBus()
	return s, nil
}

// wireSyncBus links the lamlet's corner Synchronizer to kamlet 0 (due
// south) and, for a multi-column grid, to kamlet 1 (southeast), then links
// every pair of horizontally/vertically adjacent kamlets' Synchronizers —
// the same topology the sync-bus gather tree assumes when it reduces a
// lamlet-wide fault-sync or completion round via cascaded min-reduction
// through kamlet-to-kamlet hops rather than a direct lamlet-to-every-kamlet
// star.
func (s *Simulator) wireSyncBus() {
	add := func(a *syncnet.Synchronizer, da syncnet.Direction, b *syncnet.Synchronizer, db syncnet.Direction) {
		s.syncLinks = append(s.syncLinks, syncLink{a: a, da: da, b: b, db: db})
	}
	p := s.params
	add(s.lamlet.Synchronizer(), syncnet.S, s.lamlet.KamletSynchronizer(0), syncnet.N)
	if p.KCols >= 2 {
		add(s.lamlet.Synchronizer(), syncnet.SE, s.lamlet.KamletSynchronizer(1), syncnet.NW)
	}
	for x := 0; x < p.KCols; x++ {
		for y := 0; y < p.KRows; y++ {
			kIndex := y*p.KCols + x
			if x+1 < p.KCols {
				add(s.lamlet.KamletSynchronizer(kIndex), syncnet.E, s.lamlet.KamletSynchronizer(kIndex+1), syncnet.W)
			}
			if y+1 < p.KRows {
				add(s.lamlet.KamletSynchronizer(kIndex), syncnet.S, s.lamlet.KamletSynchronizer(kIndex+p.KCols), syncnet.N)
			}
		}
	}
}

// Params returns the geometry this Simulator was built with.
func (s *Simulator) Params() params.LamletParams { return s.params }

// Lamlet exposes the orchestration layer directly, for callers driving
// vload/vstore-family operations (the scalar-instruction decode/dispatch
// loop a real core would run is out of scope, per spec.md's Non-goals).
func (s *Simulator) Lamlet() *lamlet.Lamlet { return s.lamlet }

// Kamlet returns kamlet kIndex, e.g. for tests that need to read or seed a
// vector register directly rather than through a vload/vstore call.
func (s *Simulator) Kamlet(kIndex int) *kamlet.Kamlet { return s.kamlets[kIndex] }

// Cycle advances the whole simulator by one cycle: a compute phase (sync
// links step, every Synchronizer/Kamlet/Memlet pumps, then the lamlet pumps
// its in-flight multi-cycle ops) followed by a commit phase (the packet
// mesh steps and commits its double-buffered channels). Per-kamlet work in
// the compute phase is fanned out with an errgroup.Group: §5's shared
// resource policy guarantees no kamlet's Pump mutates another kamlet's
// state (each owns its own cache table, jamlets, and sync edge), so this is
// safe to parallelize ahead of the single-threaded lamlet/mesh commit that
// follows.
func (s *Simulator) Cycle() {
	s.cycle++
	cycle := s.cycle

	for _, sl := range s.syncLinks {
		sl.step()
	}
	s.lamlet.Synchronizer().Pump(cycle)

	var g errgroup.Group
	for i := range s.kamlets {
		i := i
		g.Go(func() error {
			s.kamlets[i].Pump(cycle)
			s.memlets[i].Pump(cycle)
			s.lamlet.KamletSynchronizer(i).Pump(cycle)
			return nil
		})
	}
	_ = g.Wait()

	s.lamlet.Pump(cycle)

	s.mesh.Step()
	s.mesh.Commit()
}

// Cycles returns the number of cycles advanced so far.
func (s *Simulator) Cycles() uint64 { return s.cycle }

// RunUntil advances the simulator until done reports true or maxCycles is
// reached, returning whether done ever reported true. Most callers pass a
// vector op's Done method or Lamlet.Finished's boolean component wrapped in
// a closure.
func (s *Simulator) RunUntil(maxCycles int, done func() bool) bool {
	for i := 0; i < maxCycles; i++ {
		if done() {
			return true
		}
		s.Cycle()
	}
	return done()
}

// RunUntilTohost runs the simulator until the guest program exits through
// the HTIF tohost protocol or maxCycles elapses, returning the exit code
// Lamlet.Finished reported.
func (s *Simulator) RunUntilTohost(maxCycles int) (finished bool, exitCode int) {
	for i := 0; i < maxCycles; i++ {
		if fin, code := s.lamlet.Finished(); fin {
			return true, code
		}
		s.Cycle()
	}
	return s.lamlet.Finished()
}

// AllocateMemory/ReleaseMemory/SetMemory/GetMemory forward to the lamlet,
// for callers that only need scalar-memory or TLB setup and don't want to
// reach through Lamlet() for it.

// AllocateMemory reserves [address, address+size) in the address space.
func (s *Simulator) AllocateMemory(address, size uint64, mt addr.MemoryType, wo addr.WordOrder, readable, writable bool) error {
	return s.lamlet.AllocateMemory(address, size, mt, wo, readable, writable)
}

// ReleaseMemory un-reserves a prior AllocateMemory range.
func (s *Simulator) ReleaseMemory(address, size uint64) error {
	return s.lamlet.ReleaseMemory(address, size)
}

// SetMemory writes data to scalar memory, watched for HTIF tohost traffic.
func (s *Simulator) SetMemory(address uint64, data []byte) { s.lamlet.SetMemory(address, data) }

// GetMemory reads n scalar bytes starting at address.
func (s *Simulator) GetMemory(address uint64, n int) []byte { return s.lamlet.GetMemory(address, n) }
