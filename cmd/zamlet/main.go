// Command zamlet is the cycle-accurate driver for a zamlet vector-memory
// subsystem: it builds a sim.Simulator from a params config, optionally
// loads a RISC-V ELF image's segments into scalar memory, runs it to an
// HTIF tohost exit or a cycle cap, and reports the outcome. Every other
// package in this module is an importable library; this binary is the
// only place that turns command-line flags into a running Simulator.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/zamlet/addr"
	"github.com/sarchlab/zamlet/loader"
	"github.com/sarchlab/zamlet/monitor"
	"github.com/sarchlab/zamlet/params"
	"github.com/sarchlab/zamlet/sim"
)

var (
	configPath = flag.String("config", "", "Path to a YAML params config (default geometry if unset)")
	elfPath    = flag.String("elf", "", "RISC-V ELF image loaded into scalar memory before running")
	maxCycles  = flag.Int("max-cycles", 1_000_000, "Cycle cap if the program never signals HTIF exit")
	trace      = flag.Bool("trace", false, "Log monitor spans to stderr as they open and close")
	verbose    = flag.Bool("v", false, "Print cycle count and geometry diagnostics")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	p := params.Default()
	if *configPath != "" {
		loaded, err := params.LoadParams(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "zamlet: %v\n", err)
			return 1
		}
		p = loaded
	}

	var opts []sim.Option
	if *trace {
		opts = append(opts, sim.WithTracer(monitor.NewTracer(monitor.WithOutput(os.Stderr))))
	}

	s, err := sim.New(p, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zamlet: building simulator: %v\n", err)
		return 1
	}

	if *verbose {
		fmt.Printf("geometry: %dx%d kamlets, %dx%d jamlets/kamlet\n", p.KCols, p.KRows, p.JCols, p.JRows)
	}

	if *elfPath != "" {
		prog, err := loader.Load(*elfPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "zamlet: %v\n", err)
			return 1
		}
		if *verbose {
			fmt.Printf("loaded %s: entry 0x%x, %d segments\n", *elfPath, prog.EntryPoint, len(prog.Segments))
		}
		if err := loadProgram(s, prog); err != nil {
			fmt.Fprintf(os.Stderr, "zamlet: %v\n", err)
			return 1
		}
	}

	finished, exitCode := s.RunUntilTohost(*maxCycles)
	if *verbose {
		fmt.Printf("cycles: %d\n", s.Cycles())
	}
	if !finished {
		fmt.Fprintf(os.Stderr, "zamlet: program did not signal HTIF exit within %d cycles\n", *maxCycles)
		return 1
	}

	return exitCode
}

// loadProgram copies every loadable segment of prog into the simulator's
// scalar memory: the file's bytes as-is, then zero-fill out to MemSize for
// any BSS tail, mirroring the teacher's own segment-loading loop. Segments
// never need a VPU mapping here — the HTIF tohost/fromhost cells and any
// scalar-only data a guest program addresses live in plain scalar memory.
func loadProgram(s *sim.Simulator, prog *loader.Program) error {
	for _, seg := range prog.Segments {
		if err := s.AllocateMemory(seg.VirtAddr, seg.MemSize, addr.ScalarIdempotent, addr.Standard,
			seg.Flags&loader.SegmentFlagRead != 0, seg.Flags&loader.SegmentFlagWrite != 0); err != nil {
			return fmt.Errorf("allocating segment at 0x%x: %w", seg.VirtAddr, err)
		}

		s.SetMemory(seg.VirtAddr, seg.Data)
		if pad := seg.MemSize - uint64(len(seg.Data)); pad > 0 {
			s.SetMemory(seg.VirtAddr+uint64(len(seg.Data)), make([]byte, pad))
		}
	}
	return nil
}
