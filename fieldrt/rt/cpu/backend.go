// Package cpu executes the particle kernels on the host. It is the reference
// the WGSL programs are checked against and the backend the engine tests run on.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
)

var (
	ErrReleased          = errors.New("cpu: backend released")
	ErrPressureUnmapped  = errors.New("cpu: pressure kernel without pressure buffer")
	ErrPressureAllocated = errors.New("cpu: pressure buffer already allocated")
)

// parallelThreshold is the population below which kernels run on the
// submitting goroutine.
const parallelThreshold = 1024

type Options struct {
	// Async completes batches on a separate goroutine instead of inside Submit.
	Async bool
	// Workers caps the goroutines a kernel is split across. Zero means GOMAXPROCS.
	Workers int
	// Hook runs before a batch executes. A non-nil error fails the batch
	// without touching the buffers. Blocking in Hook holds the batch in flight.
	Hook func(b sched.Batch) error
}

type Backend struct {
	grid    core.Grid
	opts    Options
	workers int

	paramsMu sync.Mutex
	params   core.SimParams

	mu        sync.RWMutex
	particles []core.Particle
	pressure  []core.PressureCell

	wg        sync.WaitGroup
	running   atomic.Int32
	peak      atomic.Int32
	submitted atomic.Uint64
	released  atomic.Bool
}

func New(grid core.Grid, opts Options) (*Backend, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Backend{
		grid:      grid,
		opts:      opts,
		workers:   workers,
		particles: make([]core.Particle, grid.Count()),
	}, nil
}

func (b *Backend) Name() string { return "cpu" }

func (b *Backend) Count() int { return len(b.particles) }

// AllocatePressure creates the zeroed pressure array. It fails if called twice.
func (b *Backend) AllocatePressure() error {
	if b.released.Load() {
		return ErrReleased
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pressure != nil {
		return ErrPressureAllocated
	}
	b.pressure = make([]core.PressureCell, len(b.particles))
	return nil
}

// WriteParams replaces the uniform block. Batches already submitted keep the
// block they were submitted with.
func (b *Backend) WriteParams(p core.SimParams) {
	b.paramsMu.Lock()
	b.params = p
	b.paramsMu.Unlock()
}

// Submit runs the batch and calls done with its result, either before Submit
// returns or, with Options.Async, from another goroutine. An error return
// means done will not be called.
func (b *Backend) Submit(batch sched.Batch, done func(error)) error {
	if b.released.Load() {
		return ErrReleased
	}
	b.paramsMu.Lock()
	p := b.params
	b.paramsMu.Unlock()

	b.submitted.Add(1)
	if !b.opts.Async {
		done(b.execute(batch, p))
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		done(b.execute(batch, p))
	}()
	return nil
}

func (b *Backend) execute(batch sched.Batch, p core.SimParams) error {
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if b.opts.Hook != nil {
		if err := b.opts.Hook(batch); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := newKernelState(p, b.particles, b.pressure)
	for _, k := range batch.Kernels {
		if k.UsesPressure() && b.pressure == nil {
			return fmt.Errorf("%w: %s", ErrPressureUnmapped, k)
		}
		b.dispatch(st, k, k.Threads(len(b.particles)))
	}
	return nil
}

// dispatch splits threads invocations of k into contiguous chunks, one per
// worker, and waits for all of them.
func (b *Backend) dispatch(st *kernelState, k sched.Kernel, threads int) {
	if threads < parallelThreshold || b.workers == 1 {
		for id := 0; id < threads; id++ {
			st.invoke(k, id)
		}
		return
	}

	chunk := (threads + b.workers - 1) / b.workers
	var wg sync.WaitGroup
	for start := 0; start < threads; start += chunk {
		end := min(start+chunk, threads)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for id := start; id < end; id++ {
				st.invoke(k, id)
			}
		}(start, end)
	}
	wg.Wait()
}

// Poll is a no-op; completions are delivered by Submit.
func (b *Backend) Poll() {}

// Snapshot copies both arrays. It waits for a running batch to finish.
func (b *Backend) Snapshot(ctx context.Context) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := core.Snapshot{Particles: append([]core.Particle(nil), b.particles...)}
	if b.pressure != nil {
		snap.Pressure = append([]core.PressureCell(nil), b.pressure...)
	}
	return snap, nil
}

// PeakConcurrency is the largest number of batches that ever executed at once.
func (b *Backend) PeakConcurrency() int { return int(b.peak.Load()) }

// Submitted counts accepted batches.
func (b *Backend) Submitted() uint64 { return b.submitted.Load() }

func (b *Backend) Drawable() core.Drawable { return billboards{b} }

// Billboards expands the current particles into camera-facing quads, the
// same expansion the vertex shader performs.
func (b *Backend) Billboards(right, up mgl32.Vec3, size float32) []core.BillboardVertex {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.BillboardVertex, 0, len(b.particles)*int(core.VerticesPerBillboard))
	for _, p := range b.particles {
		quad := core.ExpandBillboard(p, right, up, size)
		out = append(out, quad[:]...)
	}
	return out
}

// Release waits for outstanding batches. Later calls fail with ErrReleased.
func (b *Backend) Release() {
	if b.released.Swap(true) {
		return
	}
	b.wg.Wait()
}

type billboards struct{ b *Backend }

func (d billboards) InstanceCount() uint32       { return uint32(d.b.Count()) }
func (d billboards) VerticesPerInstance() uint32 { return core.VerticesPerBillboard }
