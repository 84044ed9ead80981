// Package engine is the public face of the particle field: one fixed
// population on a sphere, advanced by compute kernels a frame at a time.
//
// An Engine belongs to the frame thread. Batch completions may arrive on other
// goroutines; they only touch the scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/gekko3d/pulsefield"
	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
)

var (
	ErrInvalidGrid = core.ErrInvalidGrid
	ErrNoBackend   = errors.New("engine: no backend")
	ErrBatchFailed = errors.New("engine: batch failed, reset required")
	ErrClosed      = errors.New("engine: closed")
)

// Backend owns the device buffers and runs batches of kernels in order.
type Backend interface {
	Name() string
	Count() int
	// AllocatePressure creates the pressure buffer. Called at most once.
	AllocatePressure() error
	// WriteParams replaces the uniform block read by batches submitted after it.
	WriteParams(p core.SimParams)
	// Submit enqueues the batch without blocking. done receives the outcome
	// exactly once unless Submit returns an error.
	Submit(b sched.Batch, done func(error)) error
	// Poll delivers pending completions.
	Poll()
	Snapshot(ctx context.Context) (core.Snapshot, error)
	Drawable() core.Drawable
	Release()
}

type pressureResource uint8

const (
	pressureUninitialized pressureResource = iota
	pressureAllocated
)

type Options struct {
	Grid     core.Grid
	Field    core.FieldParams
	Pressure core.PressureTuning
	Stride   sched.Stride
	Flow     bool

	Logger pulsefield.Logger
	// OnFailure is called from the completion path when a batch fails.
	OnFailure func(error)
}

// DefaultOptions returns the defaults for a cols×rows population.
func DefaultOptions(cols, rows int) Options {
	return Options{
		Grid:     core.Grid{Cols: cols, Rows: rows},
		Field:    core.DefaultFieldParams(),
		Pressure: core.DefaultPressureTuning(),
		Stride:   sched.StrideFull,
	}
}

type Stats struct {
	sched.Stats
	Backend           string
	Particles         int
	PressureAllocated bool
	PressureEnabled   bool
}

type Engine struct {
	// Field is read at every Update. Set it directly.
	Field core.FieldParams

	id      uuid.UUID
	log     pulsefield.Logger
	backend Backend
	sched   *sched.Scheduler
	grid    core.Grid

	params          core.SimParams
	tuning          core.PressureTuning
	pressure        pressureResource
	pressureEnabled bool
	flow            bool
	onFailure       func(error)
	closed          bool
}

// New validates the population and binds it to backend. The first Update
// runs the grid reset.
func New(opts Options, backend Backend) (*Engine, error) {
	if err := opts.Grid.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, ErrNoBackend
	}
	if backend.Count() != opts.Grid.Count() {
		return nil, fmt.Errorf("engine: backend %s holds %d particles, grid needs %d",
			backend.Name(), backend.Count(), opts.Grid.Count())
	}

	e := &Engine{
		Field:     opts.Field,
		id:        uuid.New(),
		log:       pulsefield.OrNop(opts.Logger).Named("engine"),
		backend:   backend,
		sched:     sched.New(opts.Stride),
		grid:      opts.Grid,
		tuning:    opts.Pressure.Sanitized(),
		flow:      opts.Flow,
		onFailure: opts.OnFailure,
	}
	e.params = core.NewSimParams(opts.Grid, opts.Field, e.tuning)
	e.sched.RequestReset()

	e.log.Infof("%s: %dx%d grid, %d particles on %s backend, stride %s",
		e.id, opts.Grid.Cols, opts.Grid.Rows, opts.Grid.Count(), backend.Name(), e.sched.Stride())
	return e, nil
}

func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) Count() int { return e.grid.Count() }

func (e *Engine) Grid() core.Grid { return e.grid }

// Drawable is the handle the compositing layer draws.
func (e *Engine) Drawable() core.Drawable { return e.backend.Drawable() }

// Update advances the time uniforms and schedules this frame's kernels. While
// a batch is outstanding only the uniforms change. After a failed batch it
// returns an error wrapping ErrBatchFailed until Reset.
func (e *Engine) Update(deltaTime, elapsedTime float32) error {
	if e.closed {
		return ErrClosed
	}
	e.backend.Poll()

	deltaTime = finiteOr(max(deltaTime, 0), 0)
	elapsedTime = finiteOr(elapsedTime, e.params.Time)

	e.params.SetField(e.Field)
	e.params.SetTuning(e.tuning)
	e.params.SetFlow(e.flow)
	e.params.Time = elapsedTime
	e.params.Dt = deltaTime

	batch, ok, err := e.sched.Next(sched.Frame{DeltaTime: deltaTime, Elapsed: elapsedTime})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBatchFailed, err)
	}
	if !ok {
		e.backend.WriteParams(e.params)
		if e.log.DebugEnabled() {
			e.log.Debugf("%s: batch in flight, frame at t=%.3f skipped", e.id, elapsedTime)
		}
		return nil
	}

	e.params.Dt = batch.DeltaTime
	e.params.Stride = uint32(batch.Stride)
	e.params.Parity = batch.Parity
	if batch.Event != nil {
		e.params.SetEvent(*batch.Event)
	} else {
		e.params.EventStrength = 0
	}
	e.backend.WriteParams(e.params)

	token := batch.Token
	if err := e.backend.Submit(batch, func(err error) { e.complete(token, err) }); err != nil {
		e.complete(token, err)
		return fmt.Errorf("%w: submit: %w", ErrBatchFailed, err)
	}
	return nil
}

func (e *Engine) complete(token sched.Token, err error) {
	if cerr := e.sched.Complete(token, err); cerr != nil {
		e.log.Errorf("%s: completion of batch %d: %v", e.id, token.ID(), cerr)
		return
	}
	if err != nil {
		e.log.Errorf("%s: batch %d failed: %v", e.id, token.ID(), err)
		if e.onFailure != nil {
			e.onFailure(err)
		}
	}
}

// ApplyPressure queues one impulse. Only the latest impulse before an Update
// is kept, and it is dropped if pressure mode is off when that Update runs.
func (e *Engine) ApplyPressure(direction mgl32.Vec3, strength, angularRadius float32) {
	ev, ok := core.PressureEvent{
		Direction:     direction,
		Strength:      strength,
		AngularRadius: angularRadius,
	}.Normalized()
	if !ok {
		e.log.Debugf("%s: ignoring impulse dir=%v radius=%v", e.id, direction, angularRadius)
		return
	}
	e.sched.QueuePressure(ev)
}

// SetPressureModeEnabled switches the advance kernel between pressure
// integration and the plain update. The first enable allocates the pressure
// buffer; if that fails the mode is left unchanged.
func (e *Engine) SetPressureModeEnabled(enabled bool) error {
	if e.closed {
		return ErrClosed
	}
	if enabled && e.pressure == pressureUninitialized {
		if err := e.backend.AllocatePressure(); err != nil {
			return fmt.Errorf("engine: allocate pressure buffer: %w", err)
		}
		e.pressure = pressureAllocated
		e.sched.MarkPressureAllocated()
		e.log.Infof("%s: pressure buffer allocated for %d particles", e.id, e.grid.Count())
	}
	e.pressureEnabled = enabled
	e.sched.SetPressureEnabled(enabled)
	return nil
}

func (e *Engine) PressureModeEnabled() bool { return e.pressureEnabled }

// SetPressureTuning takes effect at the next scheduled step.
func (e *Engine) SetPressureTuning(t core.PressureTuning) {
	e.tuning = t.Sanitized()
}

func (e *Engine) PressureTuning() core.PressureTuning { return e.tuning }

// Reset schedules a full reinitialization on the next Update and clears a
// recorded batch failure. Calling it repeatedly before that Update is the
// same as calling it once.
func (e *Engine) Reset() {
	e.sched.RequestReset()
}

func (e *Engine) SetUpdateStride(s sched.Stride) {
	e.sched.SetStride(s)
}

func (e *Engine) UpdateStride() sched.Stride { return e.sched.Stride() }

func (e *Engine) SetFlowEnabled(enabled bool) {
	e.flow = enabled
}

func (e *Engine) FlowEnabled() bool { return e.flow }

// Snapshot reads both buffers back to the host.
func (e *Engine) Snapshot(ctx context.Context) (core.Snapshot, error) {
	if e.closed {
		return core.Snapshot{}, ErrClosed
	}
	return e.backend.Snapshot(ctx)
}

// Phases counts pressure cells per phase. It is zero before the pressure
// buffer exists.
func (e *Engine) Phases(ctx context.Context) (core.PhaseCensus, error) {
	if e.pressure == pressureUninitialized {
		return core.PhaseCensus{}, nil
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return core.PhaseCensus{}, err
	}
	return core.CountPhases(snap.Pressure), nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Stats:             e.sched.Stats(),
		Backend:           e.backend.Name(),
		Particles:         e.grid.Count(),
		PressureAllocated: e.pressure == pressureAllocated,
		PressureEnabled:   e.pressureEnabled,
	}
}

// Close releases the backend and its buffers.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.backend.Release()
	e.log.Infof("%s: closed", e.id)
}

func finiteOr(v, fallback float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return v
}
