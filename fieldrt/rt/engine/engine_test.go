package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/cpu"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
)

const dt = float32(0.016)

func newEngine(t *testing.T, opts Options, bopts cpu.Options) (*Engine, *cpu.Backend) {
	t.Helper()
	b, err := cpu.New(opts.Grid, bopts)
	require.NoError(t, err)
	e, err := New(opts, b)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, b
}

func snap(t *testing.T, e *Engine) core.Snapshot {
	t.Helper()
	s, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func assertInvariants(t *testing.T, s core.Snapshot, tuning core.PressureTuning) {
	t.Helper()
	for i, p := range s.Particles {
		assert.InDelta(t, 1, p.Direction.Len(), 1e-5, "direction %d", i)
		assert.GreaterOrEqual(t, p.Heat, float32(0), "heat %d", i)
		assert.LessOrEqual(t, p.Heat, float32(1), "heat %d", i)
	}
	for i, c := range s.Pressure {
		assert.GreaterOrEqual(t, c.Offset, float32(0), "offset %d", i)
		assert.LessOrEqual(t, c.Offset, tuning.OffsetMax, "offset %d", i)
		assert.GreaterOrEqual(t, c.OffsetVel, float32(0), "vel %d", i)
		assert.LessOrEqual(t, c.OffsetVel, tuning.VelMax, "vel %d", i)
	}
}

func TestNewErrors(t *testing.T) {
	b, err := cpu.New(core.Grid{Cols: 4, Rows: 4}, cpu.Options{})
	require.NoError(t, err)
	defer b.Release()

	tests := []struct {
		name    string
		opts    Options
		backend Backend
		wantErr error
	}{
		{name: "empty grid", opts: DefaultOptions(0, 0), backend: b, wantErr: ErrInvalidGrid},
		{name: "single row", opts: DefaultOptions(4, 1), backend: b, wantErr: ErrInvalidGrid},
		{name: "no backend", opts: DefaultOptions(4, 4), backend: nil, wantErr: ErrNoBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, tt.backend)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = New(DefaultOptions(8, 4), b)
	assert.ErrorContains(t, err, "holds 16 particles")
}

// Scenario A: with zero amplitude every particle sits at baseRadius and its
// heat is the positive half of the fractal at t=0.
func TestResetPlacesOnSphere(t *testing.T) {
	opts := DefaultOptions(4, 4)
	opts.Field.HeightAmplitude = 0
	e, _ := newEngine(t, opts, cpu.Options{})

	e.Reset()
	require.NoError(t, e.Update(0, 0))

	s := snap(t, e)
	require.Len(t, s.Particles, 16)
	for i, p := range s.Particles {
		dir := opts.Grid.Direction(i)
		assert.InDelta(t, 0, p.Position.Sub(dir.Mul(opts.Field.BaseRadius)).Len(), 1e-6, "particle %d", i)
		n := core.FBM2(dir.Mul(opts.Field.Frequency))
		assert.InDelta(t, core.Clamp01(max(0, n-0.5)*2), p.Heat, 1e-6, "particle %d", i)
	}
}

func TestResetWithAmplitude(t *testing.T) {
	opts := DefaultOptions(4, 4)
	e, _ := newEngine(t, opts, cpu.Options{})
	require.NoError(t, e.Update(0, 0))

	for i, p := range snap(t, e).Particles {
		dir := opts.Grid.Direction(i)
		n := core.FBM2(dir.Mul(opts.Field.Frequency))
		want := dir.Mul(opts.Field.BaseRadius + (n-0.5)*opts.Field.HeightAmplitude)
		assert.InDelta(t, 0, p.Position.Sub(want).Len(), 1e-6, "particle %d", i)
	}
}

// Scenario B.
func TestPressureDroppedWhileDisabled(t *testing.T) {
	e, _ := newEngine(t, DefaultOptions(8, 8), cpu.Options{})

	e.ApplyPressure(mgl32.Vec3{0, 1, 0}, 1, 0.5)
	require.NoError(t, e.Update(dt, 0))
	assert.Nil(t, snap(t, e).Pressure, "buffer allocated without pressure mode")

	require.NoError(t, e.SetPressureModeEnabled(true))
	require.NoError(t, e.SetPressureModeEnabled(false))
	require.NoError(t, e.Update(dt, dt))

	e.ApplyPressure(mgl32.Vec3{0, 1, 0}, 1, 0.5)
	require.NoError(t, e.Update(dt, 2*dt))

	for i, c := range snap(t, e).Pressure {
		assert.Zero(t, c.Offset, "offset %d", i)
		assert.Zero(t, c.OffsetVel, "vel %d", i)
	}
	st := e.Stats()
	assert.Equal(t, uint64(2), st.ImpulsesDropped)
	assert.Zero(t, st.ImpulsesApplied)
}

// Scenario C.
func TestPressureImpulsePeaksAtPole(t *testing.T) {
	opts := DefaultOptions(16, 9)
	e, _ := newEngine(t, opts, cpu.Options{})
	require.NoError(t, e.SetPressureModeEnabled(true))
	e.ApplyPressure(mgl32.Vec3{0, 1, 0}, 1, 0.5)

	pole := opts.Grid.Count() - 1
	require.InDelta(t, 1, opts.Grid.Direction(pole)[1], 1e-6)

	var prev []core.PressureCell
	elapsed := float32(0)
	for step := 0; step < 300; step++ {
		require.NoError(t, e.Update(dt, elapsed))
		elapsed += dt

		s := snap(t, e)
		assertInvariants(t, s, e.PressureTuning())

		peak := float32(0)
		for _, c := range s.Pressure {
			peak = max(peak, c.Offset)
		}
		assert.InDelta(t, peak, s.Pressure[pole].Offset, 1e-6, "step %d", step)
		assert.Greater(t, s.Pressure[pole].Offset, float32(0))

		if prev != nil {
			for i := range prev {
				assert.GreaterOrEqual(t, s.Pressure[i].Offset, prev[i].Offset, "offset %d fell at step %d", i, step)
			}
		}
		prev = s.Pressure
	}

	last := prev[pole]
	assert.Less(t, last.OffsetVel, float32(1e-3))
	require.NoError(t, e.Update(dt, elapsed))
	assert.InDelta(t, last.Offset, snap(t, e).Pressure[pole].Offset, 1e-4)

	census, err := e.Phases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, opts.Grid.Count(), census.Of(core.PhaseIdle)+census.Of(core.PhaseRelaxing)+census.Of(core.PhaseSettled))
}

func TestPressureHeatsParticles(t *testing.T) {
	opts := DefaultOptions(8, 9)
	opts.Field.HeightAmplitude = 0
	e, _ := newEngine(t, opts, cpu.Options{})
	require.NoError(t, e.SetPressureModeEnabled(true))
	e.ApplyPressure(mgl32.Vec3{0, 1, 0}, 4, 0.6)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Update(dt, 0))
	}

	s := snap(t, e)
	tuning := e.PressureTuning()
	pole := opts.Grid.Count() - 1
	c := s.Pressure[pole]
	p := s.Particles[pole]
	assert.InDelta(t, opts.Field.BaseRadius+c.Offset, p.Radius(), 1e-5)
	_, noiseHeat := e.Field.Elevation(p.Direction, 0)
	assert.InDelta(t, core.PressureHeat(noiseHeat, c.Offset, tuning.HeatGain), p.Heat, 1e-6)
}

// Scenario D.
func TestHalfStrideUpdatesEachParticleOnce(t *testing.T) {
	e, _ := newEngine(t, DefaultOptions(7, 5), cpu.Options{})
	require.NoError(t, e.Update(dt, 0))
	before := snap(t, e).Particles

	e.SetUpdateStride(sched.StrideHalf)
	require.NoError(t, e.Update(dt, 1))
	mid := snap(t, e).Particles
	require.NoError(t, e.Update(dt, 2))
	after := snap(t, e).Particles

	for i := range before {
		first := before[i].Position != mid[i].Position
		second := mid[i].Position != after[i].Position
		assert.True(t, first != second, "particle %d changed first=%v second=%v", i, first, second)
	}
}

func TestResetIdempotent(t *testing.T) {
	run := func(resets int) core.Snapshot {
		e, _ := newEngine(t, DefaultOptions(12, 6), cpu.Options{})
		e.SetFlowEnabled(true)
		require.NoError(t, e.SetPressureModeEnabled(true))
		e.ApplyPressure(mgl32.Vec3{1, 0, 0}, 2, 0.8)
		for i := 0; i < 5; i++ {
			require.NoError(t, e.Update(dt, float32(i)*dt))
		}
		for i := 0; i < resets; i++ {
			e.Reset()
		}
		require.NoError(t, e.Update(dt, 1))
		return snap(t, e)
	}
	once := run(1)
	twice := run(2)
	assert.Equal(t, once, twice)
	for _, c := range once.Pressure {
		assert.Zero(t, c.Offset)
	}
}

func TestFlowKeepsDirectionsUnit(t *testing.T) {
	e, _ := newEngine(t, DefaultOptions(10, 10), cpu.Options{})
	e.SetFlowEnabled(true)
	assert.True(t, e.FlowEnabled())
	for i := 0; i < 200; i++ {
		require.NoError(t, e.Update(dt, float32(i)*dt))
	}
	assertInvariants(t, snap(t, e), e.PressureTuning())
}

// recording counts uniform writes.
type recording struct {
	*cpu.Backend
	mu     sync.Mutex
	params []core.SimParams
}

func (r *recording) WriteParams(p core.SimParams) {
	r.mu.Lock()
	r.params = append(r.params, p)
	r.mu.Unlock()
	r.Backend.WriteParams(p)
}

func TestAtMostOneBatchInFlight(t *testing.T) {
	gate := make(chan struct{})
	opts := DefaultOptions(6, 6)
	b, err := cpu.New(opts.Grid, cpu.Options{
		Async: true,
		Hook: func(sched.Batch) error {
			<-gate
			return nil
		},
	})
	require.NoError(t, err)
	rec := &recording{Backend: b}
	e, err := New(opts, rec)
	require.NoError(t, err)

	require.NoError(t, e.Update(dt, 0))
	for i := 1; i <= 4; i++ {
		require.NoError(t, e.Update(dt, float32(i)))
	}
	st := e.Stats()
	assert.Equal(t, uint64(1), st.Scheduled)
	assert.Equal(t, uint64(4), st.Skipped)
	assert.Equal(t, 1, st.InFlight)
	assert.Equal(t, uint64(1), b.Submitted())

	rec.mu.Lock()
	require.Len(t, rec.params, 5)
	assert.Equal(t, float32(4), rec.params[4].Time, "skipped frame must still write uniforms")
	rec.mu.Unlock()

	gate <- struct{}{}
	require.Eventually(t, func() bool { return e.Stats().InFlight == 0 }, time.Second, time.Millisecond)

	// Drive many frames while a goroutine releases batches at its own pace.
	stop := make(chan struct{})
	var feeder sync.WaitGroup
	feeder.Add(1)
	go func() {
		defer feeder.Done()
		for {
			select {
			case gate <- struct{}{}:
			case <-stop:
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		require.NoError(t, e.Update(dt, float32(i)*dt))
	}
	close(stop)
	feeder.Wait()
	close(gate)
	e.Close()

	assert.LessOrEqual(t, b.PeakConcurrency(), 1)
	st = e.Stats()
	assert.Equal(t, st.Scheduled, b.Submitted())
	assert.Equal(t, uint64(505), st.Scheduled+st.Skipped)
}

func TestBatchFailurePropagates(t *testing.T) {
	boom := errors.New("device lost")
	var fail bool
	var reported []error

	opts := DefaultOptions(4, 4)
	opts.OnFailure = func(err error) { reported = append(reported, err) }
	e, _ := newEngine(t, opts, cpu.Options{Hook: func(sched.Batch) error {
		if fail {
			return boom
		}
		return nil
	}})

	require.NoError(t, e.Update(dt, 0))
	fail = true
	require.NoError(t, e.Update(dt, dt), "failure surfaces on the next update")
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], boom)

	err := e.Update(dt, 2*dt)
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, e.Update(dt, 3*dt), ErrBatchFailed)

	fail = false
	e.Reset()
	require.NoError(t, e.Update(dt, 4*dt))
	assert.Equal(t, uint64(1), e.Stats().Failed)
}

// failingAlloc refuses to create the pressure buffer.
type failingAlloc struct{ *cpu.Backend }

func (failingAlloc) AllocatePressure() error { return errors.New("out of memory") }

func TestPressureAllocationFailure(t *testing.T) {
	opts := DefaultOptions(4, 4)
	b, err := cpu.New(opts.Grid, cpu.Options{})
	require.NoError(t, err)
	e, err := New(opts, failingAlloc{b})
	require.NoError(t, err)
	defer e.Close()

	assert.ErrorContains(t, e.SetPressureModeEnabled(true), "out of memory")
	assert.False(t, e.PressureModeEnabled())
	assert.False(t, e.Stats().PressureAllocated)

	require.NoError(t, e.Update(dt, 0))
	require.NoError(t, e.Update(dt, dt))
}

func TestTuningAndAccessors(t *testing.T) {
	e, _ := newEngine(t, DefaultOptions(5, 4), cpu.Options{})
	e.SetPressureTuning(core.PressureTuning{VelMax: -1, TextureMix: 3, FalloffPower: 0})
	got := e.PressureTuning()
	assert.Zero(t, got.VelMax)
	assert.Equal(t, float32(1), got.TextureMix)
	assert.Equal(t, core.MinFalloffPower, got.FalloffPower)

	assert.Equal(t, 20, e.Count())
	assert.Equal(t, uint32(20), e.Drawable().InstanceCount())
	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID()))
	assert.Equal(t, "cpu", e.Stats().Backend)

	e.ApplyPressure(mgl32.Vec3{}, 1, 0.5)
	require.NoError(t, e.Update(dt, 0))
	assert.Zero(t, e.Stats().ImpulsesDropped, "invalid impulses never reach the scheduler")

	e.Close()
	assert.ErrorIs(t, e.Update(dt, 0), ErrClosed)
	assert.ErrorIs(t, e.SetPressureModeEnabled(true), ErrClosed)
	_, err := e.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
