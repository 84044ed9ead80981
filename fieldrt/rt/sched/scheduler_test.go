package sched

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
)

var frame = Frame{DeltaTime: 0.016, Elapsed: 1}

func event() core.PressureEvent {
	return core.PressureEvent{Direction: mgl32.Vec3{0, 1, 0}, Strength: 1, AngularRadius: 0.5}
}

// run plans one frame and completes it immediately.
func run(t *testing.T, s *Scheduler, f Frame) Batch {
	t.Helper()
	b, ok, err := s.Next(f)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Complete(b.Token, nil))
	return b
}

func TestNextOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Scheduler)
		want  []Kernel
	}{
		{
			name:  "idle frame advances only",
			setup: func(s *Scheduler) {},
			want:  []Kernel{KernelUpdateFull},
		},
		{
			name:  "reset without pressure buffer",
			setup: func(s *Scheduler) { s.RequestReset() },
			want:  []Kernel{KernelResetGrid, KernelUpdateFull},
		},
		{
			name: "first pressure activation",
			setup: func(s *Scheduler) {
				s.MarkPressureAllocated()
				s.SetPressureEnabled(true)
			},
			want: []Kernel{KernelResetPressure, KernelIntegratePressure},
		},
		{
			name: "everything at once",
			setup: func(s *Scheduler) {
				s.RequestReset()
				s.MarkPressureAllocated()
				s.SetPressureEnabled(true)
				s.QueuePressure(event())
			},
			want: []Kernel{KernelResetGrid, KernelResetPressure, KernelApplyPressure, KernelIntegratePressure},
		},
		{
			name: "reset with allocated but disabled pressure",
			setup: func(s *Scheduler) {
				s.MarkPressureAllocated()
				s.RequestReset()
			},
			want: []Kernel{KernelResetGrid, KernelResetPressure, KernelUpdateFull},
		},
		{
			name: "impulse while disabled is dropped",
			setup: func(s *Scheduler) {
				s.MarkPressureAllocated()
				s.QueuePressure(event())
			},
			want: []Kernel{KernelResetPressure, KernelUpdateFull},
		},
		{
			name:  "half stride",
			setup: func(s *Scheduler) { s.SetStride(StrideHalf) },
			want:  []Kernel{KernelUpdateHalf},
		},
		{
			name: "pressure mode wins over half stride",
			setup: func(s *Scheduler) {
				s.SetStride(StrideHalf)
				s.MarkPressureAllocated()
				s.SetPressureEnabled(true)
			},
			want: []Kernel{KernelResetPressure, KernelIntegratePressure},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(StrideFull)
			tt.setup(s)
			b := run(t, s, frame)
			assert.Equal(t, tt.want, b.Kernels)
		})
	}
}

func TestFlagsClearedAtEnqueue(t *testing.T) {
	s := New(StrideFull)
	s.RequestReset()
	s.MarkPressureAllocated()
	s.SetPressureEnabled(true)
	s.QueuePressure(event())

	b, ok, err := s.Next(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, b.Event)
	assert.Equal(t, event(), *b.Event)

	// Flags are gone before the batch completes.
	require.NoError(t, s.Complete(b.Token, nil))
	b = run(t, s, frame)
	assert.Equal(t, []Kernel{KernelIntegratePressure}, b.Kernels)
	assert.Nil(t, b.Event)
}

func TestPendingImpulseOverwrites(t *testing.T) {
	s := New(StrideFull)
	s.MarkPressureAllocated()
	s.SetPressureEnabled(true)

	first := event()
	second := event()
	second.Strength = 0.25
	s.QueuePressure(first)
	s.QueuePressure(second)

	b := run(t, s, frame)
	require.NotNil(t, b.Event)
	assert.Equal(t, float32(0.25), b.Event.Strength)
	assert.Equal(t, uint64(1), s.Stats().ImpulsesApplied)
}

func TestDroppedImpulseIsNotDeferred(t *testing.T) {
	s := New(StrideFull)
	s.MarkPressureAllocated()
	s.QueuePressure(event())
	run(t, s, frame)

	s.SetPressureEnabled(true)
	b := run(t, s, frame)
	assert.False(t, b.Has(KernelApplyPressure))
	assert.Equal(t, uint64(1), s.Stats().ImpulsesDropped)
}

func TestInFlightGuard(t *testing.T) {
	s := New(StrideFull)
	s.RequestReset()

	b, ok, err := s.Next(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.InFlight())

	// Frames during flight are skipped and keep their intent.
	s.QueuePressure(event())
	for i := 0; i < 5; i++ {
		_, ok, err = s.Next(frame)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.LessOrEqual(t, s.Stats().InFlight, 1)
	}
	assert.Equal(t, uint64(5), s.Stats().Skipped)

	require.NoError(t, s.Complete(b.Token, nil))
	assert.False(t, s.InFlight())
	assert.Equal(t, uint64(1), s.Stats().Scheduled)

	_, ok, err = s.Next(frame)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompleteTokenChecks(t *testing.T) {
	s := New(StrideFull)
	assert.ErrorIs(t, s.Complete(Token{id: 1}, nil), ErrNotInFlight)

	b, _, err := s.Next(frame)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Complete(Token{id: b.Token.ID() + 7}, nil), ErrStaleToken)
	assert.True(t, s.InFlight(), "a stale token must not release the guard")

	require.NoError(t, s.Complete(b.Token, nil))
	assert.ErrorIs(t, s.Complete(b.Token, nil), ErrNotInFlight)
}

func TestFailureSuspendsUntilReset(t *testing.T) {
	s := New(StrideFull)
	b, _, err := s.Next(frame)
	require.NoError(t, err)

	boom := errors.New("device lost")
	require.NoError(t, s.Complete(b.Token, boom))
	assert.Equal(t, uint64(1), s.Stats().Failed)

	_, ok, err := s.Next(frame)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Failure(), boom)

	s.RequestReset()
	assert.NoError(t, s.Failure())
	b = run(t, s, frame)
	assert.Equal(t, []Kernel{KernelResetGrid, KernelUpdateFull}, b.Kernels)
}

func TestHalfStrideParity(t *testing.T) {
	s := New(StrideHalf)
	const count = 9

	for pair := 0; pair < 4; pair++ {
		seen := make([]int, count)
		for f := 0; f < 2; f++ {
			b := run(t, s, frame)
			require.Equal(t, []Kernel{KernelUpdateHalf}, b.Kernels)
			assert.Equal(t, StrideHalf, b.Stride)
			assert.InDelta(t, 2*frame.DeltaTime, b.DeltaTime, 1e-9)
			for tid := 0; tid < KernelUpdateHalf.Threads(count); tid++ {
				i := tid*2 + int(b.Parity)
				if i < count {
					seen[i]++
				}
			}
		}
		for i, n := range seen {
			assert.Equal(t, 1, n, "pair %d index %d", pair, i)
		}
	}
}

func TestKernelNames(t *testing.T) {
	assert.Equal(t, "reset_grid", KernelResetGrid.String())
	assert.Equal(t, "update_half", KernelUpdateHalf.String())
	assert.True(t, KernelApplyPressure.UsesPressure())
	assert.False(t, KernelUpdateFull.UsesPressure())
	assert.Equal(t, 5, KernelUpdateHalf.Threads(9))
	assert.Equal(t, 9, KernelUpdateFull.Threads(9))
	assert.Len(t, Kernels, len(kernelNames))
}
