package app

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/pulsefield/fieldrt/rt/cpu"
	"github.com/gekko3d/pulsefield/fieldrt/rt/engine"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
	"github.com/gekko3d/pulsefield/fieldrt/rt/show"
)

var (
	_ show.Target    = (*Controls)(nil)
	_ show.PhaseSink = (*Controls)(nil)
	_ Controller     = (*engine.Engine)(nil)
)

func newControls(t *testing.T) (*Controls, *engine.Engine) {
	t.Helper()
	opts := engine.DefaultOptions(16, 8)
	b, err := cpu.New(opts.Grid, cpu.Options{})
	require.NoError(t, err)
	e, err := engine.New(opts, b)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return NewControls(e, 1, nil), e
}

func TestKeyBindings(t *testing.T) {
	tests := []struct {
		key  glfw.Key
		want Action
	}{
		{glfw.KeyR, ActionReset},
		{glfw.KeyP, ActionTogglePressure},
		{glfw.KeyH, ActionToggleStride},
		{glfw.KeyF, ActionToggleFlow},
		{glfw.KeySpace, ActionImpulse},
		{glfw.KeyEscape, ActionQuit},
		{glfw.KeyQ, ActionNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyAction(tt.key), "key %d", tt.key)
	}
}

func TestTogglesRoundTrip(t *testing.T) {
	c, e := newControls(t)

	c.HandleKey(glfw.KeyP)
	assert.True(t, e.PressureModeEnabled())
	assert.True(t, e.Stats().PressureAllocated)
	c.HandleKey(glfw.KeyP)
	assert.False(t, e.PressureModeEnabled())
	assert.True(t, e.Stats().PressureAllocated, "buffer outlives the mode")

	c.HandleKey(glfw.KeyH)
	assert.Equal(t, sched.StrideHalf, e.UpdateStride())
	c.HandleKey(glfw.KeyH)
	assert.Equal(t, sched.StrideFull, e.UpdateStride())

	c.HandleKey(glfw.KeyF)
	assert.True(t, e.FlowEnabled())
	c.HandleKey(glfw.KeyF)
	assert.False(t, e.FlowEnabled())

	assert.False(t, c.Quit)
	assert.Equal(t, ActionQuit, c.HandleKey(glfw.KeyEscape))
	assert.True(t, c.Quit)
}

func TestImpulseKey(t *testing.T) {
	c, e := newControls(t)

	// Off: the impulse is dropped at the next update.
	c.HandleKey(glfw.KeySpace)
	require.NoError(t, e.Update(0.016, 0.016))
	assert.Equal(t, uint64(1), e.Stats().ImpulsesDropped)

	c.HandleKey(glfw.KeyP)
	c.HandleKey(glfw.KeySpace)
	require.NoError(t, e.Update(0.016, 0.032))
	assert.Equal(t, uint64(1), e.Stats().ImpulsesApplied)
}

func TestDownbeatPulses(t *testing.T) {
	c, e := newControls(t)
	require.NoError(t, e.SetPressureModeEnabled(true))

	c.OnPhase(4, 1, 0.5)
	require.NoError(t, e.Update(0.016, 0.016))
	assert.Zero(t, e.Stats().ImpulsesApplied, "off-beat ticks do nothing")

	c.OnPhase(5, 0, 0.1)
	require.NoError(t, e.Update(0.016, 0.032))
	assert.Equal(t, uint64(1), e.Stats().ImpulsesApplied)
}

func TestRandomDirectionIsUnit(t *testing.T) {
	c, _ := newControls(t)
	for i := 0; i < 100; i++ {
		assert.InDelta(t, 1, c.randomDirection().Len(), 1e-5)
	}
}
