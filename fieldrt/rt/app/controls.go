package app

import (
	"math"
	"math/rand"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/pulsefield"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
	"github.com/gekko3d/pulsefield/fieldrt/rt/show"
)

type Action uint8

const (
	ActionNone Action = iota
	ActionReset
	ActionTogglePressure
	ActionToggleStride
	ActionToggleFlow
	ActionImpulse
	ActionQuit
)

var keyActions = map[glfw.Key]Action{
	glfw.KeyR:      ActionReset,
	glfw.KeyP:      ActionTogglePressure,
	glfw.KeyH:      ActionToggleStride,
	glfw.KeyF:      ActionToggleFlow,
	glfw.KeySpace:  ActionImpulse,
	glfw.KeyEscape: ActionQuit,
}

func KeyAction(key glfw.Key) Action {
	return keyActions[key]
}

const (
	impulseStrength = 3.0
	impulseRadius   = 0.5

	// Downbeat pulses are scaled by how early in the beat the message lands.
	phaseStrength = 2.0
	phaseRadius   = 0.35
)

// Controller is the slice of the engine the keyboard and show bridge drive.
type Controller interface {
	show.Target
	PressureModeEnabled() bool
	UpdateStride() sched.Stride
	FlowEnabled() bool
}

// Controls turns key presses and show phase messages into engine calls. It
// satisfies show.Target and show.PhaseSink.
type Controls struct {
	Controller
	log pulsefield.Logger
	rng *rand.Rand

	Quit bool
}

func NewControls(c Controller, seed int64, log pulsefield.Logger) *Controls {
	return &Controls{
		Controller: c,
		log:        pulsefield.OrNop(log).Named("input"),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// HandleKey runs the action bound to key. Unbound keys are ignored.
func (c *Controls) HandleKey(key glfw.Key) Action {
	a := KeyAction(key)
	c.Do(a)
	return a
}

func (c *Controls) Do(a Action) {
	switch a {
	case ActionReset:
		c.Reset()
		c.log.Infof("reset")

	case ActionTogglePressure:
		on := !c.PressureModeEnabled()
		if err := c.SetPressureModeEnabled(on); err != nil {
			c.log.Errorf("pressure mode: %v", err)
			return
		}
		c.log.Infof("pressure mode %v", on)

	case ActionToggleStride:
		s := sched.StrideHalf
		if c.UpdateStride() == sched.StrideHalf {
			s = sched.StrideFull
		}
		c.SetUpdateStride(s)
		c.log.Infof("update stride %s", s)

	case ActionToggleFlow:
		on := !c.FlowEnabled()
		c.SetFlowEnabled(on)
		c.log.Infof("flow %v", on)

	case ActionImpulse:
		c.ApplyPressure(c.randomDirection(), impulseStrength, impulseRadius)
		if !c.PressureModeEnabled() {
			c.log.Debugf("impulse ignored, pressure mode is off")
		}

	case ActionQuit:
		c.Quit = true
	}
}

// OnPhase fires a pulse on every downbeat.
func (c *Controls) OnPhase(bar, tick int, phase float32) {
	if tick != 0 {
		return
	}
	c.ApplyPressure(c.randomDirection(), phaseStrength*(1-phase), phaseRadius)
	c.log.Debugf("bar %d downbeat pulse", bar)
}

// randomDirection is uniform on the unit sphere.
func (c *Controls) randomDirection() mgl32.Vec3 {
	z := 2*c.rng.Float64() - 1
	phi := 2 * math.Pi * c.rng.Float64()
	r := math.Sqrt(1 - z*z)
	return mgl32.Vec3{float32(r * math.Cos(phi)), float32(z), float32(r * math.Sin(phi))}
}
