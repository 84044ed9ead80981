package cpu

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
)

// kernelState is what one batch reads: the uniform block captured at
// submission and the two storage arrays.
type kernelState struct {
	p         core.SimParams
	field     core.FieldParams
	tuning    core.PressureTuning
	grid      core.Grid
	particles []core.Particle
	pressure  []core.PressureCell
}

func newKernelState(p core.SimParams, particles []core.Particle, pressure []core.PressureCell) *kernelState {
	return &kernelState{
		p:         p,
		field:     p.Field(),
		tuning:    p.Tuning(),
		grid:      p.Grid(),
		particles: particles,
		pressure:  pressure,
	}
}

// invoke runs kernel k for one invocation id.
func (s *kernelState) invoke(k sched.Kernel, id int) {
	switch k {
	case sched.KernelResetGrid:
		s.resetGrid(id)
	case sched.KernelResetPressure:
		s.resetPressure(id)
	case sched.KernelApplyPressure:
		s.applyPressure(id)
	case sched.KernelIntegratePressure:
		s.integratePressure(id)
	case sched.KernelUpdateFull:
		s.update(id)
	case sched.KernelUpdateHalf:
		s.update(id*2 + int(s.p.Parity))
	}
}

func (s *kernelState) place(i int, dir mgl32.Vec3, offset float32, heat float32) {
	disp, noiseHeat := s.field.Elevation(dir, s.p.Time)
	pt := &s.particles[i]
	pt.Direction = dir
	pt.Position = dir.Mul(s.field.BaseRadius + disp + offset)
	pt.Heat = core.Clamp01(noiseHeat + heat)
}

func (s *kernelState) advanceDir(i int) mgl32.Vec3 {
	dir := s.particles[i].Direction
	if s.p.Flow() {
		dir = s.field.Flow(dir, s.p.Time, s.p.Dt)
	}
	return dir
}

func (s *kernelState) resetGrid(i int) {
	if i >= len(s.particles) {
		return
	}
	s.place(i, s.grid.Direction(i), 0, 0)
}

func (s *kernelState) resetPressure(i int) {
	if i >= len(s.pressure) {
		return
	}
	s.pressure[i] = core.PressureCell{}
}

func (s *kernelState) applyPressure(i int) {
	if i >= len(s.pressure) {
		return
	}
	eventDir := mgl32.Vec3(s.p.EventDir)
	w := s.tuning.ImpulseWeight(s.particles[i].Direction, s.p.EventOuter, eventDir)
	s.pressure[i] = s.tuning.Impulse(s.pressure[i], w*s.p.EventStrength)
}

func (s *kernelState) integratePressure(i int) {
	if i >= len(s.pressure) {
		return
	}
	c := s.tuning.Integrate(s.pressure[i], s.p.Dt)
	s.pressure[i] = c
	s.place(i, s.advanceDir(i), c.Offset, c.Offset*s.tuning.HeatGain)
}

func (s *kernelState) update(i int) {
	if i >= len(s.particles) {
		return
	}
	s.place(i, s.advanceDir(i), 0, 0)
}
