package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PressureTuning holds the integrator constants of the pressure model.
// Safe to change at any time; the next step picks it up.
type PressureTuning struct {
	VelMax     float32 `yaml:"vel_max" json:"vel_max"`
	VelDamping float32 `yaml:"vel_damping" json:"vel_damping"`
	OffsetMax  float32 `yaml:"offset_max" json:"offset_max"`
	HeatGain   float32 `yaml:"heat_gain" json:"heat_gain"`

	// Dome shape of an impulse.
	FalloffPower     float32 `yaml:"falloff_power" json:"falloff_power"`
	TextureFrequency float32 `yaml:"texture_frequency" json:"texture_frequency"`
	TextureMix       float32 `yaml:"texture_mix" json:"texture_mix"`

	// OffsetDecay relaxes offset toward zero per second. Zero keeps offset
	// where the impulses left it.
	OffsetDecay float32 `yaml:"offset_decay" json:"offset_decay"`
}

// MinFalloffPower keeps the dome exponent above 1 so impulses stay peaked.
const MinFalloffPower float32 = 1.05

func DefaultPressureTuning() PressureTuning {
	return PressureTuning{
		VelMax:           4.0,
		VelDamping:       3.5,
		OffsetMax:        0.6,
		HeatGain:         1.8,
		FalloffPower:     1.6,
		TextureFrequency: 3.2,
		TextureMix:       0.45,
		OffsetDecay:      0,
	}
}

// Sanitized clamps every constant into its usable range.
func (t PressureTuning) Sanitized() PressureTuning {
	t.VelMax = max(t.VelMax, 0)
	t.VelDamping = max(t.VelDamping, 0)
	t.OffsetMax = max(t.OffsetMax, 0)
	t.HeatGain = max(t.HeatGain, 0)
	t.FalloffPower = max(t.FalloffPower, MinFalloffPower)
	t.TextureFrequency = max(t.TextureFrequency, 0)
	t.TextureMix = Clamp01(t.TextureMix)
	t.OffsetDecay = max(t.OffsetDecay, 0)
	return t
}

// PressureEvent is one transient impulse request.
type PressureEvent struct {
	Direction     mgl32.Vec3
	Strength      float32
	AngularRadius float32
}

// Normalized returns the event with a unit direction, non-negative strength
// and a radius clamped to (0, π]. ok is false when the event cannot affect
// any particle.
func (e PressureEvent) Normalized() (PressureEvent, bool) {
	l := e.Direction.Len()
	if l < 1e-6 || math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
		return e, false
	}
	if e.AngularRadius <= 0 || math.IsNaN(float64(e.AngularRadius)) {
		return e, false
	}
	if math.IsNaN(float64(e.Strength)) {
		return e, false
	}
	e.Direction = e.Direction.Mul(1 / l)
	e.Strength = max(e.Strength, 0)
	e.AngularRadius = min(e.AngularRadius, math.Pi)
	return e, true
}

// Outer is the cosine of the angular radius.
func (e PressureEvent) Outer() float32 {
	return float32(math.Cos(float64(e.AngularRadius)))
}

// DomeFalloff weights a particle by the cosine d of its angular separation from
// the impulse centre: 1 at the centre, 0 at and beyond the outer ring.
func DomeFalloff(d, outer, power float32) float32 {
	w := Clamp01((d - outer) / max(1-outer, 1e-6))
	s := Smoothstep(w)
	if s <= 0 {
		return 0
	}
	return float32(math.Pow(float64(s), float64(power)))
}

// ImpulseWeight is the dome falloff roughened by a static noise grain. The
// grain only acts on the flanks, so the centre always receives the full weight.
func (t PressureTuning) ImpulseWeight(dir mgl32.Vec3, outer float32, eventDir mgl32.Vec3) float32 {
	w := DomeFalloff(dir.Dot(eventDir), outer, t.FalloffPower)
	grain := FBM2(dir.Mul(t.TextureFrequency))
	return w * (1 - t.TextureMix*(1-w)*grain)
}

// Impulse adds amount to the cell's velocity.
func (t PressureTuning) Impulse(c PressureCell, amount float32) PressureCell {
	c.OffsetVel = mgl32.Clamp(c.OffsetVel+amount, 0, t.VelMax)
	return c
}

// Integrate advances one cell by dt.
func (t PressureTuning) Integrate(c PressureCell, dt float32) PressureCell {
	vel := mgl32.Clamp(c.OffsetVel/(1+t.VelDamping*dt), 0, t.VelMax)
	held := c.Offset / (1 + t.OffsetDecay*dt)
	return PressureCell{
		Offset:    mgl32.Clamp(held+vel*dt, 0, t.OffsetMax),
		OffsetVel: vel,
	}
}

// PressureHeat combines noise heat with the pressure contribution.
func PressureHeat(noiseHeat, offset, gain float32) float32 {
	return Clamp01(noiseHeat + offset*gain)
}

type PressurePhase uint8

const (
	PhaseIdle PressurePhase = iota
	PhaseImpulsed
	PhaseRelaxing
	PhaseSettled
)

func (p PressurePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseImpulsed:
		return "impulsed"
	case PhaseRelaxing:
		return "relaxing"
	case PhaseSettled:
		return "settled"
	}
	return "unknown"
}

// settleEpsilon is the velocity below which a cell counts as at rest.
const settleEpsilon = 1e-4

// Classify reports the state of a cell. impulsed is true for the frame an
// event touched it.
func Classify(c PressureCell, impulsed bool) PressurePhase {
	switch {
	case impulsed:
		return PhaseImpulsed
	case c.OffsetVel > settleEpsilon:
		return PhaseRelaxing
	case c.Offset > settleEpsilon:
		return PhaseSettled
	}
	return PhaseIdle
}

// PhaseCensus counts cells per phase.
type PhaseCensus [4]int

func (pc PhaseCensus) Of(p PressurePhase) int {
	if int(p) < len(pc) {
		return pc[p]
	}
	return 0
}

// CountPhases classifies every cell as of the last completed step.
func CountPhases(cells []PressureCell) PhaseCensus {
	var pc PhaseCensus
	for _, c := range cells {
		pc[Classify(c, false)]++
	}
	return pc
}
