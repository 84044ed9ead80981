package core

import (
	"bytes"
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

// Uniform block sizes in bytes.
const (
	SimParamsSize      = 128
	RenderUniformsSize = 144
)

// FlagFlow enables the tangent-plane flow of directions.
const FlagFlow uint32 = 1

// SimParams matches struct SimParams in particles_compute.wgsl.
type SimParams struct {
	Time  float32
	Dt    float32
	Count uint32
	Cols  uint32

	Rows   uint32
	Parity uint32
	Stride uint32
	Flags  uint32

	TimeScale [3]float32
	Frequency float32

	BaseRadius      float32
	HeightAmplitude float32
	FlowStrength    float32
	FlowFrequency   float32

	VelMax     float32
	VelDamping float32
	OffsetMax  float32
	HeatGain   float32

	FalloffPower     float32
	TextureFrequency float32
	TextureMix       float32
	OffsetDecay      float32

	EventDir      [3]float32
	EventStrength float32

	EventOuter float32
	_          [3]float32
}

func NewSimParams(g Grid, f FieldParams, t PressureTuning) SimParams {
	p := SimParams{
		Count:  uint32(g.Count()),
		Cols:   uint32(g.Cols),
		Rows:   uint32(g.Rows),
		Stride: 1,
	}
	p.SetField(f)
	p.SetTuning(t)
	return p
}

func (p *SimParams) SetField(f FieldParams) {
	p.TimeScale = f.TimeScale
	p.Frequency = f.Frequency
	p.BaseRadius = f.BaseRadius
	p.HeightAmplitude = f.HeightAmplitude
	p.FlowStrength = f.FlowStrength
	p.FlowFrequency = f.FlowFrequency
}

func (p *SimParams) SetTuning(t PressureTuning) {
	p.VelMax = t.VelMax
	p.VelDamping = t.VelDamping
	p.OffsetMax = t.OffsetMax
	p.HeatGain = t.HeatGain
	p.FalloffPower = t.FalloffPower
	p.TextureFrequency = t.TextureFrequency
	p.TextureMix = t.TextureMix
	p.OffsetDecay = t.OffsetDecay
}

// SetEvent loads a normalized event into the uniform block.
func (p *SimParams) SetEvent(e PressureEvent) {
	p.EventDir = e.Direction
	p.EventStrength = e.Strength
	p.EventOuter = e.Outer()
}

func (p *SimParams) SetFlow(enabled bool) {
	if enabled {
		p.Flags |= FlagFlow
	} else {
		p.Flags &^= FlagFlow
	}
}

func (p SimParams) Flow() bool { return p.Flags&FlagFlow != 0 }

func (p SimParams) Field() FieldParams {
	return FieldParams{
		BaseRadius:      p.BaseRadius,
		HeightAmplitude: p.HeightAmplitude,
		Frequency:       p.Frequency,
		TimeScale:       p.TimeScale,
		FlowStrength:    p.FlowStrength,
		FlowFrequency:   p.FlowFrequency,
	}
}

func (p SimParams) Tuning() PressureTuning {
	return PressureTuning{
		VelMax:           p.VelMax,
		VelDamping:       p.VelDamping,
		OffsetMax:        p.OffsetMax,
		HeatGain:         p.HeatGain,
		FalloffPower:     p.FalloffPower,
		TextureFrequency: p.TextureFrequency,
		TextureMix:       p.TextureMix,
		OffsetDecay:      p.OffsetDecay,
	}
}

func (p SimParams) Grid() Grid {
	return Grid{Cols: int(p.Cols), Rows: int(p.Rows)}
}

func (p SimParams) Bytes() []byte {
	return encodeLE(p, SimParamsSize)
}

// RenderUniforms matches struct RenderUniforms in particles_billboard.wgsl.
type RenderUniforms struct {
	ViewProj mgl32.Mat4

	Right mgl32.Vec3
	Size  float32

	Up         mgl32.Vec3
	HeatCutoff float32

	LightDir  mgl32.Vec3
	HeatGamma float32

	HeatScale float32
	Ambient   float32
	Specular  float32
	Shininess float32

	Rim float32
	_   [3]float32
}

func NewRenderUniforms(r RenderParams, cam *CameraState, aspect float32) RenderUniforms {
	right, up := cam.Basis()
	return RenderUniforms{
		ViewProj:   cam.GetProjection(aspect).Mul4(cam.GetViewMatrix()),
		Right:      right,
		Size:       r.ParticleSize,
		Up:         up,
		HeatCutoff: r.HeatCutoff,
		LightDir:   r.LightDir,
		HeatGamma:  r.HeatGamma,
		HeatScale:  r.HeatScale,
		Ambient:    r.Ambient,
		Specular:   r.Specular,
		Shininess:  r.Shininess,
		Rim:        r.Rim,
	}
}

func (u RenderUniforms) Bytes() []byte {
	return encodeLE(u, RenderUniformsSize)
}

func encodeLE(v any, size int) []byte {
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		// Only fixed-size structs reach here.
		panic(err)
	}
	return buf.Bytes()
}
