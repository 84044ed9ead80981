package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Decorrelation offsets for the three flow channels.
var flowOffsets = [3]mgl32.Vec3{
	{31.4, 0, 0},
	{0, 47.2, 0},
	{0, 0, 63.9},
}

// FieldParams are the visual constants of the continuous noise field. They are
// plain fields set by the owning scene.
type FieldParams struct {
	BaseRadius      float32    `yaml:"base_radius" json:"base_radius"`
	HeightAmplitude float32    `yaml:"height_amplitude" json:"height_amplitude"`
	Frequency       float32    `yaml:"frequency" json:"frequency"`
	TimeScale       [3]float32 `yaml:"time_scale" json:"time_scale"`
	FlowStrength    float32    `yaml:"flow_strength" json:"flow_strength"`
	FlowFrequency   float32    `yaml:"flow_frequency" json:"flow_frequency"`
}

func DefaultFieldParams() FieldParams {
	return FieldParams{
		BaseRadius:      1.0,
		HeightAmplitude: 0.35,
		Frequency:       1.6,
		TimeScale:       [3]float32{0.11, 0.07, 0.13},
		FlowStrength:    0.6,
		FlowFrequency:   1.1,
	}
}

func (f FieldParams) timeOffset(t float32) mgl32.Vec3 {
	return mgl32.Vec3(f.TimeScale).Mul(t)
}

// Sample is the raw fractal value at dir and time t.
func (f FieldParams) Sample(dir mgl32.Vec3, t float32) float32 {
	return FBM2(dir.Mul(f.Frequency).Add(f.timeOffset(t)))
}

// Elevation returns the radial displacement and the heat contributed by the
// noise field. Only the outward half of the noise produces heat.
func (f FieldParams) Elevation(dir mgl32.Vec3, t float32) (disp, heat float32) {
	n := f.Sample(dir, t)
	return (n - 0.5) * f.HeightAmplitude, Clamp01(max(0, n-0.5) * 2)
}

// Flow moves dir along the sphere surface by a noise vector projected onto
// the tangent plane, then renormalizes.
func (f FieldParams) Flow(dir mgl32.Vec3, t, dt float32) mgl32.Vec3 {
	q := dir.Mul(f.FlowFrequency).Add(f.timeOffset(t))
	v := mgl32.Vec3{
		FBM2(q.Add(flowOffsets[0])) - 0.5,
		FBM2(q.Add(flowOffsets[1])) - 0.5,
		FBM2(q.Add(flowOffsets[2])) - 0.5,
	}
	tangent := v.Sub(dir.Mul(v.Dot(dir)))
	return Normalize(dir.Add(tangent.Mul(f.FlowStrength*dt)), dir)
}
