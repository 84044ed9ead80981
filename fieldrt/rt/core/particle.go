package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Byte strides of the device-side records.
const (
	ParticleStride     = 32
	PressureCellStride = 8
)

// Particle matches WGSL layout in particles_compute.wgsl
// struct Particle { position: vec3<f32>, heat: f32, direction: vec3<f32>, pad: f32 }
type Particle struct {
	Position  mgl32.Vec3
	Heat      float32
	Direction mgl32.Vec3
	_         float32
}

// Radius is the distance of the particle from the sphere centre.
func (p Particle) Radius() float32 {
	return p.Position.Len()
}

// PressureCell matches struct PressureCell { offset: f32, vel: f32 }.
type PressureCell struct {
	Offset    float32
	OffsetVel float32
}

// Snapshot is a host copy of the device buffers. Pressure is nil until the
// pressure buffer has been allocated.
type Snapshot struct {
	Particles []Particle
	Pressure  []PressureCell
}

func DecodeParticles(data []byte, count int) ([]Particle, error) {
	if len(data) < count*ParticleStride {
		return nil, fmt.Errorf("core: particle data is %d bytes, need %d", len(data), count*ParticleStride)
	}
	out := make([]Particle, count)
	if err := binary.Read(bytes.NewReader(data[:count*ParticleStride]), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("core: decode particles: %w", err)
	}
	return out, nil
}

func DecodePressure(data []byte, count int) ([]PressureCell, error) {
	if len(data) < count*PressureCellStride {
		return nil, fmt.Errorf("core: pressure data is %d bytes, need %d", len(data), count*PressureCellStride)
	}
	out := make([]PressureCell, count)
	if err := binary.Read(bytes.NewReader(data[:count*PressureCellStride]), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("core: decode pressure: %w", err)
	}
	return out, nil
}

// Drawable is what the compositing layer needs to issue the particle draw:
// one instanced quad per particle.
type Drawable interface {
	InstanceCount() uint32
	VerticesPerInstance() uint32
}
