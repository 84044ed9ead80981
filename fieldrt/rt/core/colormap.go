package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RenderParams are the visual constants of the billboard renderer.
type RenderParams struct {
	ParticleSize float32 `yaml:"particle_size" json:"particle_size"`

	// Heat remap before the colormap.
	HeatCutoff float32 `yaml:"heat_cutoff" json:"heat_cutoff"`
	HeatGamma  float32 `yaml:"heat_gamma" json:"heat_gamma"`
	HeatScale  float32 `yaml:"heat_scale" json:"heat_scale"`

	// Fixed lighting of the sphere impostors, in view space.
	LightDir  [3]float32 `yaml:"light_dir" json:"light_dir"`
	Ambient   float32    `yaml:"ambient" json:"ambient"`
	Specular  float32    `yaml:"specular" json:"specular"`
	Shininess float32    `yaml:"shininess" json:"shininess"`
	Rim       float32    `yaml:"rim" json:"rim"`
}

func DefaultRenderParams() RenderParams {
	return RenderParams{
		ParticleSize: 0.012,
		HeatCutoff:   0.04,
		HeatGamma:    0.8,
		HeatScale:    0.88,
		LightDir:     [3]float32{0.4, 0.6, 0.7},
		Ambient:      0.25,
		Specular:     0.35,
		Shininess:    32,
		Rim:          0.3,
	}
}

// RemapHeat drops the lowest HeatCutoff of the range, applies the gamma and
// compresses the top by HeatScale so the colormap never saturates at red.
func (r RenderParams) RemapHeat(heat float32) float32 {
	t := Clamp01((heat - r.HeatCutoff) / max(1-r.HeatCutoff, 1e-6))
	if t <= 0 {
		return 0
	}
	return float32(math.Pow(float64(t), float64(r.HeatGamma))) * r.HeatScale
}

// Jet maps t in [0,1] to blue → green → red from three overlapping
// triangular responses of t*4.
func Jet(t float32) mgl32.Vec3 {
	x := t * 4
	return mgl32.Vec3{
		Clamp01(min(x-1.5, 4.5-x)),
		Clamp01(min(x-0.5, 3.5-x)),
		Clamp01(min(x+0.5, 2.5-x)),
	}
}

// HeatColor is the full transfer function used by the fragment shader.
func (r RenderParams) HeatColor(heat float32) mgl32.Vec3 {
	return Jet(r.RemapHeat(heat))
}
