package shaders

import (
	_ "embed"
)

//go:embed particles_compute.wgsl
var ParticlesComputeWGSL string

//go:embed particles_billboard.wgsl
var ParticlesBillboardWGSL string
