package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Lattice hash constants, shared with particles_compute.wgsl.
const (
	hashPrimeX uint32 = 0x8da6b343
	hashPrimeY uint32 = 0xd8163841
	hashPrimeZ uint32 = 0xcb1ab31f
)

var octaveShift = mgl32.Vec3{17.3, -9.1, 5.7}

// hash3 maps an integer lattice point to [0,1]. Only integer ops, so CPU and
// GPU agree bit for bit.
func hash3(x, y, z int32) float32 {
	h := uint32(x)*hashPrimeX ^ uint32(y)*hashPrimeY ^ uint32(z)*hashPrimeZ
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return float32(h>>8) / 16777215.0
}

func fade(t float32) float32 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func floor32(v float32) float32 {
	return float32(math.Floor(float64(v)))
}

// ValueNoise is 3-D value noise in [0,1]: hashed lattice corners, trilinearly
// blended with a 3t²-2t³ weight per axis.
func ValueNoise(p mgl32.Vec3) float32 {
	fx, fy, fz := floor32(p[0]), floor32(p[1]), floor32(p[2])
	ix, iy, iz := int32(fx), int32(fy), int32(fz)
	ux, uy, uz := fade(p[0]-fx), fade(p[1]-fy), fade(p[2]-fz)

	x00 := lerp(hash3(ix, iy, iz), hash3(ix+1, iy, iz), ux)
	x10 := lerp(hash3(ix, iy+1, iz), hash3(ix+1, iy+1, iz), ux)
	x01 := lerp(hash3(ix, iy, iz+1), hash3(ix+1, iy, iz+1), ux)
	x11 := lerp(hash3(ix, iy+1, iz+1), hash3(ix+1, iy+1, iz+1), ux)

	return lerp(lerp(x00, x10, uy), lerp(x01, x11, uy), uz)
}

// FBM2 sums two octaves of ValueNoise, normalised back to [0,1].
func FBM2(p mgl32.Vec3) float32 {
	return (0.5*ValueNoise(p) + 0.25*ValueNoise(p.Mul(2).Add(octaveShift))) / 0.75
}

func Clamp01(v float32) float32 {
	return mgl32.Clamp(v, 0, 1)
}

// Smoothstep is the cubic 3t²-2t³ on an already clamped t.
func Smoothstep(t float32) float32 {
	return fade(Clamp01(t))
}

// Normalize returns v/|v|, or fallback for a degenerate v.
func Normalize(v, fallback mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l < 1e-6 || math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
		return fallback
	}
	return v.Mul(1 / l)
}
