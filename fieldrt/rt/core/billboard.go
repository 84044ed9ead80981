package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// QuadCorners are the two triangles of a billboard in its local [-1,1]² space,
// in the order the vertex shader indexes them by vertex_index.
var QuadCorners = [6]mgl32.Vec2{
	{-1, -1}, {1, -1}, {1, 1},
	{-1, -1}, {1, 1}, {-1, 1},
}

const VerticesPerBillboard = uint32(len(QuadCorners))

type BillboardVertex struct {
	Position mgl32.Vec3
	UV       mgl32.Vec2
	Heat     float32
}

// CameraBasis recovers the camera's world-space right and up axes from its
// world transform (the inverse of the view matrix).
func CameraBasis(cameraWorld mgl32.Mat4) (right, up mgl32.Vec3) {
	right = Normalize(cameraWorld.Col(0).Vec3(), mgl32.Vec3{1, 0, 0})
	up = Normalize(cameraWorld.Col(1).Vec3(), mgl32.Vec3{0, 1, 0})
	return right, up
}

// ExpandBillboard builds the quad of one particle, facing the camera.
func ExpandBillboard(p Particle, right, up mgl32.Vec3, size float32) [6]BillboardVertex {
	var out [6]BillboardVertex
	for i, c := range QuadCorners {
		offset := right.Mul(c[0]).Add(up.Mul(c[1])).Mul(size)
		out[i] = BillboardVertex{
			Position: p.Position.Add(offset),
			UV:       c,
			Heat:     p.Heat,
		}
	}
	return out
}

// Impostor reconstructs the view-space normal of a unit sphere under quad
// coordinate uv. ok is false outside the disk.
func Impostor(uv mgl32.Vec2) (normal mgl32.Vec3, ok bool) {
	r2 := uv.Dot(uv)
	if r2 > 1 {
		return mgl32.Vec3{}, false
	}
	z := float32(math.Sqrt(float64(max(0, 1-r2))))
	return mgl32.Vec3{uv[0], uv[1], z}, true
}

// Shade is the fragment procedure: fake-sphere normal, fixed light, jet color.
func (r RenderParams) Shade(uv mgl32.Vec2, heat float32) (mgl32.Vec3, bool) {
	n, ok := Impostor(uv)
	if !ok {
		return mgl32.Vec3{}, false
	}
	l := Normalize(mgl32.Vec3(r.LightDir), mgl32.Vec3{0, 0, 1})
	diffuse := max(n.Dot(l), 0)
	h := Normalize(l.Add(mgl32.Vec3{0, 0, 1}), mgl32.Vec3{0, 0, 1})
	spec := float32(math.Pow(float64(max(n.Dot(h), 0)), float64(r.Shininess))) * r.Specular
	rim := float32(math.Pow(float64(1-n[2]), 3)) * r.Rim

	base := r.HeatColor(heat)
	color := base.Mul(r.Ambient + (1-r.Ambient)*diffuse).
		Add(mgl32.Vec3{spec, spec, spec}).
		Add(base.Mul(rim))
	return color, true
}
