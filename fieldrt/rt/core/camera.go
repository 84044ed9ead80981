package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a Y-up orbit camera around Target.
type CameraState struct {
	Target     mgl32.Vec3
	Distance   float32
	Yaw        float32
	Pitch      float32
	OrbitSpeed float32 // radians per second around Y
	FovY       float32 // degrees
	Near       float32
	Far        float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Distance:   3.2,
		Pitch:      0.25,
		OrbitSpeed: 0.15,
		FovY:       50,
		Near:       0.05,
		Far:        100,
	}
}

func (c *CameraState) Position() mgl32.Vec3 {
	cp := float32(math.Cos(float64(c.Pitch)))
	offset := mgl32.Vec3{
		cp * float32(math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		cp * float32(math.Cos(float64(c.Yaw))),
	}
	return c.Target.Add(offset.Mul(c.Distance))
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position(), c.Target, mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) GetProjection(aspect float32) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far)
}

// Advance orbits the camera and keeps pitch away from the poles.
func (c *CameraState) Advance(dt float32) {
	c.Yaw = float32(math.Mod(float64(c.Yaw+c.OrbitSpeed*dt), 2*math.Pi))
	c.Pitch = mgl32.Clamp(c.Pitch, -1.4, 1.4)
}

// Basis returns the billboard right/up vectors for the current view.
func (c *CameraState) Basis() (right, up mgl32.Vec3) {
	return CameraBasis(c.GetViewMatrix().Inv())
}
