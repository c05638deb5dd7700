package lumen

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera produces the view/projection matrices and the packed uniform block
// shared by every render variant.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	FovY   float32 // radians
	Aspect float32
	Near   float32
	Far    float32
}

func NewCamera() *Camera {
	return &Camera{
		Position: mgl32.Vec3{0, 0, 10},
		Target:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     mgl32.DegToRad(45),
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      1000,
	}
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

func (c *Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// CameraUniformSize is the byte size of the packed camera uniform block.
const CameraUniformSize = 256

// PackUniform serializes the camera block little-endian:
//
//	view_proj: mat4x4<f32>  --  64
//	inv_view:  mat4x4<f32>  -- 128
//	inv_proj:  mat4x4<f32>  -- 192
//	cam_pos:   vec4<f32>    -- 208
//	near_far:  vec4<f32>    -- 224
//	(padded to 256)
func (c *Camera) PackUniform() []byte {
	buf := make([]byte, CameraUniformSize)

	writeMat := func(offset int, m mgl32.Mat4) {
		for i := 0; i < 16; i++ {
			binary.LittleEndian.PutUint32(buf[offset+i*4:], math.Float32bits(m[i]))
		}
	}

	writeMat(0, c.ViewProjection())
	writeMat(64, c.View().Inv())
	writeMat(128, c.Projection().Inv())

	binary.LittleEndian.PutUint32(buf[192:], math.Float32bits(c.Position.X()))
	binary.LittleEndian.PutUint32(buf[196:], math.Float32bits(c.Position.Y()))
	binary.LittleEndian.PutUint32(buf[200:], math.Float32bits(c.Position.Z()))
	binary.LittleEndian.PutUint32(buf[204:], math.Float32bits(1))

	binary.LittleEndian.PutUint32(buf[208:], math.Float32bits(c.Near))
	binary.LittleEndian.PutUint32(buf[212:], math.Float32bits(c.Far))

	return buf
}
