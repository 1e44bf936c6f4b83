package main

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is the per-frame view of the scene.
type Camera struct {
	ViewProj mgl32.Mat4
	Eye      mgl32.Vec3
	Width    uint32
	Height   uint32
}

// Light is the directional sun casting the shadow map.
type Light struct {
	ViewProj  mgl32.Mat4
	Direction mgl32.Vec3
}

// Vulkan clip space: flipped Y, depth in [0, 1].
var clip = mgl32.Mat4{1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}

const (
	gridSize     = 8
	gridSpacing  = 2.5
	orbitRadius  = 18
	orbitPeriod  = 600
	cubeIndices  = 36
	shadowExtent = 2048
)

// orbitCamera circles the cube grid once every orbitPeriod frames.
func orbitCamera(frame uint64, width, height uint32) Camera {
	angle := 2 * math.Pi * float64(frame%orbitPeriod) / orbitPeriod
	eye := mgl32.Vec3{
		orbitRadius * float32(math.Cos(angle)),
		8,
		orbitRadius * float32(math.Sin(angle)),
	}
	proj := mgl32.Perspective(mgl32.DegToRad(45), float32(width)/float32(height), 0.1, 100)
	view := mgl32.LookAtV(eye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	return Camera{ViewProj: clip.Mul4(proj).Mul4(view), Eye: eye, Width: width, Height: height}
}

// sunLight returns a fixed late-afternoon sun.
func sunLight() Light {
	dir := mgl32.Vec3{-0.4, -1, -0.3}.Normalize()
	eye := dir.Mul(-30)
	proj := mgl32.Ortho(-15, 15, -15, 15, 1, 60)
	view := mgl32.LookAtV(eye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	return Light{ViewProj: clip.Mul4(proj).Mul4(view), Direction: dir}
}

// instanceTransforms returns the model matrices of the cube grid.
func instanceTransforms() []byte {
	out := make([]byte, 0, gridSize*gridSize*16*4)
	offset := float32(gridSize-1) * gridSpacing / 2
	for z := range gridSize {
		for x := range gridSize {
			m := mgl32.Translate3D(float32(x)*gridSpacing-offset, 0, float32(z)*gridSpacing-offset)
			out = appendMatrix(out, m)
		}
	}
	return out
}

func appendMatrix(dst []byte, m mgl32.Mat4) []byte {
	for _, f := range m {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}
