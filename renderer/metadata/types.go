package metadata

import (
	"github.com/go-gl/mathgl/mgl32"
)

// The structs in this file cross the host-engine boundary. Field order,
// widths and explicit padding are part of the contract: the caller writes
// these records directly, so layouts must never change without a matching
// change on the host side. Only fixed-size array-backed types (mgl32 vectors
// and matrices, plain scalars) are used.

// Vertex2D is a single 2D vertex with its texture index, UV and color.
type Vertex2D struct {
	Vertex mgl32.Vec3
	Tex    uint32
	UV     mgl32.Vec2
	Color  mgl32.Vec4
}

// Vertex3D is a single 3D vertex. MatID indexes the material array passed
// via SetMaterials.
type Vertex3D struct {
	Vertex  mgl32.Vec4
	Normal  mgl32.Vec3
	MatID   uint32
	UV      mgl32.Vec2
	Pad0    float32
	Pad1    float32
	Tangent mgl32.Vec4
}

// JointData carries the skinning joints and weights for one vertex. It lives
// in the auxiliary stream tied 1:1 to skinned vertex slots.
type JointData struct {
	Joint  [4]uint32
	Weight mgl32.Vec4
}

// Matrices is the per-instance record uploaded to the 3D instance stream:
// the object transform and its inverse-transpose for normals.
type Matrices struct {
	Transform       mgl32.Mat4
	NormalTransform mgl32.Mat4
}

func NewMatrices(transform mgl32.Mat4) Matrices {
	return Matrices{
		Transform:       transform,
		NormalTransform: transform.Inv().Transpose(),
	}
}

// DeviceMaterial is the GPU-side material record, 96 bytes, std430-friendly.
type DeviceMaterial struct {
	Color      [4]float32
	Absorption [4]float32
	Specular   [4]float32
	Parameters [4]uint32

	Flags                uint32
	DiffuseMap           int32
	NormalMap            int32
	MetallicRoughnessMap int32

	EmissiveMap int32
	SheenMap    int32
	Dummy       [2]int32
}

// CameraView3D describes the 3D camera. The backend derives projection and
// view matrices from it each frame.
type CameraView3D struct {
	Pos         mgl32.Vec3
	Right       mgl32.Vec3
	Up          mgl32.Vec3
	P1          mgl32.Vec3
	Direction   mgl32.Vec3
	LensSize    float32
	SpreadAngle float32
	Epsilon     float32
	InvWidth    float32
	InvHeight   float32
	NearPlane   float32
	FarPlane    float32
	AspectRatio float32
	// FOV in radians.
	FOV     float32
	Custom0 mgl32.Vec4
	Custom1 mgl32.Vec4
}

// RHProjection returns the right-handed perspective projection for this view.
func (c CameraView3D) RHProjection() mgl32.Mat4 {
	return mgl32.Perspective(c.FOV, c.AspectRatio, c.NearPlane, c.FarPlane)
}

// RHViewMatrix returns the right-handed look-at view matrix for this view.
func (c CameraView3D) RHViewMatrix() mgl32.Mat4 {
	center := c.Pos.Add(c.Direction)
	return mgl32.LookAtV(c.Pos, center, c.Up)
}

// CameraView2D is the 2D layer transform applied to every 2D draw.
type CameraView2D struct {
	Matrix mgl32.Mat4
}

// MeshData2D is the caller-owned 2D mesh payload for one Set2DMesh call.
// TexID below -1 means untextured.
type MeshData2D struct {
	Vertices []Vertex2D
	TexID    int32
}

// MeshData3D is the caller-owned 3D mesh payload. SkinData is either empty
// or exactly one JointData per vertex.
type MeshData3D struct {
	Vertices []Vertex3D
	SkinData []JointData
}

// InstancesData2D carries the per-instance transforms of one 2D mesh.
type InstancesData2D struct {
	Matrices []mgl32.Mat4
}

// InstancesData3D carries the per-instance transforms of one 3D mesh.
type InstancesData3D struct {
	Matrices []mgl32.Mat4
}

// TextureData is one texture with its full mip chain packed contiguously in
// Bytes, BGRA8, largest level first.
type TextureData struct {
	Width     uint32
	Height    uint32
	MipLevels uint32
	Bytes     []byte
}

// MipLevelWidthHeight returns the dimensions of the given mip level, never
// smaller than 1x1.
func (t TextureData) MipLevelWidthHeight(level uint32) (uint32, uint32) {
	w := t.Width >> level
	h := t.Height >> level
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// MipLevelOffset returns the byte offset of the given mip level inside Bytes.
func (t TextureData) MipLevelOffset(level uint32) uint32 {
	var offset uint32
	for l := uint32(0); l < level; l++ {
		w, h := t.MipLevelWidthHeight(l)
		offset += w * h * 4
	}
	return offset
}

// DirtyFlags records which streams changed since the last Synchronize. One
// instance lives on each Renderer; nothing is process-global.
type DirtyFlags uint8

const (
	DirtyMesh3D DirtyFlags = 1 << iota
	DirtyInstances3D
	DirtyMesh2D
	DirtyInstances2D
	DirtyMaterials
	DirtyTextures
)

func (d DirtyFlags) Has(flag DirtyFlags) bool {
	return d&flag != 0
}
