package testbed

import (
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/vetro/renderer"
	"github.com/spaghettifunk/vetro/renderer/metadata"
)

const (
	cubeMeshID = 1
	hudMeshID  = 1

	gridSide = 8
)

// Scene is a self-contained demo: a grid of spinning cubes under a 3D camera
// plus a 2D overlay quad in the corner.
type Scene struct {
	width  uint32
	height uint32

	transforms []mgl32.Mat4
}

func NewScene(r *renderer.Renderer, width, height uint32) (*Scene, error) {
	s := &Scene{
		width:      width,
		height:     height,
		transforms: make([]mgl32.Mat4, gridSide*gridSide),
	}

	r.Set3DMesh(cubeMeshID, metadata.MeshData3D{Vertices: cubeVertices()})
	s.placeInstances(0)
	r.Set3DInstances(cubeMeshID, metadata.InstancesData3D{Matrices: s.transforms})

	r.SetMaterials([]metadata.DeviceMaterial{
		{
			Color:      [4]float32{0.8, 0.3, 0.2, 1},
			Specular:   [4]float32{0.5, 0.5, 0.5, 32},
			DiffuseMap: 0,
			NormalMap:  -1,
		},
		{
			Color:      [4]float32{0.2, 0.4, 0.9, 1},
			Specular:   [4]float32{0.5, 0.5, 0.5, 16},
			DiffuseMap: -1,
			NormalMap:  -1,
		},
	})

	tex, err := renderer.GenerateMips(checkerboard(256, 32))
	if err != nil {
		return nil, err
	}
	r.SetTextures([]metadata.TextureData{tex}, []uint32{0})

	r.Set2DMesh(hudMeshID, metadata.MeshData2D{
		Vertices: hudQuad(220, 60),
		TexID:    -1,
	})
	r.Set2DInstances(hudMeshID, metadata.InstancesData2D{
		Matrices: []mgl32.Mat4{mgl32.Translate3D(20, 20, 0)},
	})

	return s, nil
}

func (s *Scene) Resize(width, height uint32) {
	s.width = width
	s.height = height
}

// Update advances the cube rotations and pushes the new transforms.
func (s *Scene) Update(r *renderer.Renderer, elapsed float64) {
	s.placeInstances(elapsed)
	r.Set3DInstances(cubeMeshID, metadata.InstancesData3D{Matrices: s.transforms})
}

func (s *Scene) placeInstances(elapsed float64) {
	angle := float32(elapsed)
	for row := 0; row < gridSide; row++ {
		for col := 0; col < gridSide; col++ {
			x := float32(col-gridSide/2) * 2.5
			z := float32(row-gridSide/2) * 2.5
			spin := angle + float32(row+col)*0.35
			s.transforms[row*gridSide+col] = mgl32.Translate3D(x, 0, z).
				Mul4(mgl32.HomogRotate3D(spin, mgl32.Vec3{0, 1, 0}.Normalize()))
		}
	}
}

// Camera3D orbits the grid slowly around the vertical axis.
func (s *Scene) Camera3D(elapsed float64) metadata.CameraView3D {
	orbit := elapsed * 0.2
	pos := mgl32.Vec3{
		float32(math.Cos(orbit)) * 18,
		10,
		float32(math.Sin(orbit)) * 18,
	}
	direction := pos.Mul(-1).Normalize()

	return metadata.CameraView3D{
		Pos:         pos,
		Direction:   direction,
		Up:          mgl32.Vec3{0, 1, 0},
		NearPlane:   0.1,
		FarPlane:    200,
		AspectRatio: float32(s.width) / float32(s.height),
		FOV:         mgl32.DegToRad(60),
		InvWidth:    1 / float32(s.width),
		InvHeight:   1 / float32(s.height),
	}
}

// Camera2D maps pixel coordinates to clip space, origin top left.
func (s *Scene) Camera2D() metadata.CameraView2D {
	return metadata.CameraView2D{
		Matrix: mgl32.Ortho(0, float32(s.width), float32(s.height), 0, -1, 1),
	}
}

// cubeVertices returns a unit cube as a triangle list, one material per
// opposing face pair.
func cubeVertices() []metadata.Vertex3D {
	faces := []struct {
		normal  mgl32.Vec3
		corners [4]mgl32.Vec3
		matID   uint32
	}{
		{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1}}, 0},
		{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{1, -1, -1}, {-1, -1, -1}, {-1, 1, -1}, {1, 1, -1}}, 0},
		{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{1, -1, 1}, {1, -1, -1}, {1, 1, -1}, {1, 1, 1}}, 1},
		{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{-1, -1, -1}, {-1, -1, 1}, {-1, 1, 1}, {-1, 1, -1}}, 1},
		{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{-1, 1, 1}, {1, 1, 1}, {1, 1, -1}, {-1, 1, -1}}, 0},
		{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{-1, -1, -1}, {1, -1, -1}, {1, -1, 1}, {-1, -1, 1}}, 1},
	}
	uvs := [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	vertices := make([]metadata.Vertex3D, 0, len(faces)*6)
	for _, f := range faces {
		for _, idx := range [6]int{0, 1, 2, 0, 2, 3} {
			vertices = append(vertices, metadata.Vertex3D{
				Vertex: f.corners[idx].Vec4(1),
				Normal: f.normal,
				MatID:  f.matID,
				UV:     uvs[idx],
			})
		}
	}
	return vertices
}

// hudQuad returns a translucent rectangle of the given pixel size, anchored
// at the origin so the instance transform positions it.
func hudQuad(w, h float32) []metadata.Vertex2D {
	tint := mgl32.Vec4{0.1, 0.1, 0.1, 0.6}
	corners := [4]mgl32.Vec3{{0, 0, 0}, {w, 0, 0}, {w, h, 0}, {0, h, 0}}
	uvs := [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	quad := make([]metadata.Vertex2D, 0, 6)
	for _, idx := range [6]int{0, 1, 2, 0, 2, 3} {
		quad = append(quad, metadata.Vertex2D{
			Vertex: corners[idx],
			Tex:    ^uint32(0), // untextured
			UV:     uvs[idx],
			Color:  tint,
		})
	}
	return quad
}

func checkerboard(size, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	light := color.RGBA{R: 220, G: 220, B: 220, A: 255}
	dark := color.RGBA{R: 40, G: 40, B: 40, A: 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetRGBA(x, y, light)
			} else {
				img.SetRGBA(x, y, dark)
			}
		}
	}
	return img
}
