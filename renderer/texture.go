package renderer

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/vetro/renderer/metadata"
)

// MaxMipLevels returns the length of the full mip chain for a texture of the
// given size, down to 1x1.
func MaxMipLevels(width, height uint32) uint32 {
	levels := uint32(1)
	for width > 1 || height > 1 {
		width >>= 1
		height >>= 1
		if width == 0 {
			width = 1
		}
		if height == 0 {
			height = 1
		}
		levels++
	}
	return levels
}

// GenerateMips builds a TextureData with a full mip chain from an image,
// downscaling each level from the previous one. Level 0 is the source image
// itself.
func GenerateMips(src image.Image) (metadata.TextureData, error) {
	bounds := src.Bounds()
	width := uint32(bounds.Dx())
	height := uint32(bounds.Dy())
	if width == 0 || height == 0 {
		return metadata.TextureData{}, fmt.Errorf("empty source image %dx%d", width, height)
	}

	tex := metadata.TextureData{
		Width:     width,
		Height:    height,
		MipLevels: MaxMipLevels(width, height),
	}

	var total uint32
	for level := uint32(0); level < tex.MipLevels; level++ {
		w, h := tex.MipLevelWidthHeight(level)
		total += w * h * 4
	}
	tex.Bytes = make([]byte, total)

	prev := image.NewRGBA(bounds)
	draw.Draw(prev, bounds, src, bounds.Min, draw.Src)

	for level := uint32(0); level < tex.MipLevels; level++ {
		w, h := tex.MipLevelWidthHeight(level)
		var cur *image.RGBA
		if level == 0 {
			cur = prev
		} else {
			cur = image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
			draw.CatmullRom.Scale(cur, cur.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		}
		copyPixels(tex.Bytes[tex.MipLevelOffset(level):], cur)
		prev = cur
	}
	return tex, nil
}

// copyPixels writes the image into dst as tightly packed BGRA8 rows.
func copyPixels(dst []byte, img *image.RGBA) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out := dst[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			out[x*4+0] = row[x*4+2]
			out[x*4+1] = row[x*4+1]
			out[x*4+2] = row[x*4+0]
			out[x*4+3] = row[x*4+3]
		}
	}
}
