package vision

import (
	"image"

	"golang.org/x/image/draw"
)

var (
	detMean, detStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128}
	embMean, embStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}
)

// toCHW resizes img to size x size and lays it out as normalized RGB planes:
// (pixel - mean) / std.
func toCHW(img image.Image, size int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := dst.Pix[i*4 : i*4+3]
		for c := 0; c < 3; c++ {
			out[c*plane+i] = (float32(px[c]) - mean[c]) / std[c]
		}
	}
	return out
}

// faceRegion pads the candidate box by 10% on each side, clamped to bounds.
func faceRegion(c candidate, bounds image.Rectangle) image.Rectangle {
	padW := (c.x2 - c.x1) * 0.1
	padH := (c.y2 - c.y1) * 0.1
	r := image.Rect(
		bounds.Min.X+int(c.x1-padW), bounds.Min.Y+int(c.y1-padH),
		bounds.Min.X+int(c.x2+padW), bounds.Min.Y+int(c.y2+padH),
	)
	return r.Intersect(bounds)
}

// subImage returns the r region of img without copying when possible.
func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
