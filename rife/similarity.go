package rife

import (
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
)

// Both frames are reduced to this size before comparing them
const similaritySize = 16

// Similarity returns, for every pair (a[i], b[i]), the mean absolute
// difference of the two frames after a bilinear reduction to 16x16.
// Values are in [0, 1]; 0 means identical thumbnails.
func Similarity(a, b [][]byte, width, height int) []float64 {
	scores := make([]float64, len(a))
	for i := range a {
		scores[i] = pairDistance(a[i], b[i], width, height)
	}
	return scores
}

func pairDistance(a, b []byte, width, height int) float64 {
	ta := thumbnail(a, width, height)
	tb := thumbnail(b, width, height)

	var sum float64
	for y := 0; y < similaritySize; y++ {
		for x := 0; x < similaritySize; x++ {
			ca := ta.RGBA64At(x, y)
			cb := tb.RGBA64At(x, y)
			sum += math.Abs(float64(ca.R)-float64(cb.R)) +
				math.Abs(float64(ca.G)-float64(cb.G)) +
				math.Abs(float64(ca.B)-float64(cb.B))
		}
	}

	return sum / (math.MaxUint16 * Channels * similaritySize * similaritySize)
}

// thumbnail keeps 16 bits per channel so the bilinear reduction does not
// round small differences away
func thumbnail(frame []byte, width, height int) *image.RGBA64 {
	resized := resize.Resize(similaritySize, similaritySize, bgrToRGBA64(frame, width, height), resize.Bilinear)
	if img, ok := resized.(*image.RGBA64); ok {
		return img
	}

	// resize keeps *image.RGBA64 for RGBA64 input, this only covers other
	// implementations
	img := image.NewRGBA64(image.Rect(0, 0, similaritySize, similaritySize))
	for y := 0; y < similaritySize; y++ {
		for x := 0; x < similaritySize; x++ {
			img.Set(x, y, resized.At(x, y))
		}
	}
	return img
}

func bgrToRGBA64(frame []byte, width, height int) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * Channels
			img.SetRGBA64(x, y, color.RGBA64{
				R: uint16(frame[i+2]) * 257,
				G: uint16(frame[i+1]) * 257,
				B: uint16(frame[i]) * 257,
				A: math.MaxUint16,
			})
		}
	}
	return img
}
