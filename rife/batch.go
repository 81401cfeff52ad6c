package rife

import (
	"fmt"

	"gorgonia.org/tensor"
)

const (
	// Channels per pixel, frames are packed BGR24
	Channels = 3

	// The flow network downsamples by 32, inputs must be a multiple of it
	padAlign = 32
)

// PaddedSize rounds width and height up to the next multiple of 32
func PaddedSize(width, height int) (int, int) {
	return ((width-1)/padAlign + 1) * padAlign, ((height-1)/padAlign + 1) * padAlign
}

// PadBatch stacks BGR24 frames into an N x 3 x PH x PW float32 batch scaled
// to [0, 1]. The extra columns and rows on the right and bottom are zero.
func PadBatch(frames [][]byte, width, height int) *tensor.Dense {
	pw, ph := PaddedSize(width, height)
	plane := pw * ph
	data := make([]float32, len(frames)*Channels*plane)

	for n, frame := range frames {
		base := n * Channels * plane
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				src := (y*width + x) * Channels
				dst := base + y*pw + x
				for c := 0; c < Channels; c++ {
					data[dst+c*plane] = float32(frame[src+c]) / 255
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(len(frames), Channels, ph, pw), tensor.WithBacking(data))
}

// UnpadFrames crops a padded batch back to width x height and converts it
// to BGR24 frames. Values are scaled by 255, clamped and truncated.
func UnpadFrames(batch *tensor.Dense, width, height int) ([][]byte, error) {
	shape := batch.Shape()
	if len(shape) != 4 || shape[1] != Channels {
		return nil, fmt.Errorf("unexpected batch shape %v", shape)
	}

	n, ph, pw := shape[0], shape[2], shape[3]
	if ph < height || pw < width {
		return nil, fmt.Errorf("batch %dx%d is smaller than frame %dx%d", pw, ph, width, height)
	}

	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 batch, got %v", batch.Dtype())
	}

	plane := pw * ph
	frames := make([][]byte, n)
	for i := range frames {
		frame := make([]byte, width*height*Channels)
		base := i * Channels * plane
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				src := base + y*pw + x
				dst := (y*width + x) * Channels
				for c := 0; c < Channels; c++ {
					frame[dst+c] = toByte(data[src+c*plane])
				}
			}
		}
		frames[i] = frame
	}

	return frames, nil
}

func toByte(v float32) byte {
	v *= 255
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}
