package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// FrameSource yields decoded frames until io.EOF
type FrameSource interface {
	ReadFrame() (Frame, error)
}

// FrameSink receives the output frames in order
type FrameSink interface {
	WriteFrame(frame Frame) error
	Close() error
}

// PNGWriter writes every frame to <dir>/%07d.png, numbered from 0
type PNGWriter struct {
	dir   string
	count int64
}

func NewPNGWriter(dir string) (*PNGWriter, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	return &PNGWriter{dir: dir}, nil
}

func (p *PNGWriter) WriteFrame(frame Frame) error {
	path := filepath.Join(p.dir, fmt.Sprintf("%07d.png", p.count))
	if err := imaging.Save(bgrToNRGBA(frame), path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}

	p.count++
	return nil
}

func (p *PNGWriter) Close() error {
	return nil
}

func (p *PNGWriter) Count() int64 {
	return p.count
}

func bgrToNRGBA(frame Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i+2 < len(frame.Data) && j < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = frame.Data[i+2]
		img.Pix[j+1] = frame.Data[i+1]
		img.Pix[j+2] = frame.Data[i]
		img.Pix[j+3] = 0xFF
	}
	return img
}
