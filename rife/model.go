package rife

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gorgonia.org/tensor"
)

const (
	BackendProcess = "process"
	BackendONNX    = "onnx"
	BackendLinear  = "linear"
)

var (
	ErrUnknownBackend = errors.New("unknown model backend")
	ErrShapeMismatch  = errors.New("input batches have different shapes")
)

// Model is a loaded interpolation network. Inference receives two batches
// of shape N x 3 x H x W with values in [0, 1] and returns the batch of
// frames halfway between them, with the same shape.
type Model interface {
	Load(modelDir string) error
	Inference(ctx context.Context, i0, i1 *tensor.Dense) (*tensor.Dense, error)
	Close() error
}

// Options holds the configuration used to create a Model
type Options struct {
	Backend  string
	ModelDir string
	GPUID    int

	// Process backend only
	Binary    string
	ExtraArgs []string
	Stderr    io.Writer
}

// DefaultOptions returns the options matching the upstream RIFE layout
func DefaultOptions() Options {
	return Options{
		Backend:  BackendProcess,
		ModelDir: "./train_log",
		GPUID:    0,
		Binary:   "rife-server",
		Stderr:   os.Stderr,
	}
}

// New creates the backend named in opts and loads its weights
func New(opts Options) (Model, error) {
	var m Model
	switch opts.Backend {
	case BackendProcess:
		m = newProcessModel(opts)
	case BackendONNX:
		m = newONNXModel()
	case BackendLinear:
		m = Linear{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}

	if err := m.Load(opts.ModelDir); err != nil {
		return nil, fmt.Errorf("loading %s model from %s: %w", opts.Backend, opts.ModelDir, err)
	}

	return m, nil
}

func checkPair(i0, i1 *tensor.Dense) error {
	if i0 == nil || i1 == nil {
		return errors.New("nil input batch")
	}

	if !i0.Shape().Eq(i1.Shape()) {
		return fmt.Errorf("%w: %v and %v", ErrShapeMismatch, i0.Shape(), i1.Shape())
	}

	if len(i0.Shape()) != 4 {
		return fmt.Errorf("expected a 4D batch, got shape %v", i0.Shape())
	}

	return nil
}
