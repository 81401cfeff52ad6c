package rife

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"gorgonia.org/tensor"
)

const onnxModelFile = "flownet.onnx"

// ONNXModel runs an exported flownet graph on the gorgonnx backend.
// Input 0 and 1 are the two batches, output 0 is the middle frame.
type ONNXModel struct {
	mu      sync.Mutex
	backend *gorgonnx.Graph
	model   *onnx.Model
}

func newONNXModel() *ONNXModel {
	return &ONNXModel{}
}

func (o *ONNXModel) Load(modelDir string) error {
	b, err := os.ReadFile(filepath.Join(modelDir, onnxModelFile))
	if err != nil {
		return err
	}

	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("decoding %s: %w", onnxModelFile, err)
	}

	o.mu.Lock()
	o.backend = backend
	o.model = model
	o.mu.Unlock()
	return nil
}

func (o *ONNXModel) Inference(ctx context.Context, i0, i1 *tensor.Dense) (*tensor.Dense, error) {
	if err := checkPair(i0, i1); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.model == nil {
		return nil, errors.New("model not loaded")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := o.model.SetInput(0, i0); err != nil {
		return nil, err
	}
	if err := o.model.SetInput(1, i1); err != nil {
		return nil, err
	}

	if err := o.backend.Run(); err != nil {
		return nil, fmt.Errorf("running graph: %w", err)
	}

	outputs, err := o.model.GetOutputTensors()
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.New("graph produced no output")
	}

	out, ok := outputs[0].(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	if !out.Shape().Eq(i0.Shape()) {
		return nil, fmt.Errorf("%w: output %v for input %v", ErrShapeMismatch, out.Shape(), i0.Shape())
	}

	// The graph reuses its output buffer on the next run
	return out.Clone().(*tensor.Dense), nil
}

func (o *ONNXModel) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.backend = nil
	o.model = nil
	return nil
}
