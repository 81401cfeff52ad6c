package rife

import (
	"context"

	"gorgonia.org/tensor"
)

// Linear blends the two frames evenly. It needs no weights and no GPU.
type Linear struct{}

func (Linear) Load(string) error { return nil }

func (Linear) Inference(ctx context.Context, i0, i1 *tensor.Dense) (*tensor.Dense, error) {
	if err := checkPair(i0, i1); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum, err := i0.Add(i1)
	if err != nil {
		return nil, err
	}

	return sum.MulScalar(float32(0.5), true, tensor.UseUnsafe())
}

func (Linear) Close() error { return nil }
