package rife

import (
	"context"
	"errors"

	"gorgonia.org/tensor"
)

// MaxExp bounds the recursion depth, 2^3 = 8x is the largest factor the
// model handles without visible drift.
const MaxExp = 3

var ErrInvalidExp = errors.New("interpolation exponent must be between 1 and 3")

// Times returns the frame rate multiplier for an exponent
func Times(exp int) int {
	return 1 << exp
}

// Schedule interpolates recursively between i0 and i1. It returns
// 2^exp - 1 batches in temporal order: the first half of the span, the
// middle frame, then the second half.
func Schedule(ctx context.Context, m Model, i0, i1 *tensor.Dense, exp int) ([]*tensor.Dense, error) {
	if exp < 1 || exp > MaxExp {
		return nil, ErrInvalidExp
	}

	return schedule(ctx, m, i0, i1, exp)
}

func schedule(ctx context.Context, m Model, i0, i1 *tensor.Dense, exp int) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	middle, err := m.Inference(ctx, i0, i1)
	if err != nil {
		return nil, err
	}

	if exp == 1 {
		return []*tensor.Dense{middle}, nil
	}

	firstHalf, err := schedule(ctx, m, i0, middle, exp-1)
	if err != nil {
		return nil, err
	}

	secondHalf, err := schedule(ctx, m, middle, i1, exp-1)
	if err != nil {
		return nil, err
	}

	out := make([]*tensor.Dense, 0, len(firstHalf)+1+len(secondHalf))
	out = append(out, firstHalf...)
	out = append(out, middle)
	return append(out, secondHalf...), nil
}
