package rife

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func scalarBatch(v float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(1, 1, 1, 1), tensor.WithBacking([]float32{v}))
}

func batchValue(t *testing.T, d *tensor.Dense) float32 {
	t.Helper()
	return d.Data().([]float32)[0]
}

type countingModel struct {
	Linear
	calls  int
	failAt int
}

func (c *countingModel) Inference(ctx context.Context, i0, i1 *tensor.Dense) (*tensor.Dense, error) {
	c.calls++
	if c.failAt > 0 && c.calls == c.failAt {
		return nil, errors.New("boom")
	}
	return c.Linear.Inference(ctx, i0, i1)
}

func TestScheduleOrderAndLength(t *testing.T) {
	tests := []struct {
		exp  int
		want []float32
	}{
		{1, []float32{0.5}},
		{2, []float32{0.25, 0.5, 0.75}},
		{3, []float32{0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875}},
	}

	for _, tt := range tests {
		model := &countingModel{}
		out, err := Schedule(context.Background(), model, scalarBatch(0), scalarBatch(1), tt.exp)
		require.NoError(t, err)
		require.Len(t, out, Times(tt.exp)-1)
		assert.Equal(t, Times(tt.exp)-1, model.calls)

		for i, want := range tt.want {
			assert.InDelta(t, want, batchValue(t, out[i]), 1e-6)
		}
	}
}

func TestScheduleInvalidExp(t *testing.T) {
	for _, exp := range []int{0, 4, -1} {
		_, err := Schedule(context.Background(), Linear{}, scalarBatch(0), scalarBatch(1), exp)
		assert.ErrorIs(t, err, ErrInvalidExp)
	}
}

func TestScheduleStopsOnError(t *testing.T) {
	model := &countingModel{failAt: 2}
	_, err := Schedule(context.Background(), model, scalarBatch(0), scalarBatch(1), 3)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 2, model.calls)
}

func TestScheduleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Schedule(ctx, Linear{}, scalarBatch(0), scalarBatch(1), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinearShapeMismatch(t *testing.T) {
	other := tensor.New(tensor.WithShape(1, 1, 1, 2), tensor.WithBacking([]float32{0, 0}))
	_, err := Linear{}.Inference(context.Background(), scalarBatch(0), other)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLinearLeavesInputs(t *testing.T) {
	i0, i1 := scalarBatch(0.2), scalarBatch(0.6)
	out, err := Linear{}.Inference(context.Background(), i0, i1)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, batchValue(t, out), 1e-6)
	assert.InDelta(t, 0.2, batchValue(t, i0), 1e-6)
	assert.InDelta(t, 0.6, batchValue(t, i1), 1e-6)
}

func TestNewUnknownBackend(t *testing.T) {
	opts := DefaultOptions()
	opts.Backend = "cuda"
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewLinear(t *testing.T) {
	opts := DefaultOptions()
	opts.Backend = BackendLinear
	m, err := New(opts)
	require.NoError(t, err)
	assert.NoError(t, m.Close())
}
