package rife

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// helperEnv makes the test binary act as an inference server
const helperEnv = "FRAMEUP_RIFE_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelperServer(mode))
	}
	os.Exit(m.Run())
}

// runHelperServer answers requests on stdio the way the real server does.
// "average" returns (I0+I1)/2, "short" answers with a truncated block and
// "stall" never answers.
func runHelperServer(mode string) int {
	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)

	for {
		var shape [4]uint64
		if err := binary.Read(in, binary.BigEndian, &shape); err != nil {
			if err == io.EOF {
				return 0
			}
			return 1
		}

		size := shape[0] * shape[1] * shape[2] * shape[3]
		i0 := make([]float32, size)
		i1 := make([]float32, size)
		if binary.Read(in, binary.BigEndian, i0) != nil || binary.Read(in, binary.BigEndian, i1) != nil {
			return 1
		}

		switch mode {
		case "stall":
			time.Sleep(time.Hour)
			return 1
		case "short":
			out.Write([]byte{0x3f, 0x00})
			out.Flush()
			return 0
		}

		for i := range i0 {
			i0[i] = (i0[i] + i1[i]) / 2
		}
		if binary.Write(out, binary.BigEndian, i0) != nil || out.Flush() != nil {
			return 1
		}
	}
}

func newHelperModel(t *testing.T, mode string) Model {
	t.Helper()
	t.Setenv(helperEnv, mode)

	opts := DefaultOptions()
	opts.Backend = BackendProcess
	opts.Binary = os.Args[0]
	opts.ModelDir = t.TempDir()
	opts.Stderr = io.Discard

	m, err := New(opts)
	require.NoError(t, err)
	return m
}

func TestProcessModelRoundTrip(t *testing.T) {
	m := newHelperModel(t, "average")

	i0 := tensor.New(tensor.WithShape(1, 3, 1, 2), tensor.WithBacking([]float32{0, 0.2, 0.4, 0.6, 0.8, 1}))
	i1 := tensor.New(tensor.WithShape(1, 3, 1, 2), tensor.WithBacking([]float32{1, 0.8, 0.6, 0.4, 0.2, 0}))

	// The server keeps running between requests
	for i := 0; i < 2; i++ {
		out, err := m.Inference(context.Background(), i0, i1)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3, 1, 2}, []int(out.Shape()))
		assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, out.Data().([]float32), 1e-6)
	}

	assert.NoError(t, m.Close())
}

func TestProcessModelShortResponse(t *testing.T) {
	m := newHelperModel(t, "short")

	_, err := m.Inference(context.Background(), scalarBatch(0), scalarBatch(1))
	assert.ErrorIs(t, err, ErrProcessBroken)

	_, err = m.Inference(context.Background(), scalarBatch(0), scalarBatch(1))
	assert.ErrorIs(t, err, ErrProcessBroken)
	assert.NoError(t, m.Close())
}

func TestProcessModelCancelledWhileWaiting(t *testing.T) {
	m := newHelperModel(t, "stall")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := m.Inference(ctx, scalarBatch(0), scalarBatch(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)

	_, err = m.Inference(context.Background(), scalarBatch(0), scalarBatch(1))
	assert.ErrorIs(t, err, ErrProcessBroken)

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after a cancelled request")
	}
}

func TestWriteRequestFraming(t *testing.T) {
	i0 := tensor.New(tensor.WithShape(1, 3, 1, 1), tensor.WithBacking([]float32{0.1, 0.2, 0.3}))
	i1 := tensor.New(tensor.WithShape(1, 3, 1, 1), tensor.WithBacking([]float32{0.4, 0.5, 0.6}))

	var buf bytes.Buffer
	require.NoError(t, writeRequest(bufio.NewWriter(&buf), i0, i1))

	raw := buf.Bytes()
	require.Len(t, raw, 4*8+6*4)

	for i, want := range []uint64{1, 3, 1, 1} {
		assert.Equal(t, want, binary.BigEndian.Uint64(raw[i*8:]))
	}

	floats := raw[32:]
	for i, want := range []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6} {
		got := math.Float32frombits(binary.BigEndian.Uint32(floats[i*4:]))
		assert.Equal(t, want, got)
	}
}

func TestReadResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []float32{0.25, 0.75}))

	out, err := readResponse(&buf, tensor.Shape{1, 1, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 2}, []int(out.Shape()))
	assert.Equal(t, []float32{0.25, 0.75}, out.Data().([]float32))
}

func TestReadResponseShort(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0})
	_, err := readResponse(buf, tensor.Shape{1, 1, 1, 2})
	assert.Error(t, err)
}

func TestProcessModelNotLoaded(t *testing.T) {
	m := newProcessModel(DefaultOptions())
	_, err := m.Inference(context.Background(), scalarBatch(0), scalarBatch(1))
	assert.Error(t, err)
	assert.NoError(t, m.Close())
}
