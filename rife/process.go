package rife

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"gorgonia.org/tensor"
)

// ProcessModel drives a long-lived inference server over its stdio.
//
// A request is the batch shape as four big-endian uint64 (n, c, h, w)
// followed by I0 then I1 as big-endian float32. The server answers with a
// single n*c*h*w float32 block holding the middle frames.
type ProcessModel struct {
	binary    string
	gpuID     int
	extraArgs []string
	stderr    io.Writer

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	writer *bufio.Writer
	reader *bufio.Reader
	// Set once a request was abandoned or failed midway, the stream can
	// no longer be trusted
	broken bool
}

// ErrProcessBroken is returned by every call after an interrupted exchange
var ErrProcessBroken = errors.New("inference process is no longer usable")

// Time left to the server's stdio to drain once it has exited
const processWaitDelay = 2 * time.Second

func newProcessModel(opts Options) *ProcessModel {
	return &ProcessModel{
		binary:    opts.Binary,
		gpuID:     opts.GPUID,
		extraArgs: opts.ExtraArgs,
		stderr:    opts.Stderr,
	}
}

func (p *ProcessModel) Load(modelDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("model already loaded")
	}

	args := append([]string{"-m", modelDir, "-g", strconv.Itoa(p.gpuID)}, p.extraArgs...)
	cmd := exec.Command(p.binary, args...)
	cmd.Stderr = p.stderr
	cmd.WaitDelay = processWaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.binary, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.broken = false
	p.writer = bufio.NewWriter(stdin)
	p.reader = bufio.NewReader(stdout)
	return nil
}

func (p *ProcessModel) Inference(ctx context.Context, i0, i1 *tensor.Dense) (*tensor.Dense, error) {
	if err := checkPair(i0, i1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil, errors.New("model not loaded")
	}

	if p.broken {
		return nil, ErrProcessBroken
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type response struct {
		out *tensor.Dense
		err error
	}

	// Buffered so the exchange can finish after an abandoned request
	done := make(chan response, 1)
	shape := i0.Shape().Clone()
	go func() {
		if err := writeRequest(p.writer, i0, i1); err != nil {
			done <- response{err: fmt.Errorf("sending frames to %s: %w", p.binary, err)}
			return
		}

		out, err := readResponse(p.reader, shape)
		if err != nil {
			err = fmt.Errorf("reading frames from %s: %w", p.binary, err)
		}
		done <- response{out: out, err: err}
	}()

	select {
	case resp := <-done:
		if resp.err != nil {
			p.broken = true
			return nil, fmt.Errorf("%w: %w", ErrProcessBroken, resp.err)
		}
		return resp.out, nil
	case <-ctx.Done():
		p.kill()
		return nil, ctx.Err()
	}
}

// kill stops the server and unblocks a pending exchange
func (p *ProcessModel) kill() {
	p.broken = true
	p.cmd.Process.Kill()
	p.stdin.Close()
	p.stdout.Close()
}

func (p *ProcessModel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}

	// The server exits once its stdin is closed
	p.stdin.Close()
	if p.broken {
		p.cmd.Process.Kill()
	}

	err := p.cmd.Wait()
	broken := p.broken
	p.cmd = nil
	if broken {
		// Exit status of a killed server carries no information
		return nil
	}
	return err
}

func writeRequest(w *bufio.Writer, i0, i1 *tensor.Dense) error {
	for _, dim := range i0.Shape() {
		if err := binary.Write(w, binary.BigEndian, uint64(dim)); err != nil {
			return err
		}
	}

	for _, t := range []*tensor.Dense{i0, i1} {
		data, ok := t.Data().([]float32)
		if !ok {
			return fmt.Errorf("expected float32 batch, got %v", t.Dtype())
		}

		if err := binary.Write(w, binary.BigEndian, data); err != nil {
			return err
		}
	}

	return w.Flush()
}

func readResponse(r io.Reader, shape tensor.Shape) (*tensor.Dense, error) {
	data := make([]float32, shape.TotalSize())
	if err := binary.Read(r, binary.BigEndian, data); err != nil {
		return nil, err
	}

	return tensor.New(tensor.WithShape(shape.Clone()...), tensor.WithBacking(data)), nil
}
