package main

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
)

// syncBuffer lets stdout and stderr share one buffer
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type Command struct {
	cmd                    *exec.Cmd
	output                 syncBuffer
	stdin                  io.WriteCloser
	stdout                 io.ReadCloser
	isStdoutBufferDisabled bool
}

func NewCommandContext(ctx context.Context, cmdName string, args ...string) *Command {
	cmd := exec.CommandContext(ctx, cmdName, args...)

	return &Command{cmd: cmd}
}

// DisableStdoutBuffer keeps stdout free for a pipe, stderr is still
// captured in the output
func (c *Command) DisableStdoutBuffer() {
	c.isStdoutBufferDisabled = true
}

func (c *Command) GetStdin() (io.WriteCloser, error) {
	if c.stdin == nil {
		stdin, err := c.cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		c.stdin = stdin
	}
	return c.stdin, nil
}

func (c *Command) GetStdout() (io.ReadCloser, error) {
	if c.stdout == nil {
		stdout, err := c.cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		c.stdout = stdout
	}
	return c.stdout, nil
}

func (c *Command) Start() error {
	if !c.isStdoutBufferDisabled && c.stdout == nil {
		c.cmd.Stdout = &c.output
	}
	c.cmd.Stderr = &c.output

	return c.cmd.Start()
}

func (c *Command) Wait() error {
	return c.cmd.Wait()
}

func (c *Command) CombinedOutput() (string, error) {
	if err := c.Start(); err != nil {
		return "", err
	}

	err := c.Wait()
	return c.GetOutput(), err
}

func (c *Command) GetOutput() string {
	return c.output.String()
}
