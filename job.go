package main

import (
	"time"
)

const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

type Job struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"runId"`
	Path          string    `json:"path" binding:"required"`
	OutputPath    string    `json:"outputPath"`
	Exp           int       `json:"exp"`
	FPS           int       `json:"fps"`
	PNG           bool      `json:"png"`
	Skip          bool      `json:"skip"`
	Ext           string    `json:"ext"`
	Status        string    `json:"status"`
	Retries       int       `json:"retries"`
	Error         string    `json:"error,omitempty"`
	FramesWritten int64     `json:"framesWritten"`
	StaticSkipped int64     `json:"staticSkipped"`
	Substituted   int64     `json:"substituted"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// RunOptions maps the job onto an interpolation run. OutputPath names the
// PNG directory in PNG mode and the video file otherwise.
func (j *Job) RunOptions() RunOptions {
	opts := RunOptions{
		Video: j.Path,
		Skip:  j.Skip,
		FPS:   j.FPS,
		PNG:   j.PNG,
		Ext:   j.Ext,
		Exp:   j.Exp,
	}

	if j.PNG {
		opts.OutputDir = j.OutputPath
	} else {
		opts.OutputPath = j.OutputPath
	}

	return opts
}
