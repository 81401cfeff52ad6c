package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar reports source frames consumed. A total of 0 means the
// frame count is unknown and renders a spinner instead.
func NewProgressBar(total int64, description string) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}

	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}
