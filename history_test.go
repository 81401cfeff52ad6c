package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableRow returns the trimmed cells of the rendered line containing needle
func tableRow(t *testing.T, output, needle string) []string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, needle) {
			continue
		}

		var cells []string
		for _, cell := range strings.Split(strings.Trim(line, "│"), "│") {
			cells = append(cells, strings.TrimSpace(cell))
		}
		return cells
	}

	require.FailNow(t, "row not found", needle)
	return nil
}

func TestPrintJobs(t *testing.T) {
	jobs := []Job{
		{ID: 1, Path: "/videos/a.mp4", OutputPath: "/videos/a_2X_60fps.mp4", Exp: 1, Status: JobDone,
			FramesWritten: 599, Substituted: 4, UpdatedAt: time.Now()},
		{ID: 2, Path: "/videos/b.mp4", Exp: 3, Status: JobFailed, Retries: 5, UpdatedAt: time.Now()},
	}

	var out bytes.Buffer
	require.NoError(t, printJobs(&out, jobs))

	assert.Equal(t, historyHeaders, tableRow(t, out.String(), "STATUS"))

	done := tableRow(t, out.String(), "/videos/a.mp4")
	require.Len(t, done, len(historyHeaders))
	assert.Equal(t, []string{"1", "done", "1", "599", "4", "0", "0"}, done[:7])
	assert.Equal(t, "/videos/a_2X_60fps.mp4", done[9])

	failed := tableRow(t, out.String(), "/videos/b.mp4")
	require.Len(t, failed, len(historyHeaders))
	assert.Equal(t, []string{"2", "failed", "3", "0", "0", "0", "5"}, failed[:7])
	assert.Empty(t, failed[9])
}

func TestPrintJobsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJobs(&out, nil))

	assert.Equal(t, historyHeaders, tableRow(t, out.String(), "STATUS"))
	assert.NotContains(t, out.String(), JobFailed)
}
