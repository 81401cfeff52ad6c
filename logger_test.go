package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructFields(t *testing.T) {
	result := RunResult{OutputPath: "out.mp4", FramesWritten: 12}

	fields := StructFields(result)
	assert.Equal(t, "out.mp4", fields["OutputPath"])
	assert.Equal(t, int64(12), fields["FramesWritten"])

	fields = StructFields(&result)
	assert.Equal(t, int64(12), fields["FramesWritten"])

	fields = StructFields(uploadFile{path: "a.png", key: "out/a.png"})
	assert.Empty(t, fields)
}

func TestCreateLogger(t *testing.T) {
	require.NoError(t, InitLogFile(t.TempDir()))
	defer CloseLogFile()

	logger, err := CreateLogger("test")
	require.NoError(t, err)
	assert.Equal(t, "test", logger.Data["from"])
}
