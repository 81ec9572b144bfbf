package media

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramesToVideoBuildsEncodeCommand(t *testing.T) {
	framesDir := t.TempDir()
	for _, name := range []string{"frame_000000.jpg", "frame_000001.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(framesDir, name), []byte("jpg"), 0o644))
	}
	target := filepath.Join(t.TempDir(), "drive.mp4")

	original := runCommand
	defer func() { runCommand = original }()

	var captured []string
	runCommand = func(cmd *exec.Cmd) error {
		captured = cmd.Args
		return os.WriteFile(target, []byte("mp4"), 0o644)
	}

	require.NoError(t, FramesToVideo(framesDir, target))

	require.NotEmpty(t, captured)
	assert.Equal(t, "ffmpeg", captured[0])
	assert.Contains(t, captured, filepath.Join(framesDir, "*.jpg"))
	assert.Contains(t, captured, target)
	assert.Contains(t, captured, "glob")
	assert.FileExists(t, target)
}

func TestFramesToVideoPicksFrameExtension(t *testing.T) {
	framesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000000.png"), []byte("png"), 0o644))

	original := runCommand
	defer func() { runCommand = original }()

	var captured []string
	runCommand = func(cmd *exec.Cmd) error {
		captured = cmd.Args
		return nil
	}

	require.NoError(t, FramesToVideo(framesDir, "out.mp4"))
	assert.Contains(t, captured, filepath.Join(framesDir, "*.png"))
}

func TestFramesToVideoNoFrames(t *testing.T) {
	framesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "notes.txt"), []byte("x"), 0o644))

	err := FramesToVideo(framesDir, "out.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frame images")
}

func TestFramesToVideoEncoderFailure(t *testing.T) {
	framesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000000.jpg"), []byte("jpg"), 0o644))

	original := runCommand
	defer func() { runCommand = original }()
	runCommand = func(cmd *exec.Cmd) error {
		return exec.ErrNotFound
	}

	err := FramesToVideo(framesDir, "out.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg failed")
}
