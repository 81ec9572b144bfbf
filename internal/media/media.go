// Package media assembles exported frame sequences back into playable video
// files. Video task exports ship one image per frame, but the destination
// platform takes a single media file per video item.
package media

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const frameRate = 25

var frameExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
}

// runCommand is swapped out in tests; ffmpeg is not available there.
var runCommand = func(cmd *exec.Cmd) error { return cmd.Run() }

// FramesToVideo encodes the frame images under framesDir into a video file
// at target using ffmpeg. Frames are taken in name order, which is how task
// exports number them.
func FramesToVideo(framesDir, target string) error {
	pattern, err := framePattern(framesDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(
		"ffmpeg", "-y",
		"-framerate", strconv.Itoa(frameRate),
		"-pattern_type", "glob",
		"-i", pattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		target,
	)
	if err := runCommand(cmd); err != nil {
		return errors.Wrapf(err, "ffmpeg failed to encode %q", target)
	}
	return nil
}

// framePattern finds the frame extension in use and returns the glob ffmpeg
// reads. Exports do not mix extensions; the first image seen decides.
func framePattern(framesDir string) (string, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read frames directory %q", framesDir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if frameExtensions[ext] {
			return filepath.Join(framesDir, "*"+ext), nil
		}
	}
	return "", errors.Newf("no frame images found in %q", framesDir)
}
