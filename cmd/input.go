package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-lanekeeper/framebuffer"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

var (
	supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}
	supportedImageExtensions = []string{".jpg", ".jpeg", ".png"}
)

// InputType is the kind of frame source selected on the command line.
type InputType int

const (
	InputCamera InputType = iota
	InputVideo
	InputReplay
)

// InputConfig describes the selected frame source.
type InputConfig struct {
	Type     InputType
	Path     string
	DeviceID int
	// Interval paces replayed frames.
	Interval time.Duration
	Loop     bool
}

// validateInputFlags picks the frame source. No flag means camera device 0.
func validateInputFlags(device int, videoPath, replayDir string) (InputConfig, error) {
	if videoPath != "" && replayDir != "" {
		return InputConfig{}, errors.Wrap(errUsage, "cannot specify both --video and --replay")
	}

	switch {
	case videoPath != "":
		if err := validateFile(videoPath, supportedVideoExtensions); err != nil {
			return InputConfig{}, errors.Wrap(err, "video")
		}
		return InputConfig{Type: InputVideo, Path: videoPath}, nil
	case replayDir != "":
		info, err := os.Stat(replayDir)
		if err != nil {
			return InputConfig{}, errors.Wrap(err, "replay")
		}
		if !info.IsDir() {
			return InputConfig{}, errors.Wrapf(errUsage, "replay path %s is not a directory", replayDir)
		}
		return InputConfig{Type: InputReplay, Path: replayDir}, nil
	default:
		return InputConfig{Type: InputCamera, DeviceID: device}, nil
	}
}

// validateFile checks that the file exists and has a supported extension.
func validateFile(filePath string, supportedExtensions []string) error {
	if _, err := os.Stat(filePath); err != nil {
		return errors.Wrapf(err, "file %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, supportedExt := range supportedExtensions {
		if ext == supportedExt {
			return nil
		}
	}
	return errors.Wrapf(errUsage, "unsupported file extension %q, supported: %v", ext, supportedExtensions)
}

// openProducer opens the frame producer described by in.
func openProducer(in InputConfig) (framebuffer.Producer, error) {
	switch in.Type {
	case InputVideo:
		return framebuffer.OpenCapture(in.Path)
	case InputReplay:
		r, err := framebuffer.NewReplay(in.Path, in.Interval, in.Loop)
		if err != nil {
			return nil, err
		}
		monitoring.L().Info("replay loaded", "dir", in.Path, "frames", r.Len())
		return r, nil
	default:
		return framebuffer.OpenCapture(strconv.Itoa(in.DeviceID))
	}
}
