// Package media decodes and encodes raw video frames through ffmpeg and
// ffprobe subprocesses.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEndOfStream is returned by ReadFrame when the source has no more frames.
var ErrEndOfStream = errors.New("end of stream")

// StreamInfo describes the first video stream of a file.
type StreamInfo struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
	// Frames is the container's frame count estimate; 0 when unknown.
	Frames   int           `json:"frames"`
	Duration time.Duration `json:"duration"`
}

// FrameSize is the byte length of one rgb24 frame.
func (s StreamInfo) FrameSize() int { return s.Width * s.Height * 3 }

// Frame is one decoded picture in packed rgb24.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// FrameSource reads decoded frames sequentially from a video.
type FrameSource interface {
	Info() StreamInfo
	// FrameCount returns the reported number of frames, 0 when unknown.
	FrameCount() int
	// Seek positions the source so the next ReadFrame returns frame n.
	Seek(ctx context.Context, n int) error
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// FrameSink encodes frames into a new video file.
type FrameSink interface {
	WriteFrame(f *Frame) error
	// Close finalizes the file. It must be called even after a write error.
	Close() error
}

type SourceOpener interface {
	OpenSource(ctx context.Context, path string) (FrameSource, error)
}

type SinkFactory interface {
	CreateSink(ctx context.Context, path string, info StreamInfo) (FrameSink, error)
}

// ProcessError reports a non-zero exit of an ffmpeg or ffprobe process.
type ProcessError struct {
	Binary     string
	ExitCode   int
	StderrTail string
}

func (e *ProcessError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("%s exited %d", e.Binary, e.ExitCode)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Binary, e.ExitCode, truncate(e.StderrTail, 512))
}

// FrameAt converts a playback clock to a frame index, truncating toward
// zero.
func FrameAt(timeMs int64, fps float64) int {
	if timeMs <= 0 || fps <= 0 {
		return 0
	}
	return int(float64(timeMs) / 1000 * fps)
}
