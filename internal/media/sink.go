package media

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/dustin/go-humanize"
)

type ffmpegSink struct {
	m      *FFmpeg
	path   string
	info   StreamInfo
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *limitedWriter

	written int
	closed  bool
}

func (s *ffmpegSink) WriteFrame(f *Frame) error {
	if s.closed {
		return fmt.Errorf("write to closed sink %s", s.path)
	}
	if f.Width != s.info.Width || f.Height != s.info.Height || len(f.Pix) != s.info.FrameSize() {
		return fmt.Errorf("frame %d is %dx%d (%d bytes), sink expects %dx%d",
			f.Index, f.Width, f.Height, len(f.Pix), s.info.Width, s.info.Height)
	}
	if _, err := s.stdin.Write(f.Pix); err != nil {
		return fmt.Errorf("encoder rejected frame %d: %w", f.Index, err)
	}
	s.written++
	return nil
}

// Close flushes the encoder and waits for the file to be finalized.
func (s *ffmpegSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stdin.Close()

	if err := s.cmd.Wait(); err != nil {
		return &ProcessError{Binary: "ffmpeg", ExitCode: exitCode(err), StderrTail: s.stderr.String()}
	}

	var size string
	if st, err := os.Stat(s.path); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	s.m.cfg.Logger.Info("clip written", "output", s.m.safePath(s.path), "frames", s.written, "size", size)
	return nil
}
