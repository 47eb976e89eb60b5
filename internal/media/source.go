package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

type ffmpegSource struct {
	m    *FFmpeg
	path string
	info StreamInfo

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedWriter
	next   int
	eof    bool
}

func (s *ffmpegSource) Info() StreamInfo { return s.info }

func (s *ffmpegSource) FrameCount() int { return s.info.Frames }

// Seek restarts the decoder so that frame n is the next one read.
func (s *ffmpegSource) Seek(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("seek to negative frame %d", n)
	}
	s.stop()

	cmd, stdout, stderr, err := s.m.decode(ctx, s.path, n)
	if err != nil {
		return err
	}
	s.cmd, s.stdout, s.stderr, s.next = cmd, stdout, stderr, n
	s.eof = false
	return nil
}

func (s *ffmpegSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.eof {
		return nil, ErrEndOfStream
	}
	if s.cmd == nil {
		if err := s.Seek(ctx, 0); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, s.info.FrameSize())
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			werr := s.cmd.Wait()
			tail := s.stderr.String()
			s.cmd = nil
			s.eof = true
			if werr != nil {
				return nil, &ProcessError{Binary: "ffmpeg", ExitCode: exitCode(werr), StderrTail: tail}
			}
			return nil, ErrEndOfStream
		}
		return nil, err
	}

	f := &Frame{Index: s.next, Width: s.info.Width, Height: s.info.Height, Pix: buf}
	s.next++
	return f, nil
}

func (s *ffmpegSource) Close() error {
	s.stop()
	return nil
}

func (s *ffmpegSource) stop() {
	if s.cmd == nil {
		return
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdout.Close()
	_ = s.cmd.Wait()
	s.cmd = nil
}
