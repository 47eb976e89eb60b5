package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

type Config struct {
	FFmpegPath   string // empty = look up "ffmpeg" on PATH
	FFprobePath  string // empty = look up "ffprobe" on PATH
	Codec        string // encoder for clips, e.g. libx264
	PixFmt       string // output pixel format
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		Codec:        "libx264",
		PixFmt:       "yuv420p",
		ProbeTimeout: 30 * time.Second,
		Logger:       logger,
	}
}

// FFmpeg opens frame sources and sinks backed by subprocesses.
type FFmpeg struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

func New(cfg Config) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	if cfg.Codec == "" {
		cfg.Codec = "libx264"
	}
	if cfg.PixFmt == "" {
		cfg.PixFmt = "yuv420p"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}

	cfg.Logger.Info("media backend initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe, "codec", cfg.Codec)
	return &FFmpeg{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// OpenSource probes path and returns a source positioned at frame 0.
func (m *FFmpeg) OpenSource(ctx context.Context, path string) (FrameSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	info, err := m.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream in %s", m.safePath(path))
	}
	return &ffmpegSource{m: m, path: path, info: *info}, nil
}

// CreateSink starts an encoder writing to path at the geometry and rate of
// info.
func (m *FFmpeg) CreateSink(ctx context.Context, path string, info StreamInfo) (FrameSink, error) {
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, fmt.Errorf("invalid sink geometry %dx%d@%g", info.Width, info.Height, info.FPS)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}

	args := []string{
		"-v", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", formatRate(info.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", m.cfg.Codec,
		"-pix_fmt", m.cfg.PixFmt,
		path,
	}
	cmd := exec.CommandContext(ctx, m.ffmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stderr := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	m.cfg.Logger.Debug("encoder started", "output", m.safePath(path), "codec", m.cfg.Codec)

	return &ffmpegSink{m: m, path: path, info: info, cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

// decode starts a decoder emitting rgb24 frames from frame n onward.
func (m *FFmpeg) decode(ctx context.Context, path string, n int) (*exec.Cmd, io.ReadCloser, *limitedWriter, error) {
	args := []string{"-v", "error", "-i", path, "-map", "0:v:0"}
	if n > 0 {
		args = append(args, "-vf", fmt.Sprintf("select=gte(n\\,%d)", n))
	}
	args = append(args, "-fps_mode", "passthrough", "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")

	cmd := exec.CommandContext(ctx, m.ffmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderr := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start decoder: %w", err)
	}
	return cmd, stdout, stderr, nil
}

func (m *FFmpeg) safePath(path string) string {
	if m.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string { return lw.w.String() }
