package media

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFrameAt(t *testing.T) {
	tests := []struct {
		timeMs int64
		fps    float64
		want   int
	}{
		{0, 30, 0},
		{1000, 30, 30},
		{1500, 29.97, 44},
		{333, 30, 9},
		{-5, 30, 0},
		{1000, 0, 0},
	}
	for _, tt := range tests {
		if got := FrameAt(tt.timeMs, tt.fps); got != tt.want {
			t.Errorf("FrameAt(%d, %g) = %d, want %d", tt.timeMs, tt.fps, got, tt.want)
		}
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{"streams":[{"width":640,"height":360,"r_frame_rate":"30/1","avg_frame_rate":"30/1","nb_frames":"120","duration":"4.000000"}],"format":{"duration":"4.021"}}`)
	info, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe error = %v", err)
	}
	if info.Width != 640 || info.Height != 360 || info.FPS != 30 || info.Frames != 120 {
		t.Errorf("parseProbe() = %+v", info)
	}
	if info.Duration != 4*time.Second {
		t.Errorf("Duration = %v, want 4s", info.Duration)
	}
	if info.FrameSize() != 640*360*3 {
		t.Errorf("FrameSize() = %d", info.FrameSize())
	}
}

func TestParseProbe_EstimatesFramesFromDuration(t *testing.T) {
	data := []byte(`{"streams":[{"width":320,"height":240,"r_frame_rate":"25/1","avg_frame_rate":"0/0","nb_frames":"N/A"}],"format":{"duration":"2.0"}}`)
	info, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe error = %v", err)
	}
	if info.FPS != 25 || info.Frames != 50 {
		t.Errorf("parseProbe() = %+v, want fps 25 and 50 frames", info)
	}
}

func TestParseProbe_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"no streams", `{"streams":[]}`},
		{"no rate", `{"streams":[{"width":1,"height":1,"r_frame_rate":"0/0","avg_frame_rate":"0/0"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseProbe([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseVersionLine(t *testing.T) {
	out := []byte("ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc\n")
	if got := parseVersionLine(out); got != "6.1.1-3ubuntu5" {
		t.Errorf("parseVersionLine() = %q", got)
	}
	if got := parseVersionLine(nil); got != "" {
		t.Errorf("parseVersionLine(nil) = %q, want empty", got)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if lw.String() != "hello" {
		t.Errorf("after short write got %q, want %q", lw.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got := lw.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestProcessError(t *testing.T) {
	err := &ProcessError{Binary: "ffmpeg", ExitCode: 1, StderrTail: "Invalid data found"}
	if got := err.Error(); got != "ffmpeg exited 1: Invalid data found" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ProcessError{Binary: "ffprobe", ExitCode: -1}).Error(); got != "ffprobe exited -1" {
		t.Errorf("Error() = %q", got)
	}
}

func TestResolveBinary_PreferredNotFound(t *testing.T) {
	if _, err := resolveBinary("/nonexistent/ffmpeg999", "ffmpeg"); err == nil {
		t.Fatal("expected error for nonexistent binary")
	}
}

func TestCachedDoctor_TTL(t *testing.T) {
	calls := 0
	fake := proberFunc(func(ctx context.Context) (*Capabilities, error) {
		calls++
		return &Capabilities{
			FFmpeg:   ToolInfo{Available: true, Version: "6.1"},
			FFprobe:  ToolInfo{Available: true, Version: "6.1"},
			ProbedAt: time.Now(),
		}, nil
	})

	doc := NewCachedDoctor(fake, nil)
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !caps1.CanExtract() {
		t.Error("expected CanExtract()=true")
	}

	caps2, _ := doc.Get(ctx)
	if caps2 != caps1 || calls != 1 {
		t.Errorf("expected cached result, calls = %d", calls)
	}

	time.Sleep(150 * time.Millisecond)
	doc.Get(ctx)
	if calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", calls)
	}

	doc.Invalidate()
	if doc.Peek() != nil {
		t.Error("Peek() after Invalidate should be nil")
	}
}

func TestSnapshotWriter(t *testing.T) {
	src := &stubSource{info: StreamInfo{Width: 2, Height: 1, FPS: 25, Frames: 10}}
	w := NewSnapshotWriter(openerFunc(func(ctx context.Context, path string) (FrameSource, error) {
		return src, nil
	}))

	dest := filepath.Join(t.TempDir(), "S1", "a_mp4_0_5.png")
	if err := w.Snapshot(context.Background(), "/v/a.mp4", 7, dest); err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if src.seeked != 7 || !src.closed {
		t.Errorf("source seeked=%d closed=%v", src.seeked, src.closed)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	r, g, b, a := img.At(1, 0).RGBA()
	if r>>8 != 10 || g>>8 != 11 || b>>8 != 12 || a>>8 != 0xff {
		t.Errorf("pixel (1,0) = %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestSnapshotWriter_ReadError(t *testing.T) {
	src := &stubSource{info: StreamInfo{Width: 2, Height: 1, FPS: 25}, err: ErrEndOfStream}
	w := NewSnapshotWriter(openerFunc(func(ctx context.Context, path string) (FrameSource, error) {
		return src, nil
	}))
	err := w.Snapshot(context.Background(), "/v/a.mp4", 99, filepath.Join(t.TempDir(), "x.png"))
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Snapshot error = %v, want ErrEndOfStream", err)
	}
}

type proberFunc func(ctx context.Context) (*Capabilities, error)

func (f proberFunc) RunDoctor(ctx context.Context) (*Capabilities, error) { return f(ctx) }

type openerFunc func(ctx context.Context, path string) (FrameSource, error)

func (f openerFunc) OpenSource(ctx context.Context, path string) (FrameSource, error) {
	return f(ctx, path)
}

// stubSource yields frames whose pixel bytes are the frame index plus the
// byte offset.
type stubSource struct {
	info   StreamInfo
	seeked int
	next   int
	closed bool
	err    error
}

func (s *stubSource) Info() StreamInfo { return s.info }
func (s *stubSource) FrameCount() int  { return s.info.Frames }

func (s *stubSource) Seek(ctx context.Context, n int) error {
	s.seeked, s.next = n, n
	return nil
}

func (s *stubSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	pix := make([]byte, s.info.FrameSize())
	for i := range pix {
		pix[i] = byte(s.next + i)
	}
	f := &Frame{Index: s.next, Width: s.info.Width, Height: s.info.Height, Pix: pix}
	s.next++
	return f, nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}
